// Package filetype infers a file's real media type from its magic bytes
// and reconciles that with the extension a source export declared for it.
package filetype

import (
	"bytes"
	"os"
	"strings"

	goTypes "github.com/h2non/filetype/types"

	"github.com/h2non/filetype"
)

// Category is the top-level classification of a media type.
type Category string

const (
	CategoryImage   Category = "image"
	CategoryVideo   Category = "video"
	CategoryAudio   Category = "audio"
	CategoryUnknown Category = "unknown"
)

// Result is the outcome of inferring a file's type.
type Result struct {
	MIME      string
	Extension string
	Category  Category
	// Corrected is true when Extension differs from the declared
	// filename's extension and the correction was accepted.
	Corrected bool
}

// headSize is the number of leading bytes read for magic-byte sniffing.
const headSize = 32 * 1024

// signatureHeadSize is the window scanned by the hand-coded fallback
// table; EBML containers require scanning further than the typical
// magic-number prefix to distinguish WebM from MKV.
const signatureHeadSize = 4096

// Infer detects path's real media type and reconciles it with
// declaredFilename's extension. When allowCrossCategory is false, a
// correction is suppressed whenever the declared and inferred extensions
// fall into different top-level categories.
func Infer(path, declaredFilename string, allowCrossCategory bool) (Result, error) {
	declaredExt := strings.ToLower(strings.TrimPrefix(extOf(declaredFilename), "."))
	declaredCategory := categoryForExtension(declaredExt)

	head, err := readHead(path, headSize)
	if err != nil {
		// Permission denied, file too short for os.Open to matter, etc:
		// retain the declared extension per the inference-failure
		// fallback policy.
		return Result{MIME: "", Extension: declaredExt, Category: declaredCategory}, nil
	}

	if kind, err := filetype.Match(head); err == nil && kind != filetype.Unknown {
		return reconcile(kind.MIME.Value, kind.Extension, categoryFromMIMEType(kind), declaredExt, declaredCategory, allowCrossCategory), nil
	}

	// Magic database returned no MIME (short file, unrecognized
	// container): fall back to the hand-coded signature table before
	// giving up and retaining the declared extension.
	if mime, ext, cat, ok := sniffSignature(path, head); ok {
		return reconcile(mime, ext, cat, declaredExt, declaredCategory, allowCrossCategory), nil
	}

	return Result{MIME: "", Extension: declaredExt, Category: declaredCategory}, nil
}

func reconcile(inferredMIME, inferredExt string, inferredCategory Category, declaredExt string, declaredCategory Category, allowCrossCategory bool) Result {
	if inferredExt == declaredExt {
		return Result{MIME: inferredMIME, Extension: declaredExt, Category: inferredCategory}
	}
	if !allowCrossCategory && declaredCategory != CategoryUnknown && inferredCategory != declaredCategory {
		// Suppress the correction: prevents spurious image->video
		// reclassification on libraries whose magic database
		// misreports short or truncated files.
		return Result{MIME: inferredMIME, Extension: declaredExt, Category: declaredCategory}
	}
	return Result{MIME: inferredMIME, Extension: inferredExt, Category: inferredCategory, Corrected: true}
}

func categoryFromMIMEType(kind goTypes.Type) Category {
	switch kind.MIME.Type {
	case "image":
		return CategoryImage
	case "video":
		return CategoryVideo
	case "audio":
		return CategoryAudio
	default:
		return CategoryUnknown
	}
}

var extensionCategories = map[string]Category{
	"jpg": CategoryImage, "jpeg": CategoryImage, "png": CategoryImage,
	"gif": CategoryImage, "webp": CategoryImage, "heic": CategoryImage,
	"heif": CategoryImage, "bmp": CategoryImage, "tiff": CategoryImage, "tif": CategoryImage,
	"mp4": CategoryVideo, "mov": CategoryVideo, "mkv": CategoryVideo,
	"webm": CategoryVideo, "avi": CategoryVideo, "m4v": CategoryVideo,
	"mp3": CategoryAudio, "m4a": CategoryAudio, "wav": CategoryAudio,
	"ogg": CategoryAudio, "flac": CategoryAudio, "aac": CategoryAudio,
}

func categoryForExtension(ext string) Category {
	if cat, ok := extensionCategories[ext]; ok {
		return cat
	}
	return CategoryUnknown
}

func extOf(filename string) string {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 {
		return ""
	}
	return filename[idx:]
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, n)
	read, err := f.Read(buf)
	if read == 0 && err != nil {
		return nil, err
	}
	return buf[:read], nil
}

// sniffSignature applies the hand-coded fallback signature table:
// JPEG, PNG, GIF, WebP, EBML (distinguishing WebM vs MKV by the
// presence of the ASCII "webm" string within the scanned window), MP4
// via the ftyp atom, and MOV via the moov/mdat atom.
func sniffSignature(path string, head []byte) (mime, ext string, category Category, ok bool) {
	switch {
	case bytes.HasPrefix(head, []byte{0xFF, 0xD8, 0xFF}):
		return "image/jpeg", "jpg", CategoryImage, true
	case bytes.HasPrefix(head, []byte{0x89, 'P', 'N', 'G'}):
		return "image/png", "png", CategoryImage, true
	case bytes.HasPrefix(head, []byte("GIF87a")) || bytes.HasPrefix(head, []byte("GIF89a")):
		return "image/gif", "gif", CategoryImage, true
	case len(head) >= 12 && bytes.Equal(head[0:4], []byte("RIFF")) && bytes.Equal(head[8:12], []byte("WEBP")):
		return "image/webp", "webp", CategoryImage, true
	case bytes.HasPrefix(head, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return sniffEBML(path)
	case len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")):
		return "video/mp4", "mp4", CategoryVideo, true
	case bytes.Contains(head, []byte("moov")) || bytes.Contains(head, []byte("mdat")):
		return "video/quicktime", "mov", CategoryVideo, true
	default:
		return "", "", CategoryUnknown, false
	}
}

// sniffEBML distinguishes WebM from Matroska by scanning the next 4 KiB
// of the container for the ASCII "webm" doctype string.
func sniffEBML(path string) (mime, ext string, category Category, ok bool) {
	window, err := readHead(path, signatureHeadSize)
	if err != nil {
		return "video/x-matroska", "mkv", CategoryVideo, true
	}
	if bytes.Contains(window, []byte("webm")) {
		return "video/webm", "webm", CategoryVideo, true
	}
	return "video/x-matroska", "mkv", CategoryVideo, true
}
