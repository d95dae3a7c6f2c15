// Package fileops provides the file-copy and filename-sanitization
// primitives shared by every preprocessor.
package fileops

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"
)

// CopyFile streams src to dst using io.Copy with default permissions.
func CopyFile(src, dst string) error {
	return CopyFileMode(src, dst, 0o644)
}

// CopyFileMode streams src to dst, setting the given file mode on dst.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// CopyFileVerified streams src to dst with SHA-256 + size integrity
// verification, removing dst on mismatch. Used for the parallel copy
// stage where a corrupted copy must never be mistaken for canonical.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	srcHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)

	written, err := io.Copy(out, tee)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	dstHasher := sha256.New()
	copied, err := os.Open(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(dstHasher, copied)
	_ = copied.Close()
	if err != nil {
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}
	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}
	return nil
}

// maxFilenameLength caps sanitized filenames, matching the original's
// defensive limit for filesystems with short name-length ceilings.
const maxFilenameLength = 255

// SafeFilename replaces each run of characters outside [a-zA-Z0-9_-]
// with a single '_', trims leading and trailing '_', falls back to
// "unnamed" when nothing is left, and caps the result at 255 bytes. Used uniformly by
// every preprocessor's output naming and by the failure tracker's
// orphaned-metadata filenames.
func SafeFilename(name string) string {
	var b strings.Builder
	lastWasSep := false
	for _, r := range name {
		safe := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-'
		if safe {
			b.WriteRune(r)
			lastWasSep = false
			continue
		}
		if !lastWasSep {
			b.WriteByte('_')
			lastWasSep = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		out = "unnamed"
	}
	if len(out) > maxFilenameLength {
		out = out[:maxFilenameLength]
	}
	return out
}
