package overlay

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

// CompositeImage alpha-composites overlayPath onto basePath and writes
// the result to outputPath. The overlay is resized to the base's
// dimensions with Lanczos resampling when they differ. JPEG outputs are
// flattened onto a white background first since JPEG has no alpha
// channel. Failures (missing or corrupted overlay) return an error and
// leave no partial output.
func CompositeImage(basePath, overlayPath, outputPath string, jpegQuality int) error {
	base, err := imaging.Open(basePath)
	if err != nil {
		return fmt.Errorf("overlay: open base image: %w", err)
	}
	overlayImg, err := imaging.Open(overlayPath)
	if err != nil {
		return fmt.Errorf("overlay: open overlay image: %w", err)
	}

	baseBounds := base.Bounds()
	if overlayImg.Bounds().Dx() != baseBounds.Dx() || overlayImg.Bounds().Dy() != baseBounds.Dy() {
		overlayImg = imaging.Resize(overlayImg, baseBounds.Dx(), baseBounds.Dy(), imaging.Lanczos)
	}

	composited := imaging.Overlay(base, overlayImg, image.Pt(0, 0), 1.0)

	if isJPEGPath(outputPath) {
		canvas := imaging.New(baseBounds.Dx(), baseBounds.Dy(), color.White)
		composited = imaging.Overlay(canvas, composited, image.Pt(0, 0), 1.0)
		return imaging.Save(composited, outputPath, imaging.JPEGQuality(jpegQuality))
	}
	return imaging.Save(composited, outputPath)
}

func isJPEGPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg")
}
