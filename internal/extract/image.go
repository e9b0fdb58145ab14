package extract

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"github.com/harleven/casedocs/internal/models"
)

// minOCRWidth is the width below which scans are upscaled before OCR.
// Tesseract accuracy drops sharply on low-resolution input.
const minOCRWidth = 1000

// extractImage preprocesses a scanned image and recognizes it as a
// single page.
func (e *Extractor) extractImage(ctx context.Context, path string) (*Result, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	prepared := preprocess(img)

	tmpDir, err := os.MkdirTemp("", "ocr-image-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	preparedPath := filepath.Join(tmpDir, "page.png")
	if err := imaging.Save(prepared, preparedPath); err != nil {
		return nil, fmt.Errorf("save preprocessed image: %w", err)
	}

	text, conf, err := e.engine.Recognize(ctx, preparedPath)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	return &Result{
		Text:          text,
		Method:        models.MethodOCR,
		PageCount:     1,
		AvgConfidence: conf,
	}, nil
}

// preprocess normalizes a scan for OCR: grayscale, then upscale when the
// source resolution is too low.
func preprocess(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	if w := out.Bounds().Dx(); w > 0 && w < minOCRWidth {
		out = imaging.Resize(out, minOCRWidth, 0, imaging.Lanczos)
	}
	return out
}
