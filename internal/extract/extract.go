// Package extract turns stored document files into text, through the PDF
// text layer where one exists and through OCR otherwise.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
	"github.com/harleven/casedocs/pkg/logger"
)

// Result is the outcome of one extraction run.
type Result struct {
	Text          string
	Method        models.ExtractionMethod
	PageCount     int
	AvgConfidence float64
	PageErrors    []string
}

// Engine recognizes text in a single page image.
type Engine interface {
	Recognize(ctx context.Context, imagePath string) (text string, confidence float64, err error)
}

// Renderer rasterizes PDF pages into image files under outDir.
type Renderer interface {
	RenderPages(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error)
}

// Extractor dispatches by mime type. Exactly one of the text-layer and
// OCR paths runs for any given PDF.
type Extractor struct {
	engine     Engine
	renderer   Renderer
	minTextLen int
	dpi        int
	logger     logger.Logger
}

func New(engine Engine, renderer Renderer, minTextLen, dpi int, log logger.Logger) *Extractor {
	return &Extractor{
		engine:     engine,
		renderer:   renderer,
		minTextLen: minTextLen,
		dpi:        dpi,
		logger:     log,
	}
}

// PageMarker is the delimiter inserted between pages of extracted text.
func PageMarker(page int) string {
	return fmt.Sprintf("--- Page %d ---", page)
}

// Extract reads the file at path and produces its text.
func (e *Extractor) Extract(ctx context.Context, path, mimeType string) (*Result, error) {
	var (
		result *Result
		err    error
	)
	switch {
	case mimeType == "text/plain":
		result, err = e.extractPlainText(path)
	case mimeType == "application/pdf":
		result, err = e.extractPDF(ctx, path)
	case strings.HasPrefix(mimeType, "image/"):
		result, err = e.extractImage(ctx, path)
	default:
		return nil, errs.NewExtractionError(fmt.Errorf("unsupported mime type: %s", mimeType))
	}
	if err != nil {
		var se *errs.StageError
		if errors.As(err, &se) {
			return nil, err
		}
		return nil, errs.NewExtractionError(err)
	}

	if strings.TrimSpace(result.Text) == "" {
		return nil, errs.NewExtractionError(errors.New("no text could be extracted"))
	}
	return result, nil
}

func (e *Extractor) extractPlainText(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return &Result{
		Text:          string(data),
		Method:        models.MethodText,
		PageCount:     1,
		AvgConfidence: 1.0,
	}, nil
}
