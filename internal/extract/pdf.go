package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/harleven/casedocs/internal/models"
	"github.com/harleven/casedocs/pkg/logger"
)

const maxPageWorkers = 4

// extractPDF tries the embedded text layer first. Scanned PDFs have no
// usable layer and fall through to OCR.
func (e *Extractor) extractPDF(ctx context.Context, path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	pages, err := e.textLayerPages(ctx, content)
	if err != nil {
		e.logger.Warn("PDF text layer unreadable, falling back to OCR",
			logger.String("path", path),
			logger.Error(err),
		)
		return e.ocrPDF(ctx, path)
	}

	var total int
	for _, p := range pages {
		total += len(strings.TrimSpace(p))
	}
	if total < e.minTextLen {
		e.logger.Info("PDF text layer too sparse, falling back to OCR",
			logger.String("path", path),
			logger.Int("chars", total),
			logger.Int("pages", len(pages)),
		)
		return e.ocrPDF(ctx, path)
	}

	return &Result{
		Text:          joinPages(pages),
		Method:        models.MethodText,
		PageCount:     len(pages),
		AvgConfidence: 1.0,
	}, nil
}

// textLayerPages reads every page's text layer concurrently. Page order
// is preserved by slot index.
func (e *Extractor) textLayerPages(ctx context.Context, content []byte) ([]string, error) {
	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	numPages := pdfReader.NumPage()
	if numPages == 0 {
		return nil, fmt.Errorf("pdf has no pages")
	}

	pages := make([]string, numPages)
	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxPageWorkers)

	for i := 1; i <= numPages; i++ {
		pageNum := i
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			page := pdfReader.Page(pageNum)
			if page.V.IsNull() {
				return nil
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				return fmt.Errorf("page %d: %w", pageNum, err)
			}
			pages[pageNum-1] = text
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// ocrPDF rasterizes every page and recognizes each image. Individual page
// failures are recorded, not fatal.
func (e *Extractor) ocrPDF(ctx context.Context, path string) (*Result, error) {
	outDir, err := os.MkdirTemp("", "ocr-pages-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	images, err := e.renderer.RenderPages(ctx, path, outDir, e.dpi)
	if err != nil {
		return nil, fmt.Errorf("render pages: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no pages rendered")
	}

	pages := make([]string, len(images))
	confs := make([]float64, len(images))

	var mu sync.Mutex
	var pageErrors []string

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, maxPageWorkers)

	for i, img := range images {
		idx, imgPath := i, img
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			text, conf, err := e.engine.Recognize(ctx, imgPath)
			if err != nil {
				mu.Lock()
				pageErrors = append(pageErrors, fmt.Sprintf("page %d: %v", idx+1, err))
				mu.Unlock()
				e.logger.Warn("OCR failed for page",
					logger.Int("page", idx+1),
					logger.Error(err),
				)
				return nil
			}
			pages[idx] = text
			confs[idx] = conf
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var confSum float64
	var recognized int
	for i, p := range pages {
		if strings.TrimSpace(p) != "" {
			confSum += confs[i]
			recognized++
		}
	}

	avg := 0.0
	if recognized > 0 {
		avg = confSum / float64(recognized)
	}

	return &Result{
		Text:          joinPages(pages),
		Method:        models.MethodOCR,
		PageCount:     len(images),
		AvgConfidence: avg,
		PageErrors:    pageErrors,
	}, nil
}

// joinPages interleaves page markers with page text so downstream stages
// can attribute chunks to pages.
func joinPages(pages []string) string {
	var b strings.Builder
	for i, p := range pages {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(PageMarker(i + 1))
		b.WriteString("\n")
		b.WriteString(p)
	}
	return b.String()
}
