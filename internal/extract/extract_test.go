package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/harleven/casedocs/internal/errs"
	"github.com/harleven/casedocs/internal/models"
	"github.com/harleven/casedocs/pkg/logger"
)

// fakeEngine returns canned text per image path basename.
type fakeEngine struct {
	texts map[string]string
	confs map[string]float64
	fail  map[string]error
}

func (e *fakeEngine) Recognize(ctx context.Context, imagePath string) (string, float64, error) {
	name := filepath.Base(imagePath)
	if err, ok := e.fail[name]; ok {
		return "", 0, err
	}
	if text, ok := e.texts[name]; ok {
		return text, e.confs[name], nil
	}
	return "default recognized text", 0.9, nil
}

// fakeRenderer writes n empty page files into outDir.
type fakeRenderer struct {
	pages int
	err   error
}

func (r *fakeRenderer) RenderPages(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []string
	for i := 1; i <= r.pages; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("page-%02d.png", i))
		if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
			return nil, err
		}
		out = append(out, path)
	}
	return out, nil
}

func newTestExtractor(engine Engine, renderer Renderer) *Extractor {
	return New(engine, renderer, 50, 300, logger.NewTestLogger())
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestExtract_PlainText(t *testing.T) {
	path := writeTempFile(t, "letter.txt", "Dear Sir,\n\nWe write further to our previous correspondence.")
	e := newTestExtractor(&fakeEngine{}, &fakeRenderer{})

	res, err := e.Extract(context.Background(), path, "text/plain")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Method != models.MethodText {
		t.Errorf("Method = %q, want %q", res.Method, models.MethodText)
	}
	if res.PageCount != 1 {
		t.Errorf("PageCount = %d, want 1", res.PageCount)
	}
	if res.AvgConfidence != 1.0 {
		t.Errorf("AvgConfidence = %f, want 1.0", res.AvgConfidence)
	}
	if !strings.Contains(res.Text, "previous correspondence") {
		t.Errorf("Text = %q, missing body", res.Text)
	}
}

func TestExtract_UnsupportedMime(t *testing.T) {
	e := newTestExtractor(&fakeEngine{}, &fakeRenderer{})
	_, err := e.Extract(context.Background(), "irrelevant", "application/zip")
	if err == nil {
		t.Fatal("expected error for unsupported mime type")
	}
	var se *errs.StageError
	if !errors.As(err, &se) || se.Stage != "extraction" {
		t.Errorf("error = %v, want extraction stage error", err)
	}
}

func TestExtract_EmptyTextRejected(t *testing.T) {
	path := writeTempFile(t, "blank.txt", "   \n\t ")
	e := newTestExtractor(&fakeEngine{}, &fakeRenderer{})
	if _, err := e.Extract(context.Background(), path, "text/plain"); err == nil {
		t.Fatal("expected error for blank document")
	}
}

func TestOCRPDF_MultiPage(t *testing.T) {
	engine := &fakeEngine{
		texts: map[string]string{
			"page-01.png": "First page body.",
			"page-02.png": "Second page body.",
			"page-03.png": "Third page body.",
		},
		confs: map[string]float64{
			"page-01.png": 0.90,
			"page-02.png": 0.80,
			"page-03.png": 0.70,
		},
	}
	e := newTestExtractor(engine, &fakeRenderer{pages: 3})

	res, err := e.ocrPDF(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatalf("ocrPDF() error = %v", err)
	}
	if res.Method != models.MethodOCR {
		t.Errorf("Method = %q, want %q", res.Method, models.MethodOCR)
	}
	if res.PageCount != 3 {
		t.Errorf("PageCount = %d, want 3", res.PageCount)
	}
	if math.Abs(res.AvgConfidence-0.80) > 1e-9 {
		t.Errorf("AvgConfidence = %f, want 0.80", res.AvgConfidence)
	}

	for page := 1; page <= 3; page++ {
		if !strings.Contains(res.Text, PageMarker(page)) {
			t.Errorf("Text missing marker for page %d", page)
		}
	}
	if strings.Index(res.Text, "First page") > strings.Index(res.Text, "Second page") {
		t.Error("pages out of order")
	}
}

func TestOCRPDF_PageFailureNonFatal(t *testing.T) {
	engine := &fakeEngine{
		texts: map[string]string{
			"page-01.png": "Readable page.",
			"page-03.png": "Also readable.",
		},
		confs: map[string]float64{
			"page-01.png": 0.9,
			"page-03.png": 0.9,
		},
		fail: map[string]error{
			"page-02.png": errors.New("tesseract crashed"),
		},
	}
	e := newTestExtractor(engine, &fakeRenderer{pages: 3})

	res, err := e.ocrPDF(context.Background(), "scan.pdf")
	if err != nil {
		t.Fatalf("ocrPDF() error = %v", err)
	}
	if len(res.PageErrors) != 1 || !strings.Contains(res.PageErrors[0], "page 2") {
		t.Errorf("PageErrors = %v, want one entry for page 2", res.PageErrors)
	}
	if strings.Contains(res.Text, PageMarker(2)) {
		t.Errorf("failed page should contribute no text: %q", res.Text)
	}
	if !strings.Contains(res.Text, "Readable page.") || !strings.Contains(res.Text, "Also readable.") {
		t.Errorf("surviving pages missing from %q", res.Text)
	}
	// Confidence averages over recognized pages only.
	if math.Abs(res.AvgConfidence-0.9) > 1e-9 {
		t.Errorf("AvgConfidence = %f, want 0.9", res.AvgConfidence)
	}
}

func TestOCRPDF_RendererFailure(t *testing.T) {
	e := newTestExtractor(&fakeEngine{}, &fakeRenderer{err: errors.New("pdftoppm not found")})
	if _, err := e.ocrPDF(context.Background(), "scan.pdf"); err == nil {
		t.Fatal("expected error when rendering fails")
	}
}

func TestOCRPDF_NoPages(t *testing.T) {
	e := newTestExtractor(&fakeEngine{}, &fakeRenderer{pages: 0})
	if _, err := e.ocrPDF(context.Background(), "scan.pdf"); err == nil {
		t.Fatal("expected error for zero rendered pages")
	}
}

func TestExtract_Image(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.White)
		}
	}
	path := filepath.Join(t.TempDir(), "scan.png")
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save test image: %v", err)
	}

	engine := &fakeEngine{
		texts: map[string]string{"page.png": "INVOICE\nTotal due: £42.00"},
		confs: map[string]float64{"page.png": 0.85},
	}
	e := newTestExtractor(engine, &fakeRenderer{})

	res, err := e.Extract(context.Background(), path, "image/png")
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if res.Method != models.MethodOCR {
		t.Errorf("Method = %q, want %q", res.Method, models.MethodOCR)
	}
	if res.PageCount != 1 {
		t.Errorf("PageCount = %d, want 1", res.PageCount)
	}
	if res.AvgConfidence != 0.85 {
		t.Errorf("AvgConfidence = %f, want 0.85", res.AvgConfidence)
	}
	if !strings.Contains(res.Text, "INVOICE") {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestPreprocess_UpscalesSmallImages(t *testing.T) {
	small := image.NewRGBA(image.Rect(0, 0, 400, 300))
	out := preprocess(small)
	if w := out.Bounds().Dx(); w != minOCRWidth {
		t.Errorf("upscaled width = %d, want %d", w, minOCRWidth)
	}

	large := image.NewRGBA(image.Rect(0, 0, 2000, 1500))
	out = preprocess(large)
	if w := out.Bounds().Dx(); w != 2000 {
		t.Errorf("large image resized to %d, want untouched 2000", w)
	}
}

func TestJoinPages(t *testing.T) {
	tests := []struct {
		name  string
		pages []string
		want  string
	}{
		{
			name:  "two pages",
			pages: []string{"first", "second"},
			want:  "--- Page 1 ---\nfirst\n\n--- Page 2 ---\nsecond",
		},
		{
			name:  "blank page skipped, numbering kept",
			pages: []string{"first", "   ", "third"},
			want:  "--- Page 1 ---\nfirst\n\n--- Page 3 ---\nthird",
		},
		{
			name:  "all blank",
			pages: []string{"", "  "},
			want:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinPages(tt.pages); got != tt.want {
				t.Errorf("joinPages() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPageMarker(t *testing.T) {
	if got := PageMarker(7); got != "--- Page 7 ---" {
		t.Errorf("PageMarker(7) = %q", got)
	}
}
