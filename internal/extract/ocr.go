package extract

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine runs OCR with a bounded pool of gosseract clients.
// Client construction is expensive, so clients are built once and reused.
type TesseractEngine struct {
	pool chan *gosseract.Client
}

func NewTesseractEngine(language string, poolSize int) (*TesseractEngine, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	pool := make(chan *gosseract.Client, poolSize)
	for i := 0; i < poolSize; i++ {
		client := gosseract.NewClient()
		if err := client.SetLanguage(language); err != nil {
			client.Close()
			for len(pool) > 0 {
				(<-pool).Close()
			}
			return nil, fmt.Errorf("set ocr language %q: %w", language, err)
		}
		pool <- client
	}
	return &TesseractEngine{pool: pool}, nil
}

// Recognize implements Engine. Confidence is the mean word confidence
// from tesseract's bounding boxes, scaled to 0..1.
func (t *TesseractEngine) Recognize(ctx context.Context, imagePath string) (string, float64, error) {
	var client *gosseract.Client
	select {
	case client = <-t.pool:
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}
	defer func() { t.pool <- client }()

	if err := client.SetImage(imagePath); err != nil {
		return "", 0, fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return "", 0, fmt.Errorf("recognize: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return text, 0, nil
	}
	var sum float64
	for _, box := range boxes {
		sum += box.Confidence
	}
	return text, sum / float64(len(boxes)) / 100.0, nil
}

func (t *TesseractEngine) Close() error {
	var firstErr error
	for len(t.pool) > 0 {
		if err := (<-t.pool).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PopplerRenderer rasterizes PDF pages with pdftoppm.
type PopplerRenderer struct{}

func NewPopplerRenderer() *PopplerRenderer {
	return &PopplerRenderer{}
}

// RenderPages implements Renderer. pdftoppm zero-pads page numbers, so a
// lexical sort restores page order.
func (r *PopplerRenderer) RenderPages(ctx context.Context, pdfPath, outDir string, dpi int) ([]string, error) {
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-r", strconv.Itoa(dpi),
		"-png",
		pdfPath,
		filepath.Join(outDir, "page"),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, out)
	}

	images, err := filepath.Glob(filepath.Join(outDir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	sort.Strings(images)
	return images, nil
}
