package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/marksheet-extractor/internal/evidence"
)

// TesseractConfig configures the Tesseract recognizer.
type TesseractConfig struct {
	// TessdataPrefix overrides the trained data directory when set.
	TessdataPrefix string
	// Languages are Tesseract language codes, "eng" by default.
	Languages []string
	// DPI used to render PDF pages.
	DPI float64
}

// Tesseract recognizes text with gosseract. One instance is built at
// startup and shared; each call uses its own client since gosseract clients
// are not safe for concurrent use.
type Tesseract struct {
	cfg           TesseractConfig
	clientFactory func() *gosseract.Client
}

// NewTesseract creates a Tesseract recognizer.
func NewTesseract(cfg TesseractConfig) *Tesseract {
	if len(cfg.Languages) == 0 {
		cfg.Languages = []string{"eng"}
	}
	if cfg.DPI <= 0 {
		cfg.DPI = DefaultPDFDPI
	}
	return &Tesseract{cfg: cfg, clientFactory: gosseract.NewClient}
}

// Recognize runs OCR over every page of the document.
func (t *Tesseract) Recognize(ctx context.Context, data []byte, filename string) ([]evidence.Block, error) {
	pages, err := rasterize(data, filename, t.cfg.DPI)
	if err != nil {
		return nil, fmt.Errorf("preparing document: %w", err)
	}

	var blocks []evidence.Block
	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageBlocks, err := t.recognizePage(p)
		if err != nil {
			return nil, fmt.Errorf("recognizing page %d: %w", p.index+1, err)
		}
		slog.Debug("Recognized page", "filename", filename, "page", p.index+1, "blocks", len(pageBlocks))
		blocks = append(blocks, pageBlocks...)
	}
	return blocks, nil
}

func (t *Tesseract) recognizePage(p page) ([]evidence.Block, error) {
	client := t.clientFactory()
	defer client.Close()

	if t.cfg.TessdataPrefix != "" {
		client.SetTessdataPrefix(t.cfg.TessdataPrefix)
	}
	if err := client.SetLanguage(t.cfg.Languages...); err != nil {
		return nil, fmt.Errorf("setting language: %w", err)
	}
	if err := client.SetImageFromBytes(p.png); err != nil {
		return nil, fmt.Errorf("setting image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("reading text lines: %w", err)
	}
	return blocksFromBoxes(boxes), nil
}

// blocksFromBoxes converts Tesseract text lines to evidence blocks, dropping
// empty lines and scaling confidence from 0-100 to 0-1.
func blocksFromBoxes(boxes []gosseract.BoundingBox) []evidence.Block {
	blocks := make([]evidence.Block, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		box := evidence.Box{b.Box.Min.X, b.Box.Min.Y, b.Box.Max.X, b.Box.Max.Y}
		blocks = append(blocks, evidence.Block{
			Text:       text,
			Confidence: b.Confidence / 100.0,
			BBox:       &box,
		})
	}
	return blocks
}
