//go:build cgo && !notesseract

package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/jo-hoe/cardscan/internal/backend/ocr"
	"github.com/otiai10/gosseract/v2"
)

// Available reports whether the engine was compiled against libtesseract.
const Available = true

// Engine recognizes text with a fresh gosseract client per call.
type Engine struct {
	clientFactory func() *gosseract.Client
	pageSegMode   gosseract.PageSegMode
}

// New constructs a tesseract engine. A zero pageSegMode keeps the library default.
func New(pageSegMode int) *Engine {
	return &Engine{
		clientFactory: gosseract.NewClient,
		pageSegMode:   gosseract.PageSegMode(pageSegMode),
	}
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Recognition{}, err
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(in.Image); err != nil {
		return ocr.Recognition{}, fmt.Errorf("set image: %w", err)
	}
	if len(in.Languages) > 0 {
		if err := c.SetLanguage(in.Languages...); err != nil {
			return ocr.Recognition{}, fmt.Errorf("set languages: %w", err)
		}
	}
	if e.pageSegMode > 0 {
		if err := c.SetPageSegMode(e.pageSegMode); err != nil {
			return ocr.Recognition{}, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("recognize text: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		boxes = nil
	}

	return ocr.Recognition{
		Text:       strings.TrimSpace(text),
		Confidence: meanConfidence(boxes),
	}, nil
}

// meanConfidence averages the per-word confidence reported by tesseract (0-100).
func meanConfidence(boxes []gosseract.BoundingBox) float64 {
	if len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence
	}
	return sum / float64(len(boxes))
}
