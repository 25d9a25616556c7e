//go:build !cgo || notesseract

package tesseract

import (
	"context"

	"github.com/jo-hoe/cardscan/internal/backend/ocr"
)

// Available reports whether the engine was compiled against libtesseract.
const Available = false

// Engine is a stub for builds without libtesseract.
type Engine struct{}

func New(pageSegMode int) *Engine {
	return &Engine{}
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) Recognize(_ context.Context, _ ocr.Input) (ocr.Recognition, error) {
	return ocr.Recognition{}, ErrUnavailable
}
