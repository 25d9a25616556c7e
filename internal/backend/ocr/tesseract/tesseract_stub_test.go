//go:build !cgo || notesseract

package tesseract

import (
	"context"
	"errors"
	"testing"

	"github.com/jo-hoe/cardscan/internal/backend/ocr"
)

func TestStubEngine_Unavailable(t *testing.T) {
	if Available {
		t.Fatal("stub build must not report tesseract as available")
	}
	e := New(6)
	if e.Name() != EngineName {
		t.Errorf("expected name %q, got %q", EngineName, e.Name())
	}
	if _, err := e.Recognize(context.Background(), ocr.Input{Image: []byte("x")}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
