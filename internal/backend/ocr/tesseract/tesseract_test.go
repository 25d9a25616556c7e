//go:build cgo && !notesseract

package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"github.com/jo-hoe/cardscan/internal/backend/ocr"
	"github.com/otiai10/gosseract/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func TestMeanConfidence(t *testing.T) {
	if got := meanConfidence(nil); got != 0 {
		t.Errorf("expected 0 for no boxes, got %v", got)
	}
	boxes := []gosseract.BoundingBox{{Confidence: 90}, {Confidence: 70}}
	if got := meanConfidence(boxes); got != 80 {
		t.Errorf("expected 80, got %v", got)
	}
}

func TestEngine_Name(t *testing.T) {
	if New(0).Name() != "tesseract" {
		t.Error("unexpected engine name")
	}
}

func TestEngine_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(0).Recognize(ctx, ocr.Input{}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestEngine_Recognize(t *testing.T) {
	ensureTesseractAvailable(t)

	img := image.NewRGBA(image.Rect(0, 0, 240, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 50),
	}
	d.DrawString("HELLO CARD")

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}

	rec, err := New(0).Recognize(context.Background(), ocr.Input{Image: buf.Bytes(), Languages: []string{"eng"}})
	if err != nil {
		t.Fatalf("recognize failed: %v", err)
	}
	if !strings.Contains(strings.ToUpper(rec.Text), "HELLO") {
		t.Errorf("expected recognized text to contain HELLO, got %q", rec.Text)
	}
}
