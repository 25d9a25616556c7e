// Package ocr turns a card image on local disk into raw text. Recognition is
// delegated to a pluggable Engine; the Adapter in front of it turns every kind
// of failure into a typed Result instead of an error.
package ocr

import "context"

// Input is a single image submitted for recognition.
type Input struct {
	// ID is echoed in log lines, typically the card id.
	ID string
	// Image is the encoded payload (PNG after preprocessing, otherwise as uploaded).
	Image []byte
	// Languages are trained-data hints such as "eng" or "deu".
	Languages []string
}

// Recognition is what an engine produced for one Input.
type Recognition struct {
	Text string
	// Confidence is the mean word confidence on a 0-100 scale.
	Confidence float64
}

// Engine performs text recognition. Implementations must honor ctx cancellation
// where the underlying provider allows it.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, in Input) (Recognition, error)
}

// Preprocessor transforms image bytes before recognition.
type Preprocessor interface {
	Execute(imageData []byte) ([]byte, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc struct {
	EngineName string
	Fn         func(ctx context.Context, in Input) (Recognition, error)
}

func (e EngineFunc) Name() string { return e.EngineName }

func (e EngineFunc) Recognize(ctx context.Context, in Input) (Recognition, error) {
	return e.Fn(ctx, in)
}
