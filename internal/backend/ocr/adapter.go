package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jo-hoe/cardscan/internal/common"
)

const DefaultTimeout = 60 * time.Second

// Result is the outcome of ExtractText. Error is set only when Success is false.
type Result struct {
	Success    bool    `json:"success"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// Adapter wraps an Engine with file loading, optional preprocessing and a timeout.
type Adapter struct {
	engine     Engine
	preprocess Preprocessor
	timeout    time.Duration
	languages  []string
}

type AdapterOption func(*Adapter)

// WithPreprocessor runs p on the image bytes before recognition.
func WithPreprocessor(p Preprocessor) AdapterOption {
	return func(a *Adapter) { a.preprocess = p }
}

// WithTimeout bounds a single recognition. Non-positive values keep the default.
func WithTimeout(timeout time.Duration) AdapterOption {
	return func(a *Adapter) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithLanguages sets the language hints passed to the engine.
func WithLanguages(langs ...string) AdapterOption {
	return func(a *Adapter) { a.languages = append([]string(nil), langs...) }
}

func NewAdapter(engine Engine, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		engine:  engine,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EngineName returns the name of the wrapped engine.
func (a *Adapter) EngineName() string {
	return a.engine.Name()
}

// ExtractText recognizes the image at path. It never returns an error and never
// panics; failures are reported through Result.Success and Result.Error.
func (a *Adapter) ExtractText(ctx context.Context, path string) (result Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("text extraction panicked", "engine", a.engine.Name(), "path", path, "panic", r)
			result = failure(fmt.Errorf("text extraction panicked: %v", r))
		}
	}()

	imageData, err := os.ReadFile(path)
	if err != nil {
		return failure(fmt.Errorf("failed to read image: %w", err))
	}

	if a.preprocess != nil {
		imageData, err = a.preprocess.Execute(imageData)
		if err != nil {
			return failure(fmt.Errorf("failed to preprocess image: %w", err))
		}
	}

	rec, err := a.recognize(ctx, Input{ID: path, Image: imageData, Languages: a.languages})
	if err != nil {
		slog.Warn("text recognition failed",
			"engine", a.engine.Name(),
			"path", path,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
		return failure(&common.RecognitionError{Engine: a.engine.Name(), Err: err})
	}

	slog.Debug("text recognition completed",
		"engine", a.engine.Name(),
		"path", path,
		"duration_ms", time.Since(start).Milliseconds(),
		"text_length", len(rec.Text),
		"confidence", rec.Confidence)

	return Result{
		Success:    true,
		Text:       rec.Text,
		Confidence: rec.Confidence,
	}
}

type recognizeOutcome struct {
	rec Recognition
	err error
}

func (a *Adapter) recognize(ctx context.Context, in Input) (Recognition, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan recognizeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- recognizeOutcome{err: fmt.Errorf("engine panicked: %v", r)}
			}
		}()
		rec, err := a.engine.Recognize(ctx, in)
		done <- recognizeOutcome{rec: rec, err: err}
	}()

	select {
	case out := <-done:
		return out.rec, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Recognition{}, fmt.Errorf("timed out after %s", a.timeout)
		}
		return Recognition{}, ctx.Err()
	}
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error()}
}
