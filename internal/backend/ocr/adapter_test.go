package ocr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type upperPreprocessor struct {
	err error
}

func (p upperPreprocessor) Execute(imageData []byte) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	return []byte(strings.ToUpper(string(imageData))), nil
}

func writeImage(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "card.png")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	return path
}

func echoEngine() Engine {
	return EngineFunc{
		EngineName: "echo",
		Fn: func(ctx context.Context, in Input) (Recognition, error) {
			return Recognition{Text: string(in.Image), Confidence: 87.5}, nil
		},
	}
}

func TestAdapter_ExtractText_Success(t *testing.T) {
	adapter := NewAdapter(echoEngine())
	result := adapter.ExtractText(context.Background(), writeImage(t, "Jane Doe"))

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Text != "Jane Doe" {
		t.Errorf("expected text %q, got %q", "Jane Doe", result.Text)
	}
	if result.Confidence != 87.5 {
		t.Errorf("expected confidence 87.5, got %v", result.Confidence)
	}
	if result.Error != "" {
		t.Errorf("expected empty error, got %q", result.Error)
	}
}

func TestAdapter_ExtractText_Preprocessing(t *testing.T) {
	adapter := NewAdapter(echoEngine(), WithPreprocessor(upperPreprocessor{}))
	result := adapter.ExtractText(context.Background(), writeImage(t, "jane"))
	if !result.Success || result.Text != "JANE" {
		t.Errorf("expected preprocessed text JANE, got %+v", result)
	}

	failing := NewAdapter(echoEngine(), WithPreprocessor(upperPreprocessor{err: errors.New("bad pixels")}))
	result = failing.ExtractText(context.Background(), writeImage(t, "jane"))
	if result.Success {
		t.Fatal("expected failure when preprocessing fails")
	}
	if !strings.Contains(result.Error, "bad pixels") {
		t.Errorf("expected preprocessing error in message, got %q", result.Error)
	}
}

func TestAdapter_ExtractText_Failures(t *testing.T) {
	tests := []struct {
		name    string
		engine  Engine
		path    func(t *testing.T) string
		wantErr string
	}{
		{
			name:    "missing file",
			engine:  echoEngine(),
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.png") },
			wantErr: "failed to read image",
		},
		{
			name: "engine error",
			engine: EngineFunc{EngineName: "broken", Fn: func(ctx context.Context, in Input) (Recognition, error) {
				return Recognition{}, errors.New("no text layer")
			}},
			path:    func(t *testing.T) string { return writeImage(t, "x") },
			wantErr: "no text layer",
		},
		{
			name: "engine panic",
			engine: EngineFunc{EngineName: "panicky", Fn: func(ctx context.Context, in Input) (Recognition, error) {
				panic("segfault in native code")
			}},
			path:    func(t *testing.T) string { return writeImage(t, "x") },
			wantErr: "engine panicked",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := NewAdapter(tt.engine).ExtractText(context.Background(), tt.path(t))
			if result.Success {
				t.Fatal("expected failure")
			}
			if !strings.Contains(result.Error, tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, result.Error)
			}
			if result.Text != "" {
				t.Errorf("expected no text on failure, got %q", result.Text)
			}
		})
	}
}

func TestAdapter_ExtractText_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	stuck := EngineFunc{EngineName: "stuck", Fn: func(ctx context.Context, in Input) (Recognition, error) {
		<-release
		return Recognition{Text: "late"}, nil
	}}

	adapter := NewAdapter(stuck, WithTimeout(20*time.Millisecond))
	start := time.Now()
	result := adapter.ExtractText(context.Background(), writeImage(t, "x"))

	if result.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(result.Error, "timed out") {
		t.Errorf("expected timeout message, got %q", result.Error)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("expected adapter to return promptly, took %s", elapsed)
	}
}

func TestAdapter_ExtractText_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocking := EngineFunc{EngineName: "blocking", Fn: func(ctx context.Context, in Input) (Recognition, error) {
		<-ctx.Done()
		return Recognition{}, ctx.Err()
	}}

	result := NewAdapter(blocking).ExtractText(ctx, writeImage(t, "x"))
	if result.Success {
		t.Fatal("expected failure for canceled context")
	}
}

func TestAdapter_Options(t *testing.T) {
	var got []string
	engine := EngineFunc{EngineName: "lang", Fn: func(ctx context.Context, in Input) (Recognition, error) {
		got = in.Languages
		return Recognition{Text: "ok"}, nil
	}}

	adapter := NewAdapter(engine, WithLanguages("eng", "deu"), WithTimeout(0))
	if adapter.timeout != DefaultTimeout {
		t.Errorf("expected default timeout to survive non-positive value, got %s", adapter.timeout)
	}
	if adapter.EngineName() != "lang" {
		t.Errorf("expected engine name lang, got %s", adapter.EngineName())
	}
	adapter.ExtractText(context.Background(), writeImage(t, "x"))
	if len(got) != 2 || got[0] != "eng" || got[1] != "deu" {
		t.Errorf("expected languages [eng deu], got %v", got)
	}
}

type panickingPreprocessor struct{}

func (panickingPreprocessor) Execute(imageData []byte) ([]byte, error) {
	panic("decoder bug")
}

func TestAdapter_ExtractText_PreprocessorPanic(t *testing.T) {
	adapter := NewAdapter(echoEngine(), WithPreprocessor(panickingPreprocessor{}))

	var result Result
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("ExtractText panicked: %v", r)
			}
		}()
		result = adapter.ExtractText(context.Background(), writeImage(t, "jane"))
	}()

	if result.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(result.Error, "decoder bug") {
		t.Errorf("expected panic value in error, got %q", result.Error)
	}
}
