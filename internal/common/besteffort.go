package common

import (
	"context"
	"log/slog"
)

// BestEffort is the outcome of an operation whose failure must not abort the
// caller. Call sites decide explicitly what to do with it, usually Log.
type BestEffort struct {
	Op  string
	Err error
}

// Attempt runs fn and captures its error as a BestEffort outcome.
func Attempt(op string, fn func() error) BestEffort {
	return BestEffort{Op: op, Err: fn()}
}

// AttemptContext is Attempt for context aware operations.
func AttemptContext(ctx context.Context, op string, fn func(context.Context) error) BestEffort {
	return BestEffort{Op: op, Err: fn(ctx)}
}

// Failed reports whether the operation returned an error.
func (b BestEffort) Failed() bool {
	return b.Err != nil
}

// Log writes a warning for a failed outcome and returns it unchanged.
func (b BestEffort) Log(logger *slog.Logger, args ...any) BestEffort {
	if !b.Failed() {
		return b
	}
	if logger == nil {
		logger = slog.Default()
	}
	attrs := append([]any{"operation", b.Op, "error", b.Err}, args...)
	logger.Warn("best-effort operation failed", attrs...)
	return b
}
