// Package tesseract provides an OCR engine backed by the local tesseract
// library. Builds without cgo, or with the notesseract tag, get a stub whose
// Recognize always fails, so remote-only deployments compile without
// libtesseract.
package tesseract

import "errors"

const EngineName = "tesseract"

// ErrUnavailable is returned by the stub engine.
var ErrUnavailable = errors.New("tesseract support not compiled in")
