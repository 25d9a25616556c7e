// Package remote provides an OCR engine that delegates recognition to an HTTP service.
//
// The service receives the image as a multipart upload in the field "image" and
// answers with JSON of the form {"text": "...", "confidence": 91.2}.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/cardscan/internal/backend/ocr"
)

const EngineName = "remote"

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

type Config struct {
	URL      string
	APIToken string
	Timeout  time.Duration
}

type Engine struct {
	config     Config
	httpClient *http.Client
}

// recognizeResponse is the JSON body returned by the OCR service
type recognizeResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Error      string  `json:"error,omitempty"`
}

func New(cfg Config) *Engine {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = ocr.DefaultTimeout
	}
	return &Engine{
		config: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (e *Engine) Name() string { return EngineName }

func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Recognition, error) {
	body, contentType, err := buildMultipartBody(in)
	if err != nil {
		return ocr.Recognition{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.URL, body)
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if e.config.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIToken)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return ocr.Recognition{}, fmt.Errorf("OCR service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result recognizeResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return ocr.Recognition{}, fmt.Errorf("failed to parse response: %w, body: %s", err, string(raw))
	}
	if result.Error != "" {
		return ocr.Recognition{}, fmt.Errorf("OCR service error: %s", result.Error)
	}

	return ocr.Recognition{
		Text:       strings.TrimSpace(result.Text),
		Confidence: result.Confidence,
	}, nil
}

func buildMultipartBody(in ocr.Input) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if len(in.Languages) > 0 {
		if err := writer.WriteField("languages", strings.Join(in.Languages, "+")); err != nil {
			return nil, "", fmt.Errorf("failed to write languages field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("image", "card")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(in.Image); err != nil {
		return nil, "", fmt.Errorf("failed to write image part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
