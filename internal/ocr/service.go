// Package ocr turns a composite label document into a markdown transcript.
//
// The production client calls Azure AI Document Intelligence with the
// prebuilt-layout model, which preserves tables and reading order as
// markdown. That structure matters to the extraction prompt: guaranteed
// analysis tables stay tables.
//
// Configuration:
//   - AZURE_API_ENDPOINT: Document Intelligence resource endpoint
//   - AZURE_API_KEY: resource key
//
// The client does not retry. Failures are classified into the kinds of the
// failure package and returned immediately; the caller owns the retry policy.
package ocr

import (
	"context"
	"time"
)

// Client extracts text from a document.
type Client interface {
	// ExtractText runs layout recognition on document (PDF or image bytes)
	// and returns its markdown transcript.
	ExtractText(ctx context.Context, document []byte) (*Transcript, error)
}

// Transcript is the result of OCR on one document.
type Transcript struct {
	// Content is the recognized text as markdown, in reading order.
	Content string `json:"content"`

	// Pages is the number of pages analyzed.
	Pages int `json:"pages"`

	// ModelID is the recognizer model that produced the transcript.
	ModelID string `json:"model_id,omitempty"`

	// RequestID is the service correlation id, when one was returned.
	RequestID string `json:"request_id,omitempty"`

	// Duration is the wall time from upload to result.
	Duration time.Duration `json:"duration"`
}
