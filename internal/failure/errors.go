// Package failure defines the closed set of error kinds surfaced by the label
// extraction core.
//
// Every error leaving the core is a *Error carrying exactly one Kind. Callers
// branch on the kind with errors.Is:
//
//	if errors.Is(err, failure.ErrTimeout) { ... }
//
// Retry decisions belong to the pipeline. Components below it classify
// remote failures and return immediately.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error kinds. The set is closed: no other kind is ever attached to an *Error.
var (
	// ErrConfiguration is returned when a client is built with a missing
	// endpoint, key, deployment or prompt path. Never retried.
	ErrConfiguration = errors.New("configuration")

	// ErrBadImage is returned for undecodable, missing or absent images.
	ErrBadImage = errors.New("bad image")

	// ErrTransport is returned for network level failures and for remote
	// failures that carry an HTTP status without a more specific kind.
	ErrTransport = errors.New("transport error")

	// ErrAuth is returned when a remote service rejects the credentials.
	ErrAuth = errors.New("auth error")

	// ErrQuotaExceeded is returned when a remote service throttles the caller.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrContentFilter is returned when the language model provider blocks
	// the request or the completion.
	ErrContentFilter = errors.New("content filter")

	// ErrExtractionRefused is returned when the model produced no usable
	// content, including content filter refusals.
	ErrExtractionRefused = errors.New("extraction refused")

	// ErrExtractionInvalid is returned when the model output failed
	// validation twice.
	ErrExtractionInvalid = errors.New("extraction invalid")

	// ErrTimeout is returned when the request deadline expires or the
	// request is canceled.
	ErrTimeout = errors.New("timeout")
)

var kinds = []error{
	ErrConfiguration,
	ErrBadImage,
	ErrTransport,
	ErrAuth,
	ErrQuotaExceeded,
	ErrContentFilter,
	ErrExtractionRefused,
	ErrExtractionInvalid,
	ErrTimeout,
}

// Reasons refine a kind. They are stable strings suitable for clients.
const (
	ReasonEmptyInput = "empty_input"
	ReasonNotFound   = "not_found"
	ReasonDecode     = "decode"
	ReasonBlankReply = "blank_reply"
	ReasonFiltered   = "content_filter"

	// ReasonRemoteFailed marks a remote operation that completed with a
	// failure status. Such errors are not transient.
	ReasonRemoteFailed = "remote_failed"

	// ReasonMalformed marks a remote response that could not be understood.
	ReasonMalformed = "malformed_response"
)

// transientStatus lists the HTTP statuses the pipeline retries.
var transientStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Error is the single error type surfaced by the core.
type Error struct {
	// Op is the operation that failed (e.g., "ocr.ExtractText").
	Op string

	// Kind is one of the Err* sentinels of this package.
	Kind error

	// Reason optionally refines the kind (e.g., "empty_input").
	Reason string

	// Message is a human-readable description.
	Message string

	// Status is the HTTP status of the remote response, 0 when none.
	Status int

	// RequestID is the remote correlation id, when the service sent one.
	RequestID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " [status %d]", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " (request id %s)", e.RequestID)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// New creates an *Error of the given kind.
func New(op string, kind error, message string) *Error {
	return &Error{Op: op, Kind: kind, Message: message}
}

// Wrap wraps err as an *Error of the given kind. An error that already
// carries a kind is returned unchanged.
func Wrap(op string, kind error, err error, message string) error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return err
	}

	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// Configuration is a shorthand for configuration errors.
func Configuration(op, message string) *Error {
	return New(op, ErrConfiguration, message)
}

// FromStatus classifies an unsuccessful HTTP response.
func FromStatus(op string, status int, requestID, message string) *Error {
	kind := ErrTransport
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusTooManyRequests:
		kind = ErrQuotaExceeded
	}

	return &Error{
		Op:        op,
		Kind:      kind,
		Message:   message,
		Status:    status,
		RequestID: requestID,
	}
}

// FromContext converts a context error into a Timeout error. It returns nil
// when ctx is still live.
func FromContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: op, Kind: ErrTimeout, Err: err}
	}
	return nil
}

// KindOf returns the kind attached to err, or nil when err carries none.
func KindOf(err error) error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}

// ReasonOf returns the reason attached to err, or "".
func ReasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

// IsTransient reports whether err is worth retrying: a network failure (no
// HTTP status and no reason), or a remote failure whose status is 429, 500,
// 502, 503 or 504. Timeouts are never transient.
func IsTransient(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}

	switch fe.Kind {
	case ErrTransport:
		if fe.Status == 0 {
			return fe.Reason == ""
		}
		return transientStatus[fe.Status]
	case ErrQuotaExceeded:
		return transientStatus[fe.Status]
	default:
		return false
	}
}
