package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingURL is returned when no upstream URL was supplied.
	ErrMissingURL = errors.New("missing upstream url")

	// ErrAtCapacity is returned when every transfer slot is taken.
	ErrAtCapacity = errors.New("server at capacity")

	// ErrClientGone is returned when the client went away mid transfer.
	ErrClientGone = errors.New("client disconnected")
)

// BadRequestError describes an upstream URL that cannot be requested at all.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return "invalid upstream url: " + e.Reason
}

// UpstreamError wraps a failure that happened before any byte reached the
// client: refused connections, DNS failures, dial or header timeouts.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// MidStreamError reports an upstream read failure after the response header
// was committed. The client sees a truncated body, never a changed status.
type MidStreamError struct {
	Written int64
	Err     error
}

func (e *MidStreamError) Error() string {
	return fmt.Sprintf("stream interrupted after %d bytes: %v", e.Written, e.Err)
}

func (e *MidStreamError) Unwrap() error {
	return e.Err
}

// StatusFor maps an engine error onto the HTTP status reported to the client.
func StatusFor(err error) int {
	var (
		badRequest *BadRequestError
		upstream   *UpstreamError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingURL), errors.As(err, &badRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrAtCapacity):
		return http.StatusServiceUnavailable
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Detail renders the short client facing message for an engine error.
func Detail(err error) string {
	var (
		badRequest *BadRequestError
		upstream   *UpstreamError
	)
	switch {
	case errors.Is(err, ErrMissingURL):
		return "Missing URL"
	case errors.As(err, &badRequest):
		return "Invalid URL: " + badRequest.Reason
	case errors.Is(err, ErrAtCapacity):
		return "Server at capacity"
	case errors.As(err, &upstream):
		return fmt.Sprintf("Proxy error: %v", upstream.Err)
	default:
		return "Streaming error"
	}
}

// errorBody is the JSON shape of every error response: {"detail": "..."}.
type errorBody struct {
	Detail string `json:"detail"`
}

// WriteError sends a JSON error response.
func WriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Detail: detail})
}
