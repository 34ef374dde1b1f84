package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized matches any 401 response that was not recovered by a
	// token refresh.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired is returned when the refresh call itself was
	// rejected. Credentials have been cleared and the user must log in
	// again.
	ErrSessionExpired = errors.New("session expired")
)

// RequestError is a non-success response from the helpdesk API.
type RequestError struct {
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request failed (%d): %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *RequestError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// UploadError is a non-success response to a multipart upload. Uploads are
// never refresh-retried, so a 401 surfaces here directly.
type UploadError struct {
	Status  int
	Message string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload failed (%d): %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *UploadError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// IsSessionExpired reports whether err (or any error in its chain) means
// the session can no longer be refreshed.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// StatusCode returns the HTTP status carried by err, or 0 if err is not a
// RequestError or UploadError.
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}
	var upErr *UploadError
	if errors.As(err, &upErr) {
		return upErr.Status
	}
	return 0
}

// errorBody covers the error shapes the helpdesk returns: a "message"
// that is either a string or a list of validation messages, and an
// optional "error" label.
type errorBody struct {
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
}

// errorMessage extracts a human-readable message from an error response
// body, falling back to the status text.
func errorMessage(status int, body []byte) string {
	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		if len(eb.Message) > 0 {
			var s string
			if json.Unmarshal(eb.Message, &s) == nil && s != "" {
				return s
			}
			var list []string
			if json.Unmarshal(eb.Message, &list) == nil && len(list) > 0 {
				return strings.Join(list, "; ")
			}
		}
		if eb.Error != "" {
			return eb.Error
		}
	}

	if text := http.StatusText(status); text != "" {
		return text
	}
	return "request failed"
}
