// ABOUTME: Error types for the chat backend HTTP client.
// ABOUTME: StatusError carries the HTTP status and the server's structured detail message.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response from the chat backend.
type StatusError struct {
	StatusCode int
	Detail     string
	Raw        json.RawMessage
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("chat backend: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Detail)
	}
	return fmt.Sprintf("chat backend: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsNotFound reports whether the error is a 404 StatusError.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// errorBody is the server's error envelope.
type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
}

// newStatusError builds a StatusError from a response body.
func newStatusError(statusCode int, body []byte) *StatusError {
	e := &StatusError{StatusCode: statusCode, Raw: body}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Detail != "" {
			e.Detail = eb.Detail
		} else {
			e.Detail = eb.Message
		}
	}
	return e
}
