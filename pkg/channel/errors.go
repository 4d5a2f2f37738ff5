package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a request's response never arrives in time.
	ErrTimeout = errors.New("request timeout")

	// ErrClosed is returned when operating on a closed channel, and is the
	// rejection cause for requests pending at close time.
	ErrClosed = errors.New("channel closed")
)

// Error is a structured failure crossing the boundary. Remote handler
// failures arrive as an error payload in a response envelope and are
// reconstructed into this type on the requesting side.
type Error struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// NewError creates a coded channel error. Details must marshal to JSON;
// marshal failures drop the details rather than the error.
func NewError(code, message string, details any) *Error {
	e := &Error{Code: code, Message: message}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			e.Details = raw
		}
	}
	return e
}
