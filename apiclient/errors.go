package apiclient

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is wrapped by the AuthenticationError returned when a
// request is still rejected after a successful token refresh.
var ErrUnauthorized = errors.New("request rejected after token refresh")

// ConnectionError means no HTTP response was obtained, even after the
// backoff retry. The session is left untouched.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("no response from server: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthenticationError means the session is no longer valid. By the time it
// is returned the session has been logged out.
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication required: %v", e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// DecodingError is a 2xx response whose body could not be decoded.
type DecodingError struct {
	Body []byte
	Err  error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("failed to decode response: %v", e.Err)
}

func (e *DecodingError) Unwrap() error { return e.Err }

// ResponseError is any non-2xx response that did not match the request's
// ErrorShape.
type ResponseError struct {
	StatusCode int
	Body       []byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, string(e.Body))
}
