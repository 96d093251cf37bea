package market

import "fmt"

// APIError is a response that arrived intact but carried a non-zero
// upstream status code. Callers retry it the same way as a transport
// failure.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream code %d: %s", e.Code, e.Message)
}

// DecodeError is a response body that could not be parsed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
