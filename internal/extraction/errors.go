package extraction

import "fmt"

// AuthError means the credential was rejected. Nothing later in the batch can succeed.
type AuthError struct {
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("authentication failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ParseError means the service answered but the payload could not be read as facts.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse extraction response: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransportError covers every other failed call, after the endpoint fallback was tried.
type TransportError struct {
	StatusCode int
	Endpoint   string
	Err        error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("extraction call to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
