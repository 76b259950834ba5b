package llm

import "fmt"

// APIError represents an error response from a completion endpoint
type APIError struct {
	Persona    string
	StatusCode int
	Message    string
	Err        error
}

// NewAPIError creates a new API error
func NewAPIError(persona string, statusCode int, message string, err error) *APIError {
	return &APIError{
		Persona:    persona,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion error for %s (status %d): %s: %v", e.Persona, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("completion error for %s (status %d): %s", e.Persona, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping
func (e *APIError) Unwrap() error {
	return e.Err
}
