package delivery

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is returned when a delivery attempt does not end with a 2xx response.
// Exactly one of StatusCode and Cause is set.
type Error struct {
	URL        string
	Method     string
	RequestID  string
	StatusCode int
	Body       string
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("deliver feedback: %s %s: %v", e.Method, e.URL, e.Cause)
	}
	return fmt.Sprintf("deliver feedback: %s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Temporary reports whether re-driving the same batch may succeed.
func (e *Error) Temporary() bool {
	if e.Cause != nil {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

// BatchError is returned by per-record delivery when some records of a batch failed.
// Failed holds their positions in the batch; the other records were delivered.
type BatchError struct {
	Failed []int
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("deliver feedback: %d records failed: %v", len(e.Failed), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// StatusCode extracts the response status from a delivery error, 0 if there was none.
func StatusCode(err error) int {
	var dErr *Error
	if errors.As(err, &dErr) {
		return dErr.StatusCode
	}
	return 0
}

// IsSuccess classifies a response status: only 2xx is a success.
func IsSuccess(status int) bool {
	return status/100 == 2
}
