package contracts

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Caller errors, reported synchronously by Submit
	ErrInvalidMethod       = errors.New("JSONP requests must use JSONP request method.")
	ErrInvalidResponseType = errors.New("JSONP requests must use Json response type.")
	ErrHeadersNotSupported = errors.New("JSONP requests do not support headers.")

	// Terminal exchange errors
	ErrNoCallbackInvoked = errors.New("JSONP injected script did not invoke callback.")
	ErrLoadError         = errors.New("JSONP script failed to load")
)

const (
	// StatusOK is the status of every successful JSONP exchange
	StatusOK = http.StatusOK
	// StatusUnknown is the status of every failed JSONP exchange
	StatusUnknown = 0

	statusTextOK      = "OK"
	statusTextUnknown = "Unknown Error"
)

// ErrorResponse is the failure envelope of an exchange
type ErrorResponse struct {
	URL        string `json:"url"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Err        error  `json:"-"`
}

// NewErrorResponse creates an error envelope with the JSONP failure status
func NewErrorResponse(url string, err error) *ErrorResponse {
	return &ErrorResponse{
		URL:        url,
		Status:     StatusUnknown,
		StatusText: statusTextUnknown,
		Err:        err,
	}
}

// Error implements error
func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("jsonp failure response for %s: %d %s: %v", e.URL, e.Status, e.StatusText, e.Err)
}

// Unwrap returns the classified cause
func (e *ErrorResponse) Unwrap() error {
	return e.Err
}

// IsCallerError reports whether err is one of the pre-flight validation errors
func IsCallerError(err error) bool {
	return errors.Is(err, ErrInvalidMethod) ||
		errors.Is(err, ErrInvalidResponseType) ||
		errors.Is(err, ErrHeadersNotSupported)
}
