package contracts

import (
	"encoding/json"
	"fmt"
)

// Response is the success envelope of an exchange. A nil Body means the
// callback was invoked without an argument.
type Response struct {
	URL        string `json:"url"`
	Status     int    `json:"status"`
	StatusText string `json:"statusText"`
	Body       any    `json:"body"`
}

// NewResponse creates a success envelope with the fixed OK status
func NewResponse(url string, body any) *Response {
	return &Response{
		URL:        url,
		Status:     StatusOK,
		StatusText: statusTextOK,
		Body:       body,
	}
}

// HasBody reports whether the callback delivered a payload
func (r *Response) HasBody() bool {
	return r != nil && r.Body != nil
}

// Decode converts the body into v by round-tripping it through JSON
func (r *Response) Decode(v any) error {
	if r == nil {
		return fmt.Errorf("response is nil")
	}
	raw, err := json.Marshal(r.Body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode body: %w", err)
	}
	return nil
}
