package contracts

import (
	"net/http"
	"strings"
)

// Method is the transport method of a request
type Method string

const (
	// MethodJSONP marks a request for the script-tag transport
	MethodJSONP Method = "JSONP"
	MethodGet   Method = http.MethodGet
	MethodPost  Method = http.MethodPost
)

// ResponseType tells the transport how to interpret the response body
type ResponseType string

const (
	ResponseTypeJSON ResponseType = "json"
	ResponseTypeText ResponseType = "text"
)

// Headers is a case-insensitive header collection
type Headers map[string][]string

// Len returns the number of distinct header names
func (h Headers) Len() int {
	return len(h)
}

// Get returns the first value for key
func (h Headers) Get(key string) string {
	return http.Header(h).Get(key)
}

// Set replaces any existing values for key
func (h Headers) Set(key, value string) {
	http.Header(h).Set(key, value)
}

// Add appends a value for key
func (h Headers) Add(key, value string) {
	http.Header(h).Add(key, value)
}

// Clone returns a deep copy
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	return Headers(http.Header(h).Clone())
}

// Request describes one outgoing request. Treat it as a value: the With*
// helpers return modified copies.
type Request struct {
	Method       Method       `json:"method"`
	URL          string       `json:"url"`
	ResponseType ResponseType `json:"responseType"`
	Headers      Headers      `json:"headers,omitempty"`
}

// NewRequest creates a request with a JSON response type and no headers
func NewRequest(method Method, url string) Request {
	return Request{
		Method:       Method(strings.ToUpper(string(method))),
		URL:          url,
		ResponseType: ResponseTypeJSON,
	}
}

// NewJSONPRequest creates a request suitable for the JSONP bridge
func NewJSONPRequest(url string) Request {
	return NewRequest(MethodJSONP, url)
}

// WithHeader returns a copy of the request with the header set
func (r Request) WithHeader(key, value string) Request {
	headers := r.Headers.Clone()
	if headers == nil {
		headers = make(Headers)
	}
	headers.Set(key, value)
	r.Headers = headers
	return r
}

// WithResponseType returns a copy of the request with the response type replaced
func (r Request) WithResponseType(responseType ResponseType) Request {
	r.ResponseType = responseType
	return r
}

// WithURL returns a copy of the request pointing at url
func (r Request) WithURL(url string) Request {
	r.URL = url
	return r
}
