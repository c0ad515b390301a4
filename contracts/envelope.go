package contracts

import (
	"encoding/json"
	"time"
)

// FetchRequest asks a relay to perform one JSONP exchange
type FetchRequest struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
}

// FetchReply carries the terminal outcome of a relayed exchange
type FetchReply struct {
	ID         string          `json:"id"`
	RequestID  string          `json:"requestId"`
	URL        string          `json:"url"`
	Status     int             `json:"status"`
	StatusText string          `json:"statusText"`
	Success    bool            `json:"success"`
	Body       json.RawMessage `json:"body,omitempty"`
	Error      string          `json:"error,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Reply metadata used on the wire
const (
	FetchRequestType = "jsonp.fetch"
	FetchReplyType   = "jsonp.fetch.reply"
)
