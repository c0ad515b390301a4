package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	// Connection errors
	ErrConnectionClosed   = errors.New("rabbitmq: connection is closed")
	ErrConnectionNotReady = errors.New("rabbitmq: connection not ready")
	ErrMaxRetriesExceeded = errors.New("rabbitmq: maximum reconnection attempts exceeded")
	ErrConnectionTimeout  = errors.New("rabbitmq: connection timeout")

	// Channel errors
	ErrChannelCreationFailed = errors.New("rabbitmq: failed to create channel")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
	Attempts  int       // Number of attempts made
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("rabbitmq connection error: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChannelError represents a channel-related error
type ChannelError struct {
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rabbitmq channel error: %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// SanitizeURL hides the password of an AMQP URL
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
