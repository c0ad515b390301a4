package contracts

// EventType identifies the kind of exchange event
type EventType int

const (
	EventSent EventType = iota
	EventSuccess
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSent:
		return "sent"
	case EventSuccess:
		return "success"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one step of an exchange. Response is set for EventSuccess and
// Err for EventError.
type Event struct {
	Type     EventType
	Response *Response
	Err      *ErrorResponse
}

// SentEvent returns the event emitted once the script load was requested
func SentEvent() Event {
	return Event{Type: EventSent}
}

// SuccessEvent wraps a success envelope
func SuccessEvent(resp *Response) Event {
	return Event{Type: EventSuccess, Response: resp}
}

// ErrorEvent wraps a failure envelope
func ErrorEvent(err *ErrorResponse) Event {
	return Event{Type: EventError, Err: err}
}

// IsTerminal reports whether no further events follow this one
func (e Event) IsTerminal() bool {
	return e.Type == EventSuccess || e.Type == EventError
}
