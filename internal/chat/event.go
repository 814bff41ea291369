package chat

// EventKind identifies an inbound transport event.
type EventKind int

const (
	// EventAuthenticated confirms the session is ready to join conversations.
	EventAuthenticated EventKind = iota
	// EventAuthError reports a rejected credential; the session is unusable
	// for joins until re-authenticated.
	EventAuthError
	// EventJoinAck acknowledges a completed join; push events for the
	// conversation are reliable from this point on.
	EventJoinAck
	// EventNewMessage delivers a pushed message for a joined conversation.
	EventNewMessage
	// EventTyping echoes another participant's typing state.
	EventTyping
	// EventError reports a generic transport fault.
	EventError
	// EventDisconnected is the terminal state of a lost connection.
	// Reconnection is the caller's policy, never the session's.
	EventDisconnected
)

// Event is the typed inbound surface consumed by a single dispatch function
// per conversation. One struct with optional fields rather than per-event
// callbacks, so the filtering rules stay testable without a socket.
type Event struct {
	Kind    EventKind
	ChatID  string
	Message Message // EventNewMessage
	UserID  string  // EventTyping
	Typing  bool    // EventTyping
	Err     *Error  // EventAuthError, EventError, EventDisconnected
}
