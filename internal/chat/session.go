package chat

import "context"

// Session is the transport collaborator: one physical duplex connection per
// process, shared by every open conversation. Opening a second conversation
// reuses the connection and issues an additional Join.
//
// A lost connection surfaces as a terminal EventDisconnected; the session
// never reconnects on its own. Client carries the reconnect policy.
type Session interface {
	// Connect establishes the duplex channel. Idempotent when already
	// connected.
	Connect(ctx context.Context) error

	// Authenticate sends the credential and blocks until the server answers
	// with authenticated or authentication_error. On failure the session is
	// unusable for joins; there is no automatic retry.
	Authenticate(ctx context.Context, token string) error

	// Join subscribes a conversation room and blocks until the join is
	// acknowledged. Push events for an unjoined conversation are discarded.
	Join(ctx context.Context, conversationID string) error

	// Leave unsubscribes a conversation room. Fire-and-forget.
	Leave(conversationID string) error

	// Typing emits a typing_start or typing_stop signal. Fire-and-forget;
	// delivery is not guaranteed by the transport.
	Typing(conversationID string, active bool) error

	// Events is the typed inbound event stream. Closed when the session is
	// torn down.
	Events() <-chan Event

	// Close tears the connection down.
	Close() error
}
