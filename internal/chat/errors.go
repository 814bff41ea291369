package chat

import "errors"

// Error codes surfaced in notices and transport error events.
const (
	ErrCodeAuthFailed       = "auth_failed"
	ErrCodeTransport        = "transport_error"
	ErrCodeSendFailed       = "send_failed"
	ErrCodeDisconnected     = "disconnected"
	ErrCodeAttachmentTooBig = "attachment_too_big"
	ErrCodeAttachmentKind   = "attachment_kind"
	ErrCodeConversationGone = "conversation_closed"
)

var (
	ErrEmptyMessage     = errors.New("message has no content")
	ErrSendInFlight     = errors.New("a send is already in flight")
	ErrConversationGone = errors.New("conversation closed")
	ErrNotAuthenticated = errors.New("session not authenticated")
	ErrNotConnected     = errors.New("session not connected")
	ErrAttachmentTooBig = errors.New("attachment exceeds size limit")
	ErrAttachmentKind   = errors.New("attachment type not allowed")
)

// Error wraps a wire-level code and human-readable message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Notice is a user-visible, recoverable fault. Notices never terminate the
// process; the embedding surface decides how to display them.
type Notice struct {
	Code string
	Text string
}
