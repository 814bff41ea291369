package chat

import "context"

// MessageStore is the durable persistence collaborator. The core consumes it
// and never implements it: FetchPage backs the bulk load on open, SendMessage
// backs the optimistic send's durable half. Both are request/response.
type MessageStore interface {
	// FetchPage returns the most recent page of messages for a conversation.
	FetchPage(ctx context.Context, conversationID string) ([]Message, error)

	// SendMessage persists a message and returns the acknowledged record with
	// its freshly assigned durable identity and server timestamp.
	SendMessage(ctx context.Context, conversationID, text string, kind Kind, att *Attachment) (Message, error)
}
