// Package storage holds the server-side persistence model: users,
// conversations, and the durable message log. The store is the sole
// durable-identity allocator; identities it assigns are never reused and
// never collide with client-local temp identities.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// User is a registered participant.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	AvatarURL    string
	PasswordHash string
	CreatedAt    time.Time
}

// Conversation links two participants over a subject (a course listing).
type Conversation struct {
	ID        string
	CourseID  string
	BuyerID   string
	SellerID  string
	CreatedAt time.Time
}

// Participants returns both participant ids.
func (c *Conversation) Participants() []string {
	return []string{c.BuyerID, c.SellerID}
}

// Message is a persisted chat message. ImageData holds the raw attachment
// bytes for image messages; ReadBy maps reader id to read timestamp.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Kind           string
	Text           string
	ImageMIME      string
	ImageData      []byte
	CreatedAt      time.Time
	ReadBy         map[string]time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a user with a hashed password and assigns its id.
	CreateUser(ctx context.Context, username, displayName, avatarURL, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by id.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// CreateConversation creates a conversation between two participants.
	CreateConversation(ctx context.Context, courseID, buyerID, sellerID string) (*Conversation, error)

	// GetConversation retrieves a conversation by id.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations lists conversations a user participates in.
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message, assigning its durable id and server
	// timestamp. The assigned fields are set on msg.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns the most recent messages of a conversation in
	// creation order, read receipts included. Image bytes are not loaded.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// MarkRead records that a user has read everything in a conversation up
	// to now.
	MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error

	// GetImage returns the attachment bytes of an image message.
	GetImage(ctx context.Context, messageID string) (mime string, data []byte, err error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
