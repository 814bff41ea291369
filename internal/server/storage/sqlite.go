package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	display_name  TEXT NOT NULL,
	avatar_url    TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	course_id  TEXT NOT NULL,
	buyer_id   TEXT NOT NULL,
	seller_id  TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (buyer_id) REFERENCES users(id),
	FOREIGN KEY (seller_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	text            TEXT NOT NULL DEFAULT '',
	image_mime      TEXT NOT NULL DEFAULT '',
	image_data      BLOB,
	created_at      DATETIME NOT NULL,
	FOREIGN KEY (conversation_id) REFERENCES conversations(id),
	FOREIGN KEY (sender_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages(conversation_id, created_at);

CREATE TABLE IF NOT EXISTS message_reads (
	message_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	read_at    DATETIME NOT NULL,
	PRIMARY KEY (message_id, user_id),
	FOREIGN KEY (message_id) REFERENCES messages(id)
);
`

// New opens (or creates) a SQLite store at dbPath and applies the schema.
// Pass ":memory:" for an ephemeral store in tests.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore ====

func (s *SQLiteStore) CreateUser(ctx context.Context, username, displayName, avatarURL, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.NewString(),
		Username:     username,
		DisplayName:  displayName,
		AvatarURL:    avatarURL,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, display_name, avatar_url, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.DisplayName, user.AvatarURL, user.PasswordHash, user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar_url, password_hash, created_at
		FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar_url, password_hash, created_at
		FROM users WHERE username = ?`, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// ==== ConversationStore ====

func (s *SQLiteStore) CreateConversation(ctx context.Context, courseID, buyerID, sellerID string) (*Conversation, error) {
	conv := &Conversation{
		ID:        uuid.NewString(),
		CourseID:  courseID,
		BuyerID:   buyerID,
		SellerID:  sellerID,
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, course_id, buyer_id, seller_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.CourseID, conv.BuyerID, conv.SellerID, conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, course_id, buyer_id, seller_id, created_at
		FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.CourseID, &c.BuyerID, &c.SellerID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, course_id, buyer_id, seller_id, created_at
		FROM conversations
		WHERE buyer_id = ? OR seller_id = ?
		ORDER BY created_at DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.CourseID, &c.BuyerID, &c.SellerID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, &c)
	}
	return convs, rows.Err()
}

// ==== MessageStore ====

// SaveMessage assigns the durable identity and server timestamp, then
// persists the message. The uuid namespace never overlaps client temp ids.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	msg.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, kind, text, image_mime, image_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Kind, msg.Text, msg.ImageMIME, msg.ImageData, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, kind, text, image_mime, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Kind, &m.Text, &m.ImageMIME, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first for the client's buffer.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	if err := s.attachReadReceipts(ctx, conversationID, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *SQLiteStore) attachReadReceipts(ctx context.Context, conversationID string, messages []*Message) error {
	if len(messages) == 0 {
		return nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.message_id, r.user_id, r.read_at
		FROM message_reads r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("list read receipts: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Message, len(messages))
	for _, m := range messages {
		byID[m.ID] = m
	}
	for rows.Next() {
		var messageID, userID string
		var readAt time.Time
		if err := rows.Scan(&messageID, &userID, &readAt); err != nil {
			return fmt.Errorf("scan read receipt: %w", err)
		}
		m, ok := byID[messageID]
		if !ok {
			continue
		}
		if m.ReadBy == nil {
			m.ReadBy = make(map[string]time.Time)
		}
		m.ReadBy[userID] = readAt
	}
	return rows.Err()
}

// MarkRead records a read receipt for every message in the conversation the
// user did not send. Idempotent.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		SELECT id, ?, ? FROM messages
		WHERE conversation_id = ? AND sender_id != ?`,
		userID, at.UTC(), conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetImage(ctx context.Context, messageID string) (string, []byte, error) {
	var mime string
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT image_mime, image_data FROM messages WHERE id = ? AND kind = 'image'`, messageID).
		Scan(&mime, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("scan image: %w", err)
	}
	return mime, data, nil
}
