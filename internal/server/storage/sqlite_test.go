package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedConversation(t *testing.T, s *SQLiteStore) (*Conversation, *User, *User) {
	t.Helper()
	ctx := context.Background()

	buyer, err := s.CreateUser(ctx, "alice", "Alice", "", "hash")
	if err != nil {
		t.Fatalf("create buyer: %v", err)
	}
	seller, err := s.CreateUser(ctx, "bob", "Bob", "", "hash")
	if err != nil {
		t.Fatalf("create seller: %v", err)
	}
	conv, err := s.CreateConversation(ctx, "course-go-101", buyer.ID, seller.ID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return conv, buyer, seller
}

func TestUserLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "Alice", "", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	byID, err := s.GetUserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Username != "alice" || byID.DisplayName != "Alice" {
		t.Fatalf("unexpected user: %+v", byID)
	}

	byName, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if byName.ID != created.ID {
		t.Fatalf("id mismatch: %s vs %s", byName.ID, created.ID)
	}

	if _, err := s.GetUserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListConversationsForEitherParticipant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, buyer, seller := seedConversation(t, s)

	for _, userID := range []string{buyer.ID, seller.ID} {
		convs, err := s.ListConversations(ctx, userID)
		if err != nil {
			t.Fatalf("list for %s: %v", userID, err)
		}
		if len(convs) != 1 || convs[0].ID != conv.ID {
			t.Fatalf("unexpected conversations for %s: %+v", userID, convs)
		}
	}

	outsider, err := s.CreateUser(ctx, "carol", "Carol", "", "hash")
	if err != nil {
		t.Fatalf("create outsider: %v", err)
	}
	convs, err := s.ListConversations(ctx, outsider.ID)
	if err != nil {
		t.Fatalf("list for outsider: %v", err)
	}
	if len(convs) != 0 {
		t.Fatalf("outsider sees conversations: %+v", convs)
	}
}

func TestSaveAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, buyer, seller := seedConversation(t, s)

	for i, sender := range []string{buyer.ID, seller.ID, buyer.ID} {
		msg := &Message{ConversationID: conv.ID, SenderID: sender, Kind: "text", Text: "msg"}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save message %d: %v", i, err)
		}
		if msg.ID == "" || msg.CreatedAt.IsZero() {
			t.Fatalf("save did not assign identity/timestamp: %+v", msg)
		}
		time.Sleep(2 * time.Millisecond) // distinct created_at ordering
	}

	msgs, err := s.ListMessages(ctx, conv.ID, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("messages not oldest-first: %v then %v", msgs[i-1].CreatedAt, msgs[i].CreatedAt)
		}
	}

	// Limit returns the most recent page, still oldest-first.
	page, err := s.ListMessages(ctx, conv.ID, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(page) != 2 || page[0].ID != msgs[1].ID || page[1].ID != msgs[2].ID {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestMarkReadSkipsOwnMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, buyer, seller := seedConversation(t, s)

	fromBuyer := &Message{ConversationID: conv.ID, SenderID: buyer.ID, Kind: "text", Text: "from buyer"}
	if err := s.SaveMessage(ctx, fromBuyer); err != nil {
		t.Fatalf("save: %v", err)
	}
	fromSeller := &Message{ConversationID: conv.ID, SenderID: seller.ID, Kind: "text", Text: "from seller"}
	if err := s.SaveMessage(ctx, fromSeller); err != nil {
		t.Fatalf("save: %v", err)
	}

	at := time.Now()
	if err := s.MarkRead(ctx, conv.ID, buyer.ID, at); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	// Repeating is a no-op, not an error.
	if err := s.MarkRead(ctx, conv.ID, buyer.ID, at.Add(time.Minute)); err != nil {
		t.Fatalf("mark read again: %v", err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, m := range msgs {
		switch m.ID {
		case fromBuyer.ID:
			if len(m.ReadBy) != 0 {
				t.Fatalf("buyer's own message got a receipt: %+v", m.ReadBy)
			}
		case fromSeller.ID:
			if _, ok := m.ReadBy[buyer.ID]; !ok {
				t.Fatalf("seller's message missing buyer receipt: %+v", m.ReadBy)
			}
		}
	}
}

func TestImageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv, buyer, _ := seedConversation(t, s)

	blob := []byte{0x89, 'P', 'N', 'G'}
	msg := &Message{
		ConversationID: conv.ID,
		SenderID:       buyer.ID,
		Kind:           "image",
		ImageMIME:      "image/png",
		ImageData:      blob,
	}
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save: %v", err)
	}

	mime, data, err := s.GetImage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	if mime != "image/png" || string(data) != string(blob) {
		t.Fatalf("image mangled: %s %v", mime, data)
	}

	// The list view carries no image bytes.
	msgs, err := s.ListMessages(ctx, conv.ID, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ImageData != nil {
		t.Fatalf("list leaked image bytes: %+v", msgs[0])
	}

	if _, _, err := s.GetImage(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
