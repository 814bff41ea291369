package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// fakeSession records transport calls and lets tests feed inbound events.
type fakeSession struct {
	mu     sync.Mutex
	joined []string
	left   []string
	typing []bool
	events chan Event
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan Event, 16)}
}

func (s *fakeSession) Connect(ctx context.Context) error { return nil }

func (s *fakeSession) Authenticate(ctx context.Context, token string) error { return nil }

func (s *fakeSession) Join(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined = append(s.joined, conversationID)
	return nil
}

func (s *fakeSession) Leave(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.left = append(s.left, conversationID)
	return nil
}

func (s *fakeSession) Typing(conversationID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, active)
	return nil
}

func (s *fakeSession) Events() <-chan Event { return s.events }

func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) typingSignals() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.typing))
	copy(out, s.typing)
	return out
}

// fakeStore serves a fixed page and acknowledges or rejects sends.
type fakeStore struct {
	mu        sync.Mutex
	page      []Message
	sendErr   error
	sent      []string
	ack       func(text string) Message
	sendGate  chan struct{} // when non-nil, SendMessage blocks until closed
	fetchGate chan struct{} // when non-nil, FetchPage blocks until closed
}

func (s *fakeStore) FetchPage(ctx context.Context, conversationID string) ([]Message, error) {
	if s.fetchGate != nil {
		<-s.fetchGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.page))
	copy(out, s.page)
	return out, nil
}

func (s *fakeStore) SendMessage(ctx context.Context, conversationID, text string, kind Kind, att *Attachment) (Message, error) {
	if s.sendGate != nil {
		<-s.sendGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, text)
	if s.sendErr != nil {
		return Message{}, s.sendErr
	}
	if s.ack != nil {
		return s.ack(text), nil
	}
	return Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Kind:           kind,
		Text:           text,
		CreatedAt:      time.Now(),
	}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func testConversation(t *testing.T, store *fakeStore, opts ConversationOptions) (*Conversation, *fakeSession) {
	t.Helper()
	sess := newFakeSession()
	self := Profile{ID: "me", Name: "Me"}
	conv := NewConversation("chat-1", self, sess, store, opts)
	if err := conv.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	return conv, sess
}

func TestConversationOptimisticSendRoundTrip(t *testing.T) {
	store := &fakeStore{}
	conv, _ := testConversation(t, store, ConversationOptions{})
	defer conv.Close()

	conv.SetCompose("hello", nil)
	if err := conv.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Pending entry is visible immediately and the compose box is cleared.
	snap := conv.Snapshot()
	if len(snap) == 0 {
		t.Fatal("pending entry not visible after Send")
	}
	if cs := conv.ComposeState(); cs.Text != "" {
		t.Fatalf("compose not cleared: %q", cs.Text)
	}

	waitFor(t, func() bool {
		snap := conv.Snapshot()
		return len(snap) == 1 && !snap[0].Pending
	})

	final := conv.Snapshot()[0]
	if final.ID == "" || final.Text != "hello" {
		t.Fatalf("unexpected reconciled entry: %+v", final)
	}
	if final.Sender.ID != "me" {
		t.Fatalf("reconciled sender = %q, want local profile", final.Sender.ID)
	}
}

func TestConversationFailedSendRollsBackAndRestoresCompose(t *testing.T) {
	store := &fakeStore{sendErr: errors.New("upstream down")}
	var notices []Notice
	var mu sync.Mutex
	conv, _ := testConversation(t, store, ConversationOptions{
		Notify: func(n Notice) {
			mu.Lock()
			notices = append(notices, n)
			mu.Unlock()
		},
	})
	defer conv.Close()

	conv.SetCompose("doomed", nil)
	if err := conv.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool {
		return conv.ComposeState().Text == "doomed"
	})

	if n := len(conv.Snapshot()); n != 0 {
		t.Fatalf("rolled-back entry still visible, len = %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(notices) != 1 || notices[0].Code != ErrCodeSendFailed {
		t.Fatalf("expected one send_failed notice, got %+v", notices)
	}
}

func TestConversationSecondSendWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStore{sendGate: gate}
	conv, _ := testConversation(t, store, ConversationOptions{})
	defer conv.Close()
	defer close(gate)

	conv.SetCompose("first", nil)
	if err := conv.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}

	conv.SetCompose("second", nil)
	if err := conv.Send(context.Background()); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("err = %v, want ErrSendInFlight", err)
	}
}

func TestConversationSendEmptyCompose(t *testing.T) {
	conv, _ := testConversation(t, &fakeStore{}, ConversationOptions{})
	defer conv.Close()

	if err := conv.Send(context.Background()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestConversationRacingPushAndAckYieldOneEntry(t *testing.T) {
	ackID := uuid.NewString()
	at := time.Now()
	gate := make(chan struct{})
	store := &fakeStore{
		sendGate: gate,
		ack: func(text string) Message {
			return Message{ID: ackID, ConversationID: "chat-1", Kind: KindText, Text: text, CreatedAt: at}
		},
	}
	conv, _ := testConversation(t, store, ConversationOptions{})
	defer conv.Close()

	conv.SetCompose("hello", nil)
	if err := conv.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The server relay of the same durable record lands before the ack.
	conv.HandleEvent(Event{
		Kind:   EventNewMessage,
		ChatID: "chat-1",
		Message: Message{
			ID:             ackID,
			ConversationID: "chat-1",
			Sender:         Profile{ID: "me", Name: "Me"},
			Kind:           KindText,
			Text:           "hello",
			CreatedAt:      at,
		},
	})
	close(gate)

	waitFor(t, func() bool {
		snap := conv.Snapshot()
		return len(snap) == 1 && snap[0].ID == ackID && !snap[0].Pending
	})
}

func TestConversationClosedWhileSendInFlight(t *testing.T) {
	gate := make(chan struct{})
	store := &fakeStore{sendGate: gate}
	conv, sess := testConversation(t, store, ConversationOptions{})

	conv.SetCompose("orphan", nil)
	if err := conv.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}
	conv.Close()
	close(gate)

	// The late resolution must be a no-op, and the room must be left.
	waitFor(t, func() bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return len(sess.left) == 1
	})
	if snap := conv.Snapshot(); snap != nil {
		t.Fatalf("closed conversation still renders entries: %v", snap)
	}
	if err := conv.Send(context.Background()); !errors.Is(err, ErrConversationGone) {
		t.Fatalf("err = %v, want ErrConversationGone", err)
	}
}

func TestConversationPushClearsSenderTypingFlag(t *testing.T) {
	conv, _ := testConversation(t, &fakeStore{}, ConversationOptions{})
	defer conv.Close()

	conv.HandleEvent(Event{Kind: EventTyping, ChatID: "chat-1", UserID: "peer", Typing: true})
	if users := conv.TypingUsers(); len(users) != 1 || users[0] != "peer" {
		t.Fatalf("typing users = %v", users)
	}

	conv.HandleEvent(Event{
		Kind:    EventNewMessage,
		ChatID:  "chat-1",
		Message: durableMsg("m-1", "peer", 0),
	})
	if users := conv.TypingUsers(); len(users) != 0 {
		t.Fatalf("typing flag survived the message: %v", users)
	}
}

func TestConversationClosedReportsNoTypingUsers(t *testing.T) {
	conv, _ := testConversation(t, &fakeStore{}, ConversationOptions{TypingDecay: time.Minute})

	conv.HandleEvent(Event{Kind: EventTyping, ChatID: "chat-1", UserID: "peer", Typing: true})
	conv.Close()

	if users := conv.TypingUsers(); users != nil {
		t.Fatalf("closed conversation still reports typers: %v", users)
	}
}

func TestConversationTypingFlagDecays(t *testing.T) {
	conv, _ := testConversation(t, &fakeStore{}, ConversationOptions{TypingDecay: 30 * time.Millisecond})
	defer conv.Close()

	conv.HandleEvent(Event{Kind: EventTyping, ChatID: "chat-1", UserID: "peer", Typing: true})
	waitFor(t, func() bool {
		return len(conv.TypingUsers()) == 0
	})
}

func TestConversationTypingSignalDebounce(t *testing.T) {
	store := &fakeStore{}
	conv, sess := testConversation(t, store, ConversationOptions{TypingQuiet: 30 * time.Millisecond})
	defer conv.Close()

	// Several keystrokes in quick succession emit exactly one start.
	conv.SetCompose("h", nil)
	conv.SetCompose("he", nil)
	conv.SetCompose("hel", nil)

	signals := sess.typingSignals()
	if len(signals) != 1 || !signals[0] {
		t.Fatalf("signals after keystrokes = %v, want [true]", signals)
	}

	// The quiet interval elapses and the stop follows.
	waitFor(t, func() bool {
		s := sess.typingSignals()
		return len(s) == 2 && !s[1]
	})
}

func TestConversationSendSuppressesTypingSignal(t *testing.T) {
	store := &fakeStore{}
	conv, sess := testConversation(t, store, ConversationOptions{TypingQuiet: time.Minute})
	defer conv.Close()

	conv.SetCompose("hello", nil)
	if err := conv.Send(context.Background()); err != nil {
		t.Fatalf("send: %v", err)
	}

	waitFor(t, func() bool {
		s := sess.typingSignals()
		return len(s) == 2 && s[0] && !s[1]
	})
}
