// Package transport implements the chat.Session contract over a single
// WebSocket connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/skillbay/chatsync/internal/chat"
	"github.com/skillbay/chatsync/internal/log"
	"github.com/skillbay/chatsync/internal/proto"
)

// State is the authentication state of the session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateFailed
	StateDisconnected
)

const writeTimeout = 10 * time.Second

// Session owns one physical WebSocket connection. All open conversations in
// the process share it; each additional conversation only issues another
// join. The event channel survives reconnects: a redial feeds the same
// stream, so the consumer loop never has to resubscribe.
type Session struct {
	endpoint string
	log      *zerolog.Logger

	events chan chat.Event
	done   chan struct{}

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	joined    map[string]bool
	authWait  chan error
	joinWaits map[string][]chan error
	closed    bool
	readDone  sync.WaitGroup
}

// NewSession builds a session for the given ws:// endpoint. No network
// activity happens until Connect.
func NewSession(endpoint string, logger *zerolog.Logger) *Session {
	if logger == nil {
		logger = log.Nop()
	}
	return &Session{
		endpoint:  endpoint,
		log:       logger,
		events:    make(chan chat.Event, 64),
		done:      make(chan struct{}),
		joined:    make(map[string]bool),
		joinWaits: make(map[string][]chan error),
	}
}

// Connect establishes the duplex channel and starts the read loop.
// Idempotent when already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return chat.ErrNotConnected
	}
	if s.conn != nil {
		return nil
	}

	conn, _, err := websocket.Dial(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.endpoint, err)
	}

	s.conn = conn
	s.state = StateUnauthenticated
	s.joined = make(map[string]bool)

	s.readDone.Add(1)
	go s.readLoop(conn)
	return nil
}

// Authenticate sends the credential token and blocks until the server
// accepts or rejects it. On rejection the session stays unusable for joins;
// the caller decides whether to retry.
func (s *Session) Authenticate(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return chat.ErrNotConnected
	}
	s.state = StateAuthenticating
	wait := make(chan error, 1)
	s.authWait = wait
	conn := s.conn
	s.mu.Unlock()

	if err := write(ctx, conn, proto.TypeAuthenticate, proto.AuthenticateData{Token: token}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-wait:
		return err
	}
}

// Join subscribes a conversation room and blocks until the explicit
// joined_chat acknowledgment is observed. Only after that are push events
// for the conversation treated as reliable.
func (s *Session) Join(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return chat.ErrNotConnected
	}
	if s.state != StateAuthenticated {
		s.mu.Unlock()
		return chat.ErrNotAuthenticated
	}
	wait := make(chan error, 1)
	s.joinWaits[conversationID] = append(s.joinWaits[conversationID], wait)
	// Only the first waiter sends the frame; concurrent joins for the same
	// conversation share the single acknowledgment.
	first := len(s.joinWaits[conversationID]) == 1
	conn := s.conn
	s.mu.Unlock()

	if first {
		if err := write(ctx, conn, proto.TypeJoinChat, proto.JoinData{ChatID: conversationID}); err != nil {
			s.mu.Lock()
			waits := s.joinWaits[conversationID]
			delete(s.joinWaits, conversationID)
			s.mu.Unlock()
			for _, w := range waits {
				if w != wait {
					w <- err
				}
			}
			return err
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-wait:
		return err
	}
}

// Leave unsubscribes a conversation room. Fire-and-forget.
func (s *Session) Leave(conversationID string) error {
	s.mu.Lock()
	conn := s.conn
	delete(s.joined, conversationID)
	s.mu.Unlock()
	if conn == nil {
		return chat.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return write(ctx, conn, proto.TypeLeaveChat, proto.JoinData{ChatID: conversationID})
}

// Typing emits a typing_start or typing_stop signal. Fire-and-forget.
func (s *Session) Typing(conversationID string, active bool) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return chat.ErrNotConnected
	}

	frameType := proto.TypeTypingStop
	if active {
		frameType = proto.TypeTypingStart
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return write(ctx, conn, frameType, proto.TypingData{ChatID: conversationID})
}

// Events returns the typed inbound event stream. It is closed only by
// Close, never by a disconnect.
func (s *Session) Events() <-chan chat.Event {
	return s.events
}

// State returns the current authentication state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears the connection down and closes the event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "teardown")
	}
	s.readDone.Wait()
	close(s.events)
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.readDone.Done()
	ctx := context.Background()

	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			s.connectionLost(conn, err)
			return
		}
		s.handleFrame(env)
	}
}

func (s *Session) handleFrame(env proto.Envelope) {
	switch env.Type {
	case proto.TypeAuthenticated:
		s.mu.Lock()
		s.state = StateAuthenticated
		wait := s.authWait
		s.authWait = nil
		s.mu.Unlock()
		if wait != nil {
			wait <- nil
		}
		s.emit(chat.Event{Kind: chat.EventAuthenticated})

	case proto.TypeAuthError:
		var data proto.AuthErrorData
		_ = env.Open(&data)
		s.mu.Lock()
		s.state = StateFailed
		wait := s.authWait
		s.authWait = nil
		s.mu.Unlock()
		authErr := &chat.Error{Code: chat.ErrCodeAuthFailed, Message: data.Reason}
		if wait != nil {
			wait <- authErr
		}
		s.emit(chat.Event{Kind: chat.EventAuthError, Err: authErr})

	case proto.TypeJoinedChat:
		var data proto.JoinedData
		if err := env.Open(&data); err != nil {
			s.log.Warn().Err(err).Msg("bad joined_chat frame")
			return
		}
		s.mu.Lock()
		s.joined[data.ChatID] = true
		waits := s.joinWaits[data.ChatID]
		delete(s.joinWaits, data.ChatID)
		s.mu.Unlock()
		for _, wait := range waits {
			wait <- nil
		}
		s.emit(chat.Event{Kind: chat.EventJoinAck, ChatID: data.ChatID})

	case proto.TypeNewMessage:
		var wire proto.WireMessage
		if err := env.Open(&wire); err != nil {
			s.log.Warn().Err(err).Msg("bad new_message frame")
			return
		}
		if !s.isJoined(wire.ChatID) {
			s.log.Debug().Str("chat_id", wire.ChatID).Msg("push for unjoined conversation discarded")
			return
		}
		s.emit(chat.Event{Kind: chat.EventNewMessage, ChatID: wire.ChatID, Message: MessageFromWire(wire)})

	case proto.TypeUserTyping:
		var data proto.UserTypingData
		if err := env.Open(&data); err != nil {
			s.log.Warn().Err(err).Msg("bad user_typing frame")
			return
		}
		if !s.isJoined(data.ChatID) {
			return
		}
		s.emit(chat.Event{Kind: chat.EventTyping, ChatID: data.ChatID, UserID: data.UserID, Typing: data.Typing})

	case proto.TypeError:
		var data proto.ErrorData
		_ = env.Open(&data)
		s.emit(chat.Event{Kind: chat.EventError, Err: &chat.Error{Code: data.Code, Message: data.Msg}})

	default:
		s.log.Debug().Str("type", env.Type).Msg("unknown frame type ignored")
	}
}

// connectionLost transitions to the terminal disconnected state. Pending
// waiters are failed, the joined set is cleared, and one Disconnected event
// is emitted. Reconnecting is the caller's policy.
func (s *Session) connectionLost(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	s.joined = make(map[string]bool)
	authWait := s.authWait
	s.authWait = nil
	waits := s.joinWaits
	s.joinWaits = make(map[string][]chan error)
	s.mu.Unlock()

	discErr := &chat.Error{Code: chat.ErrCodeDisconnected, Message: "connection lost"}
	if authWait != nil {
		authWait <- discErr
	}
	for _, list := range waits {
		for _, wait := range list {
			wait <- discErr
		}
	}

	if !errors.Is(cause, context.Canceled) {
		status := websocket.CloseStatus(cause)
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			s.log.Warn().Err(cause).Msg("connection lost")
		}
	}
	s.emit(chat.Event{Kind: chat.EventDisconnected, Err: discErr})
}

func (s *Session) isJoined(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[chatID]
}

// emit delivers an event to the consumer. It must never block a torn-down
// session: once Close fires, events are dropped so the read loop can drain
// out and Close's wait can complete.
func (s *Session) emit(ev chat.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func write(ctx context.Context, conn *websocket.Conn, frameType string, payload any) error {
	env, err := proto.Seal(frameType, payload)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, env); err != nil {
		return fmt.Errorf("write %s: %w", frameType, err)
	}
	return nil
}
