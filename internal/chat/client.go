package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skillbay/chatsync/internal/log"
)

// ClientOptions tunes the process-level client.
type ClientOptions struct {
	TypingQuiet        time.Duration
	TypingDecay        time.Duration
	MaxAttachmentBytes int
	ReconnectMin       time.Duration
	ReconnectMax       time.Duration
	Notify             func(Notice)
	// OnUpdate fires when any open conversation's visible state changes.
	OnUpdate func()
	Logger   *zerolog.Logger
}

// Client owns the single transport session for the process and routes
// inbound events to the conversations opened through it. It has an explicit
// lifecycle: Start after login, Teardown on logout. No package-level state.
//
// The session itself never reconnects; Client carries that policy. On a
// disconnect it redials with capped exponential backoff, re-authenticates,
// re-joins every previously open conversation, and re-fetches each one's
// latest page. The buffer's de-duplication absorbs any replay.
type Client struct {
	sess  Session
	store MessageStore
	self  Profile
	token string
	opts  ClientOptions
	log   *zerolog.Logger

	notify func(Notice)

	mu     sync.Mutex
	convs  map[string]*Conversation
	closed bool
}

// NewClient wires a client over an existing session and message store. self
// is the authenticated local participant; token is the credential presented
// on (re-)authentication.
func NewClient(sess Session, store MessageStore, self Profile, token string, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = time.Second
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = 30 * time.Second
	}

	c := &Client{
		sess:  sess,
		store: store,
		self:  self,
		token: token,
		opts:  opts,
		log:   logger,
		convs: make(map[string]*Conversation),
	}
	c.notify = opts.Notify
	if c.notify == nil {
		c.notify = func(n Notice) {
			logger.Warn().Str("code", n.Code).Msg(n.Text)
		}
	}
	return c
}

// Start connects and authenticates the session.
func (c *Client) Start(ctx context.Context) error {
	if err := c.sess.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := c.sess.Authenticate(ctx, c.token); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	return nil
}

// Run consumes the session's event stream and dispatches until the context
// is cancelled or the session is torn down. Call after Start.
func (c *Client) Run(ctx context.Context) error {
	events := c.sess.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.dispatch(ctx, ev)
		}
	}
}

func (c *Client) dispatch(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventDisconnected:
		c.notify(Notice{Code: ErrCodeDisconnected, Text: "connection lost, reconnecting"})
		c.reconnect(ctx)
	case EventAuthError:
		text := "authentication rejected"
		if ev.Err != nil {
			text = ev.Err.Message
		}
		c.notify(Notice{Code: ErrCodeAuthFailed, Text: text})
	case EventError:
		if ev.ChatID != "" {
			if conv := c.conversation(ev.ChatID); conv != nil {
				conv.HandleEvent(ev)
				return
			}
		}
		if ev.Err != nil {
			c.notify(Notice{Code: ErrCodeTransport, Text: ev.Err.Message})
		}
	default:
		if conv := c.conversation(ev.ChatID); conv != nil {
			conv.HandleEvent(ev)
		}
	}
}

// Open registers a conversation for event routing, joins it, and loads its
// first page. Registration happens before the join so a push that races the
// bulk fetch is still delivered; the buffer's de-duplication absorbs the
// overlap. Additional conversations reuse the same connection and only issue
// another join.
func (c *Client) Open(ctx context.Context, conversationID string) (*Conversation, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConversationGone
	}
	if conv, exists := c.convs[conversationID]; exists {
		c.mu.Unlock()
		return conv, nil
	}
	conv := NewConversation(conversationID, c.self, c.sess, c.store, ConversationOptions{
		TypingQuiet:        c.opts.TypingQuiet,
		TypingDecay:        c.opts.TypingDecay,
		MaxAttachmentBytes: c.opts.MaxAttachmentBytes,
		Notify:             c.notify,
		OnUpdate:           c.opts.OnUpdate,
		Logger:             c.log,
	})
	c.convs[conversationID] = conv
	c.mu.Unlock()

	if err := conv.Open(ctx); err != nil {
		c.mu.Lock()
		if c.convs[conversationID] == conv {
			delete(c.convs, conversationID)
		}
		c.mu.Unlock()
		conv.Close()
		return nil, err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		conv.Close()
		return nil, ErrConversationGone
	}
	return conv, nil
}

// CloseConversation leaves and discards one conversation.
func (c *Client) CloseConversation(conversationID string) {
	c.mu.Lock()
	conv := c.convs[conversationID]
	delete(c.convs, conversationID)
	c.mu.Unlock()

	if conv != nil {
		conv.Close()
	}
}

// Teardown closes every conversation and the session. The client is not
// reusable afterwards.
func (c *Client) Teardown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	convs := make([]*Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		convs = append(convs, conv)
	}
	c.convs = make(map[string]*Conversation)
	c.mu.Unlock()

	for _, conv := range convs {
		conv.Close()
	}
	_ = c.sess.Close()
}

func (c *Client) conversation(chatID string) *Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.convs[chatID]
}

// reconnect redials until the context dies or the session is back, then
// restores every open conversation. Failures surface as notices, never as a
// process exit.
func (c *Client) reconnect(ctx context.Context) {
	backoff := c.opts.ReconnectMin
	for {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		if err := c.restore(ctx); err == nil {
			c.log.Info().Msg("session restored")
			return
		} else {
			c.log.Warn().Err(err).Dur("backoff", backoff).Msg("reconnect attempt failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.opts.ReconnectMax {
			backoff = c.opts.ReconnectMax
		}
	}
}

func (c *Client) restore(ctx context.Context) error {
	if err := c.sess.Connect(ctx); err != nil {
		return fmt.Errorf("redial: %w", err)
	}
	if err := c.sess.Authenticate(ctx, c.token); err != nil {
		return fmt.Errorf("re-authenticate: %w", err)
	}

	c.mu.Lock()
	convs := make([]*Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		convs = append(convs, conv)
	}
	c.mu.Unlock()

	for _, conv := range convs {
		if err := c.sess.Join(ctx, conv.ID()); err != nil {
			return fmt.Errorf("rejoin %s: %w", conv.ID(), err)
		}
		if err := conv.Refresh(ctx); err != nil {
			c.log.Warn().Err(err).Str("chat_id", conv.ID()).Msg("refresh after rejoin failed")
		}
	}
	return nil
}
