package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/skillbay/chatsync/internal/log"
)

// ConversationOptions tunes a conversation. Zero values fall back to
// defaults.
type ConversationOptions struct {
	TypingQuiet        time.Duration
	TypingDecay        time.Duration
	MaxAttachmentBytes int
	// Notify receives user-visible recoverable faults. Defaults to logging.
	Notify func(Notice)
	// OnUpdate fires after any change visible through Snapshot or
	// TypingUsers, outside the conversation lock. The rendering surface
	// hooks it to repaint.
	OnUpdate func()
	Logger   *zerolog.Logger
}

// Conversation wires the buffer, send coordinator, and typing signal for one
// open conversation on top of the shared session and the message store.
//
// All state mutations are serialized by one mutex; events, UI input, and
// store callbacks interleave arbitrarily but never run concurrently against
// the buffer. The de-duplication and sender-filtering rules make that
// interleaving safe.
type Conversation struct {
	id    string
	self  Profile
	sess  Session
	store MessageStore
	log   *zerolog.Logger

	notify      func(Notice)
	onUpdate    func()
	typingDecay time.Duration

	mu           sync.Mutex
	buf          *Buffer
	coord        *Coordinator
	signaler     *typingSignaler
	othersTyping map[string]time.Time
	closed       bool
}

// NewConversation builds a conversation for the local participant. It does
// not touch the network until Open is called.
func NewConversation(id string, self Profile, sess Session, store MessageStore, opts ConversationOptions) *Conversation {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	decay := opts.TypingDecay
	if decay <= 0 {
		decay = DefaultTypingDecay
	}

	c := &Conversation{
		id:           id,
		self:         self,
		sess:         sess,
		store:        store,
		log:          logger,
		typingDecay:  decay,
		othersTyping: make(map[string]time.Time),
	}
	c.buf = NewBuffer(id, self.ID)
	c.coord = NewCoordinator(self, c.buf, opts.MaxAttachmentBytes)
	c.signaler = newTypingSignaler(id, sess, opts.TypingQuiet, &c.mu)

	c.notify = opts.Notify
	if c.notify == nil {
		c.notify = func(n Notice) {
			logger.Warn().Str("code", n.Code).Str("chat_id", id).Msg(n.Text)
		}
	}
	c.onUpdate = opts.OnUpdate
	return c
}

func (c *Conversation) changed() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}

// ID returns the conversation identity.
func (c *Conversation) ID() string {
	return c.id
}

// Open joins the conversation room and loads the initial message page. The
// join completes first so push delivery overlaps the bulk fetch; the buffer's
// de-duplication pass positions both correctly whichever lands first.
func (c *Conversation) Open(ctx context.Context) error {
	if err := c.sess.Join(ctx, c.id); err != nil {
		return fmt.Errorf("join %s: %w", c.id, err)
	}
	page, err := c.store.FetchPage(ctx, c.id)
	if err != nil {
		return fmt.Errorf("fetch page %s: %w", c.id, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConversationGone
	}
	c.buf.Load(page)
	c.mu.Unlock()

	c.changed()
	return nil
}

// Refresh re-fetches the latest page and merges it into the buffer. Used by
// the reconnect supervisor after a rejoin; de-duplication makes replaying an
// overlapping page safe.
func (c *Conversation) Refresh(ctx context.Context) error {
	page, err := c.store.FetchPage(ctx, c.id)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", c.id, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConversationGone
	}
	c.buf.Load(page)
	c.mu.Unlock()

	c.changed()
	return nil
}

// HandleEvent is the single dispatch point for inbound transport events that
// target this conversation.
func (c *Conversation) HandleEvent(ev Event) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	updated := false
	switch ev.Kind {
	case EventNewMessage:
		if c.buf.IngestPush(ev.Message) {
			// A real message supersedes the sender's typing flag.
			delete(c.othersTyping, ev.Message.Sender.ID)
			updated = true
		}
	case EventTyping:
		if ev.UserID != c.self.ID {
			if ev.Typing {
				c.othersTyping[ev.UserID] = time.Now()
			} else {
				delete(c.othersTyping, ev.UserID)
			}
			updated = true
		}
	case EventJoinAck:
		c.log.Debug().Str("chat_id", c.id).Msg("join acknowledged")
	case EventError:
		if ev.Err != nil {
			notice := Notice{Code: ev.Err.Code, Text: ev.Err.Message}
			c.mu.Unlock()
			c.notify(notice)
			return
		}
	}
	c.mu.Unlock()

	if updated {
		c.changed()
	}
}

// SetCompose replaces the compose box content and refreshes the typing
// signal when there is content to signal about.
func (c *Conversation) SetCompose(text string, att *Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.coord.SetCompose(text, att)
	if text != "" || att != nil {
		c.signaler.keystroke()
	}
}

// ComposeState returns the current compose box content. After a failed send
// it holds the restored original.
func (c *Conversation) ComposeState() Compose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coord.ComposeState()
}

// Send performs an optimistic send of the current compose content: the
// pending entry is visible in Snapshot before the durable request is even
// issued, and the compose box is cleared immediately. Validation failures
// (empty content, bad attachment, a send already in flight) return before any
// network call.
func (c *Conversation) Send(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConversationGone
	}
	pending, content, err := c.coord.Begin()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	// Suppress the typing signal before the durable request fires.
	c.signaler.stop()
	c.mu.Unlock()

	c.changed()
	go c.resolve(ctx, pending, content)
	return nil
}

// resolve races the durable-send request and reconciles the outcome. If the
// conversation was closed while the request was in flight, the resolution is
// ignored: a no-op, not an error.
func (c *Conversation) resolve(ctx context.Context, pending Message, content Compose) {
	durable, err := c.store.SendMessage(ctx, c.id, content.Text, pending.Kind, content.Attachment)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.coord.Fail(pending.TempID)
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("chat_id", c.id).Msg("send failed, rolled back")
		c.notify(Notice{Code: ErrCodeSendFailed, Text: "message could not be sent"})
		c.changed()
		return
	}
	c.coord.Succeed(pending.TempID, durable)
	c.mu.Unlock()

	c.changed()
}

// Snapshot returns the current ordered, de-duplicated view for rendering.
func (c *Conversation) Snapshot() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.buf.Snapshot()
}

// TypingUsers lists participants whose typing flag is fresh. Flags decay
// after the configured window even if the server never sends an explicit
// stop.
func (c *Conversation) TypingUsers() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	cutoff := time.Now().Add(-c.typingDecay)
	var users []string
	for id, seen := range c.othersTyping {
		if seen.After(cutoff) {
			users = append(users, id)
		}
	}
	return users
}

// Close leaves the room, discards the buffer, and clears the typing timer.
// An in-flight send is left un-cancelled; its eventual resolution becomes a
// no-op because the buffer it targeted is gone.
func (c *Conversation) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.signaler.cancel()
	c.buf = NewBuffer(c.id, c.self.ID) // drop entries; never reused
	c.mu.Unlock()

	_ = c.sess.Leave(c.id)
}
