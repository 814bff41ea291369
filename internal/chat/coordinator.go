package chat

import "time"

// Compose is the state of the compose box for one conversation.
type Compose struct {
	Text       string
	Attachment *Attachment
}

func (c Compose) empty() bool {
	return c.Text == "" && c.Attachment == nil
}

// Coordinator makes local sends feel instantaneous while guaranteeing the
// buffer never shows a lost message without explaining its fate. It allows at
// most one outstanding send per conversation: the pending entry is inserted
// immediately, the durable-send request races in the background, and the
// outcome either swaps the temp entry for the acknowledged record or rolls it
// back and restores the compose box.
//
// Because the buffer discards push echoes of the local sender, the only path
// by which a local send becomes durable is this coordinator's reconcile call.
// That eliminates the duplicate-insertion race without a lock.
//
// Coordinator state is mutated only under Conversation's serialization.
type Coordinator struct {
	self     Profile
	buf      *Buffer
	maxBytes int

	compose  Compose
	retained Compose // original content kept for rollback while in flight
	inFlight bool
	lastTemp int64
}

// NewCoordinator wires a coordinator to a buffer for the local participant.
func NewCoordinator(self Profile, buf *Buffer, maxAttachmentBytes int) *Coordinator {
	return &Coordinator{self: self, buf: buf, maxBytes: maxAttachmentBytes}
}

// SetCompose replaces the compose box content.
func (c *Coordinator) SetCompose(text string, att *Attachment) {
	c.compose = Compose{Text: text, Attachment: att}
}

// ComposeState returns the current compose box content.
func (c *Coordinator) ComposeState() Compose {
	return c.compose
}

// InFlight reports whether a send is outstanding.
func (c *Coordinator) InFlight() bool {
	return c.inFlight
}

// Begin validates the compose content, inserts the pending entry, clears the
// compose box, and returns the pending message plus the content to hand to
// the store. The original content stays retained in memory until the outcome
// is known.
func (c *Coordinator) Begin() (Message, Compose, error) {
	if c.inFlight {
		return Message{}, Compose{}, ErrSendInFlight
	}
	if c.compose.empty() {
		return Message{}, Compose{}, ErrEmptyMessage
	}
	if err := ValidateAttachment(c.compose.Attachment, c.maxBytes); err != nil {
		return Message{}, Compose{}, err
	}

	kind := KindText
	if c.compose.Attachment != nil {
		kind = KindImage
	}

	pending := Message{
		TempID:         c.allocTemp(),
		ConversationID: c.buf.conversationID,
		Sender:         c.self,
		Kind:           kind,
		Text:           c.compose.Text,
		CreatedAt:      time.Now(),
		Pending:        true,
	}
	c.buf.IngestLocal(pending)

	c.retained = c.compose
	c.compose = Compose{}
	c.inFlight = true
	return pending, c.retained, nil
}

// Succeed swaps the pending entry for the acknowledged record. The sender
// attributes are forced to the local profile rather than trusted from the
// response, in case the embedded profile snapshot is stale.
func (c *Coordinator) Succeed(tempID int64, durable Message) {
	durable.Sender = c.self
	c.buf.Reconcile(tempID, &durable)
	c.retained = Compose{}
	c.inFlight = false
}

// Fail rolls the pending entry back and restores the compose box to the
// original content, so nothing the user wrote is ever lost.
func (c *Coordinator) Fail(tempID int64) {
	c.buf.Reconcile(tempID, nil)
	c.compose = c.retained
	c.retained = Compose{}
	c.inFlight = false
}

// allocTemp returns a temp identity from a monotonic local clock. These
// values live in a namespace disjoint from durable identities and are never
// transmitted as if they were durable.
func (c *Coordinator) allocTemp() int64 {
	t := time.Now().UnixNano()
	if t <= c.lastTemp {
		t = c.lastTemp + 1
	}
	c.lastTemp = t
	return t
}
