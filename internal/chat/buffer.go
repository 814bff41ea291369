package chat

import "sort"

// Buffer is the ordered, de-duplicated message log for exactly one
// conversation. It accepts inserts from three interleaved sources (bulk load,
// push delivery, optimistic local sends) and keeps two invariants: no two
// entries share a durable identity, and the rendered order is always
// creation-timestamp order regardless of arrival order.
//
// Buffer is not safe for concurrent use; Conversation serializes access.
type Buffer struct {
	conversationID string
	localUserID    string
	entries        []Message
	durable        map[string]struct{}
}

// NewBuffer creates an empty buffer for one conversation. localUserID is the
// identity whose push echoes are filtered out.
func NewBuffer(conversationID, localUserID string) *Buffer {
	return &Buffer{
		conversationID: conversationID,
		localUserID:    localUserID,
		durable:        make(map[string]struct{}),
	}
}

// Load merges a fetched page into the buffer. The initial page and older
// prepended pages go through the same pass: entries already present by
// durable identity are dropped, everything else is inserted and re-sorted.
// A push that landed before the bulk fetch completed is therefore positioned
// correctly once both have arrived.
func (b *Buffer) Load(page []Message) {
	changed := false
	for _, m := range page {
		if m.ID == "" {
			continue // a fetched page never carries pending entries
		}
		if _, exists := b.durable[m.ID]; exists {
			continue
		}
		m.Pending = false
		m.TempID = 0
		b.durable[m.ID] = struct{}{}
		b.entries = append(b.entries, m)
		changed = true
	}
	if changed {
		b.sortEntries()
	}
}

// IngestPush handles one new_message event. Returns true if the buffer
// changed. Duplicate delivery (reconnect replay, event re-emission) and
// self-echoes are absorbed silently: the local participant's own sends are
// reconciled exclusively through the send coordinator, so accepting an echo
// would race the temp-to-durable swap.
func (b *Buffer) IngestPush(m Message) bool {
	if m.ID == "" {
		return false
	}
	if _, exists := b.durable[m.ID]; exists {
		return false
	}
	if m.Sender.ID == b.localUserID {
		return false
	}
	m.Pending = false
	m.TempID = 0
	b.durable[m.ID] = struct{}{}
	b.entries = append(b.entries, m)
	b.sortEntries()
	return true
}

// IngestLocal appends a pending entry produced by the send coordinator.
// No durable de-duplication applies: temp identities live in a disjoint
// namespace, so a collision is impossible by construction.
func (b *Buffer) IngestLocal(pending Message) {
	pending.Pending = true
	pending.ID = ""
	b.entries = append(b.entries, pending)
	b.sortEntries()
}

// Reconcile resolves the pending entry with the given temp identity. When
// durable is non-nil the entry is swapped for the acknowledged record with a
// full de-duplication pass applied, so a push for the same durable identity
// that raced the acknowledgment still yields exactly one entry. When durable
// is nil the pending entry is removed and nothing else changes.
func (b *Buffer) Reconcile(tempID int64, durable *Message) {
	b.removeTemp(tempID)
	if durable == nil {
		return
	}
	m := *durable
	if m.ID == "" {
		return
	}
	if _, exists := b.durable[m.ID]; exists {
		return
	}
	m.Pending = false
	m.TempID = 0
	b.durable[m.ID] = struct{}{}
	b.entries = append(b.entries, m)
	b.sortEntries()
}

// Snapshot returns a copy of the current ordered view. Pure, no side effects.
func (b *Buffer) Snapshot() []Message {
	out := make([]Message, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len reports the number of entries.
func (b *Buffer) Len() int {
	return len(b.entries)
}

func (b *Buffer) removeTemp(tempID int64) {
	for i, m := range b.entries {
		if m.Pending && m.TempID == tempID {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// sortEntries orders by creation timestamp ascending; ties between durable
// entries break on durable identity ascending so the order is deterministic.
// A pending entry sorts after durable entries at the same instant.
func (b *Buffer) sortEntries() {
	sort.SliceStable(b.entries, func(i, j int) bool {
		a, c := b.entries[i], b.entries[j]
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		switch {
		case !a.Pending && !c.Pending:
			return a.ID < c.ID
		case a.Pending && c.Pending:
			return a.TempID < c.TempID
		default:
			return !a.Pending
		}
	})
}
