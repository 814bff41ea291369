package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/skillbay/chatsync/internal/log"
	"github.com/skillbay/chatsync/internal/proto"
	"github.com/skillbay/chatsync/internal/server/storage"
)

type commandKind int

const (
	cmdRegister commandKind = iota
	cmdUnregister
	cmdJoin
	cmdLeave
	cmdTyping
	cmdBroadcast
)

type command struct {
	kind    commandKind
	client  *client
	chatID  string
	typing  bool
	message *proto.WireMessage
}

// Hub coordinates conversation rooms on a single goroutine. Clients join and
// leave rooms, typing signals relay to the other participants, and persisted
// messages broadcast to every member, the sender's own connection included,
// so the wire behavior matches what sync clients must filter.
type Hub struct {
	store    storage.ConversationStore
	log      *zerolog.Logger
	commands chan command
	rooms    map[string]map[*client]struct{}
	clients  map[*client]map[string]struct{}
}

// NewHub creates a hub backed by the given conversation store.
func NewHub(store storage.ConversationStore, logger *zerolog.Logger) *Hub {
	if logger == nil {
		logger = log.Nop()
	}
	return &Hub{
		store:    store,
		log:      logger,
		commands: make(chan command, 64),
		rooms:    make(map[string]map[*client]struct{}),
		clients:  make(map[*client]map[string]struct{}),
	}
}

// Run processes commands until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.handle(ctx, cmd)
		}
	}
}

// RegisterClient adds a connection to the hub.
func (h *Hub) RegisterClient(c *client) {
	h.commands <- command{kind: cmdRegister, client: c}
}

// UnregisterClient removes a connection and all its room memberships.
func (h *Hub) UnregisterClient(c *client) {
	h.commands <- command{kind: cmdUnregister, client: c}
}

// Join subscribes a connection to a conversation room after a participant
// check. The joined_chat acknowledgment (or an error frame) is pushed to the
// client once the join is effective.
func (h *Hub) Join(c *client, chatID string) {
	h.commands <- command{kind: cmdJoin, client: c, chatID: chatID}
}

// Leave unsubscribes a connection from a room.
func (h *Hub) Leave(c *client, chatID string) {
	h.commands <- command{kind: cmdLeave, client: c, chatID: chatID}
}

// TypingSignal relays a typing state change to the other room members.
func (h *Hub) TypingSignal(c *client, chatID string, typing bool) {
	h.commands <- command{kind: cmdTyping, client: c, chatID: chatID, typing: typing}
}

// BroadcastMessage pushes a persisted message to every member of its room.
// Called by the REST send handler after the store acknowledged the message.
func (h *Hub) BroadcastMessage(msg proto.WireMessage) {
	h.commands <- command{kind: cmdBroadcast, chatID: msg.ChatID, message: &msg}
}

func (h *Hub) handle(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdRegister:
		h.clients[cmd.client] = make(map[string]struct{})

	case cmdUnregister:
		for chatID := range h.clients[cmd.client] {
			h.removeFromRoom(cmd.client, chatID)
		}
		delete(h.clients, cmd.client)

	case cmdJoin:
		h.join(ctx, cmd.client, cmd.chatID)

	case cmdLeave:
		h.removeFromRoom(cmd.client, cmd.chatID)
		delete(h.clients[cmd.client], cmd.chatID)

	case cmdTyping:
		h.relayTyping(cmd.client, cmd.chatID, cmd.typing)

	case cmdBroadcast:
		env, err := proto.Seal(proto.TypeNewMessage, cmd.message)
		if err != nil {
			h.log.Error().Err(err).Msg("seal new_message")
			return
		}
		for member := range h.rooms[cmd.chatID] {
			member.push(env)
		}
	}
}

func (h *Hub) join(ctx context.Context, c *client, chatID string) {
	conv, err := h.store.GetConversation(ctx, chatID)
	if err != nil {
		c.push(errorFrame("chat_not_found", "conversation not found"))
		return
	}
	participant := false
	for _, id := range conv.Participants() {
		if id == c.userID {
			participant = true
			break
		}
	}
	if !participant {
		c.push(errorFrame("not_participant", "not a participant of this conversation"))
		return
	}

	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[*client]struct{})
		h.rooms[chatID] = room
	}
	room[c] = struct{}{}
	if memberships, ok := h.clients[c]; ok {
		memberships[chatID] = struct{}{}
	}

	ack, err := proto.Seal(proto.TypeJoinedChat, proto.JoinedData{ChatID: chatID})
	if err != nil {
		h.log.Error().Err(err).Msg("seal joined_chat")
		return
	}
	c.push(ack)
	h.log.Debug().Str("chat_id", chatID).Str("user_id", c.userID).Msg("joined conversation")
}

func (h *Hub) relayTyping(c *client, chatID string, typing bool) {
	if _, member := h.rooms[chatID][c]; !member {
		return
	}
	env, err := proto.Seal(proto.TypeUserTyping, proto.UserTypingData{
		ChatID: chatID,
		UserID: c.userID,
		Typing: typing,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("seal user_typing")
		return
	}
	for member := range h.rooms[chatID] {
		if member == c {
			continue
		}
		member.push(env)
	}
}

func (h *Hub) removeFromRoom(c *client, chatID string) {
	room, ok := h.rooms[chatID]
	if !ok {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, chatID)
	}
}

func errorFrame(code, msg string) proto.Envelope {
	env, err := proto.Seal(proto.TypeError, proto.ErrorData{Code: code, Msg: msg})
	if err != nil {
		return proto.Envelope{Type: proto.TypeError}
	}
	return env
}
