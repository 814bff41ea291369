package server

import "github.com/skillbay/chatsync/internal/proto"

// client is one authenticated WebSocket connection as seen by the hub.
type client struct {
	connID    string
	userID    string
	name      string
	avatarURL string

	// frames is the outbound queue consumed by the connection's write loop.
	frames chan proto.Envelope
}

func newClient(connID, userID, name, avatarURL string) *client {
	return &client{
		connID:    connID,
		userID:    userID,
		name:      name,
		avatarURL: avatarURL,
		frames:    make(chan proto.Envelope, 32),
	}
}

// push queues a frame for the write loop, dropping it if the consumer is
// too slow to keep up. Clients recover dropped pushes on their next fetch.
func (c *client) push(env proto.Envelope) {
	select {
	case c.frames <- env:
	default:
	}
}
