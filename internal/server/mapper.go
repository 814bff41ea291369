package server

import (
	"fmt"

	"github.com/skillbay/chatsync/internal/proto"
	"github.com/skillbay/chatsync/internal/server/storage"
)

// wireMessage renders a persisted message for the wire, resolving the sender
// profile from the given snapshot map.
func wireMessage(msg *storage.Message, profiles map[string]proto.Profile) proto.WireMessage {
	wire := proto.WireMessage{
		ID:        msg.ID,
		ChatID:    msg.ConversationID,
		Sender:    profiles[msg.SenderID],
		Kind:      msg.Kind,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
		ReadBy:    msg.ReadBy,
	}
	if wire.Sender.ID == "" {
		wire.Sender = proto.Profile{ID: msg.SenderID}
	}
	if msg.Kind == "image" {
		wire.ImageURL = fmt.Sprintf("/api/images/%s", msg.ID)
	}
	return wire
}

func profileOf(u *storage.User) proto.Profile {
	return proto.Profile{ID: u.ID, Name: u.DisplayName, AvatarURL: u.AvatarURL}
}
