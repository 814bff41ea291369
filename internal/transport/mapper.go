package transport

import (
	"github.com/skillbay/chatsync/internal/chat"
	"github.com/skillbay/chatsync/internal/proto"
)

// MessageFromWire converts a wire message record to the domain model. The
// REST store client reuses it, so push delivery and bulk fetch produce
// identical messages.
func MessageFromWire(w proto.WireMessage) chat.Message {
	return chat.Message{
		ID:             w.ID,
		ConversationID: w.ChatID,
		Sender: chat.Profile{
			ID:        w.Sender.ID,
			Name:      w.Sender.Name,
			AvatarURL: w.Sender.AvatarURL,
		},
		Kind:      chat.Kind(w.Kind),
		Text:      w.Text,
		ImageURL:  w.ImageURL,
		CreatedAt: w.CreatedAt,
		ReadBy:    w.ReadBy,
	}
}
