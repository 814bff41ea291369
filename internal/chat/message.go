package chat

import "time"

// Kind classifies a message body.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindSystem Kind = "system"
)

// Profile is the denormalized sender snapshot carried on every message so the
// buffer can be rendered without a user lookup.
type Profile struct {
	ID        string
	Name      string
	AvatarURL string
}

// Message is the unit of the conversation log.
//
// Identity lives in one of two disjoint namespaces: ID is the durable
// identifier assigned by the message store on persistence and is empty while
// the message is pending; TempID is a client-local placeholder drawn from a
// monotonic local clock and is zero for any message born durable. The two are
// never confused because temp identities are never transmitted as durable ones.
type Message struct {
	ID             string
	TempID         int64
	ConversationID string
	Sender         Profile
	Kind           Kind
	Text           string
	ImageURL       string
	CreatedAt      time.Time
	ReadBy         map[string]time.Time
	Pending        bool
}

// ReadByOther reports whether anyone other than the given participant has
// read the message. Derived on every call, never cached.
func (m Message) ReadByOther(localUserID string) bool {
	for reader := range m.ReadBy {
		if reader != localUserID {
			return true
		}
	}
	return false
}
