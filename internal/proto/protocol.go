// Package proto defines the JSON wire protocol spoken between the sync
// client and the chat server. Event names and payload shapes are the
// compatibility surface; changing them breaks deployed clients.
package proto

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope wraps every frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client-to-server frame types.
const (
	TypeAuthenticate = "authenticate"
	TypeJoinChat     = "join_chat"
	TypeLeaveChat    = "leave_chat"
	TypeTypingStart  = "typing_start"
	TypeTypingStop   = "typing_stop"
)

// Server-to-client frame types.
const (
	TypeAuthenticated = "authenticated"
	TypeAuthError     = "authentication_error"
	TypeJoinedChat    = "joined_chat"
	TypeNewMessage    = "new_message"
	TypeUserTyping    = "user_typing"
	TypeError         = "error"
)

// AuthenticateData carries the credential token that opens a session.
type AuthenticateData struct {
	Token string `json:"token"`
}

// AuthErrorData explains a rejected authentication.
type AuthErrorData struct {
	Reason string `json:"reason"`
}

// JoinData subscribes or unsubscribes a conversation room.
type JoinData struct {
	ChatID string `json:"chatId"`
}

// JoinedData acknowledges a completed join.
type JoinedData struct {
	ChatID string `json:"chatId"`
}

// Profile is the denormalized sender snapshot embedded in every message.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// WireMessage is the full message record pushed in new_message events and
// returned by the REST message endpoints.
type WireMessage struct {
	ID        string               `json:"id"`
	ChatID    string               `json:"chatId"`
	Sender    Profile              `json:"sender"`
	Kind      string               `json:"kind"`
	Text      string               `json:"text,omitempty"`
	ImageURL  string               `json:"imageUrl,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	ReadBy    map[string]time.Time `json:"readBy,omitempty"`
}

// TypingData signals the local participant started or stopped typing.
type TypingData struct {
	ChatID string `json:"chatId"`
}

// UserTypingData echoes another participant's typing state.
type UserTypingData struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Typing bool   `json:"typing"`
}

// ErrorData describes a protocol-level fault.
type ErrorData struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// Seal marshals a payload into an envelope of the given type.
func Seal(frameType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: frameType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	return Envelope{Type: frameType, Data: data}, nil
}

// Open unmarshals the envelope payload into dst.
func (e Envelope) Open(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("empty %s payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}
