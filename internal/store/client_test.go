package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/skillbay/chatsync/internal/chat"
	"github.com/skillbay/chatsync/internal/proto"
)

func TestFetchPage(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/chats/chat-1/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"messages": []proto.WireMessage{
				{
					ID:        "m-1",
					ChatID:    "chat-1",
					Sender:    proto.Profile{ID: "u-1", Name: "Alice"},
					Kind:      "text",
					Text:      "hi",
					CreatedAt: at,
					ReadBy:    map[string]time.Time{"u-2": at.Add(time.Minute)},
				},
			},
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "tok", 0)
	page, err := client.FetchPage(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("len = %d, want 1", len(page))
	}
	m := page[0]
	if m.ID != "m-1" || m.ConversationID != "chat-1" || m.Sender.Name != "Alice" {
		t.Fatalf("unexpected message: %+v", m)
	}
	if !m.ReadByOther("u-1") {
		t.Fatal("read receipt lost in mapping")
	}
}

func TestFetchPageSendsConfiguredLimit(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit = %q, want 25", got)
		}
		json.NewEncoder(w).Encode(map[string]any{"messages": []proto.WireMessage{}})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "tok", 25)
	if _, err := client.FetchPage(context.Background(), "chat-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
}

func TestSendMessageEncodesAttachment(t *testing.T) {
	blob := []byte{0x89, 'P', 'N', 'G'}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Kind != "image" || req.ImageMIME != "image/png" {
			t.Errorf("unexpected request: %+v", req)
		}
		if decoded, _ := base64.StdEncoding.DecodeString(req.ImageData); string(decoded) != string(blob) {
			t.Errorf("attachment bytes mangled: %q", req.ImageData)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(proto.WireMessage{
			ID:        "m-1",
			ChatID:    "chat-1",
			Kind:      "image",
			ImageURL:  "/api/images/m-1",
			CreatedAt: time.Now(),
		})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "tok", 0)
	msg, err := client.SendMessage(context.Background(), "chat-1", "", chat.KindImage, &chat.Attachment{
		Name: "pic.png",
		MIME: "image/png",
		Data: blob,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID != "m-1" || msg.ImageURL != "/api/images/m-1" {
		t.Fatalf("unexpected ack: %+v", msg)
	}
}

func TestSendMessageSurfacesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "not a participant"})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, "tok", 0)
	_, err := client.SendMessage(context.Background(), "chat-1", "hi", chat.KindText, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "not a participant") || !strings.Contains(err.Error(), "403") {
		t.Fatalf("error lacks API detail: %v", err)
	}
}
