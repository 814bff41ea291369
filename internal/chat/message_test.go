package chat

import (
	"testing"
	"time"
)

func TestReadByOther(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		readBy map[string]time.Time
		want   bool
	}{
		{name: "no receipts", readBy: nil, want: false},
		{name: "only self", readBy: map[string]time.Time{"me": now}, want: false},
		{name: "peer read", readBy: map[string]time.Time{"peer": now}, want: true},
		{name: "self and peer", readBy: map[string]time.Time{"me": now, "peer": now}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{ReadBy: tt.readBy}
			if got := m.ReadByOther("me"); got != tt.want {
				t.Fatalf("ReadByOther = %v, want %v", got, tt.want)
			}
		})
	}
}
