package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skillbay/chatsync/internal/server/storage"
)

func newTestAuthService(t *testing.T) *Service {
	t.Helper()

	st, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtConfig := &JWTConfig{
		Secret:   []byte("test-secret-change-me"),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return NewService(st, jwtConfig)
}

func TestRegister_RejectsInvalidUsername(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "ab", "", "password123"); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestRegister_RejectsShortPassword(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", "", "short"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
}

func TestRegister_RejectsDuplicateUsername(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", "Alice", "password123"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if _, _, err := svc.Register(ctx, "alice", "Alice Again", "password123"); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestRegister_DefaultsDisplayName(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	_, user, err := svc.Register(ctx, "alice", "", "password123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.DisplayName != "alice" {
		t.Fatalf("display name = %q, want username fallback", user.DisplayName)
	}
}

func TestLoginAndTokenRoundTrip(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	_, registered, err := svc.Register(ctx, "alice", "Alice", "password123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	token, user, err := svc.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if user.ID != registered.ID {
		t.Fatalf("user id mismatch: %s vs %s", user.ID, registered.ID)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token failed: %v", err)
	}
	if claims.UserID != user.ID || claims.Name != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLogin_RejectsWrongPassword(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "alice", "Alice", "password123"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, _, err := svc.Login(ctx, "alice", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken_RejectsForgedToken(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, _, err := svc.Register(ctx, "alice", "Alice", "password123")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	other := NewService(nil, &JWTConfig{
		Secret:   []byte("a-different-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
}
