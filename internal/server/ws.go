package server

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/skillbay/chatsync/internal/auth"
	"github.com/skillbay/chatsync/internal/proto"
	"github.com/skillbay/chatsync/internal/utils"
)

const authHandshakeTimeout = 10 * time.Second

// WSHandler upgrades HTTP connections, performs the authenticate handshake,
// and bridges the connection to the hub.
type WSHandler struct {
	hub  *Hub
	auth *auth.Service
	log  *zerolog.Logger
}

// NewWSHandler builds a WebSocket handler.
func NewWSHandler(hub *Hub, authService *auth.Service, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{hub: hub, auth: authService, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	claims, err := h.handshake(ctx, conn)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake failed")
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	client := newClient(utils.NewID(), claims.UserID, claims.Name, claims.AvatarURL)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// handshake waits for the authenticate frame and answers with authenticated
// or authentication_error. The session is usable for joins only on success.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (*auth.Claims, error) {
	ctx, cancel := context.WithTimeout(ctx, authHandshakeTimeout)
	defer cancel()

	var env proto.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		return nil, err
	}
	if env.Type != proto.TypeAuthenticate {
		return nil, errors.New("first frame must be authenticate")
	}

	var data proto.AuthenticateData
	if err := env.Open(&data); err != nil {
		return nil, err
	}

	claims, err := h.auth.ValidateToken(data.Token)
	if err != nil {
		reject, sealErr := proto.Seal(proto.TypeAuthError, proto.AuthErrorData{Reason: "invalid credential"})
		if sealErr == nil {
			_ = wsjson.Write(ctx, conn, reject)
		}
		return nil, err
	}

	accept, err := proto.Seal(proto.TypeAuthenticated, nil)
	if err != nil {
		return nil, err
	}
	if err := wsjson.Write(ctx, conn, accept); err != nil {
		return nil, err
	}
	return claims, nil
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *client) error {
	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			return err
		}

		switch env.Type {
		case proto.TypeJoinChat:
			var data proto.JoinData
			if err := env.Open(&data); err != nil {
				client.push(errorFrame("bad_request", "malformed join_chat"))
				continue
			}
			h.hub.Join(client, data.ChatID)

		case proto.TypeLeaveChat:
			var data proto.JoinData
			if err := env.Open(&data); err != nil {
				client.push(errorFrame("bad_request", "malformed leave_chat"))
				continue
			}
			h.hub.Leave(client, data.ChatID)

		case proto.TypeTypingStart, proto.TypeTypingStop:
			var data proto.TypingData
			if err := env.Open(&data); err != nil {
				client.push(errorFrame("bad_request", "malformed typing frame"))
				continue
			}
			h.hub.TypingSignal(client, data.ChatID, env.Type == proto.TypeTypingStart)

		default:
			client.push(errorFrame("bad_request", "unknown frame type"))
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *client) error {
	for {
		select {
		case env := <-client.frames:
			if err := wsjson.Write(ctx, conn, env); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
