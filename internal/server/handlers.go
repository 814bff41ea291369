package server

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/skillbay/chatsync/internal/auth"
	"github.com/skillbay/chatsync/internal/proto"
	"github.com/skillbay/chatsync/internal/server/storage"
)

// Handlers provides the REST API: authentication, conversation management,
// and the message store endpoints the sync core consumes.
type Handlers struct {
	authService *auth.Service
	store       storage.Store
	hub         *Hub
	log         *zerolog.Logger
}

// NewHandlers creates the REST handler set.
func NewHandlers(authService *auth.Service, store storage.Store, hub *Hub, logger *zerolog.Logger) *Handlers {
	return &Handlers{authService: authService, store: store, hub: hub, log: logger}
}

// RegisterRequest is the registration body.
type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=32"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password" binding:"required,min=6"`
}

// LoginRequest is the login body.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse carries the session token and the authenticated profile.
type AuthResponse struct {
	Token string        `json:"token"`
	User  proto.Profile `json:"user"`
}

// CreateConversationRequest opens a conversation about a course with its
// seller.
type CreateConversationRequest struct {
	CourseID     string `json:"courseId" binding:"required"`
	PeerUsername string `json:"peerUsername" binding:"required"`
}

// ConversationResponse describes one conversation.
type ConversationResponse struct {
	ID        string    `json:"id"`
	CourseID  string    `json:"courseId"`
	BuyerID   string    `json:"buyerId"`
	SellerID  string    `json:"sellerId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Register handles POST /api/register.
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := h.authService.Register(c.Request.Context(), req.Username, req.DisplayName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, ErrorResponse{Error: "user already exists"})
		case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		default:
			h.log.Error().Err(err).Str("username", req.Username).Msg("register failed")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: profileOf(user)})
}

// Login handles POST /api/login.
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
			return
		}
		h.log.Error().Err(err).Str("username", req.Username).Msg("login failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token, User: profileOf(user)})
}

// CreateConversation handles POST /api/conversations.
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	peer, err := h.store.GetUserByUsername(c.Request.Context(), req.PeerUsername)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "peer not found"})
		return
	}
	buyerID := c.GetString(ContextKeyUserID)
	if peer.ID == buyerID {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot converse with yourself"})
		return
	}

	conv, err := h.store.CreateConversation(c.Request.Context(), req.CourseID, buyerID, peer.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("create conversation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusCreated, conversationResponse(conv))
}

// ListConversations handles GET /api/conversations.
func (h *Handlers) ListConversations(c *gin.Context) {
	convs, err := h.store.ListConversations(c.Request.Context(), c.GetString(ContextKeyUserID))
	if err != nil {
		h.log.Error().Err(err).Msg("list conversations failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]ConversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, conversationResponse(conv))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

// ListMessages handles GET /api/chats/:id/messages, the bulk fetch the sync
// core performs on open. Fetching also records read receipts for the caller.
func (h *Handlers) ListMessages(c *gin.Context) {
	chatID := c.Param("id")
	userID := c.GetString(ContextKeyUserID)

	conv, ok := h.requireParticipant(c, chatID, userID)
	if !ok {
		return
	}

	if err := h.store.MarkRead(c.Request.Context(), chatID, userID, time.Now()); err != nil {
		h.log.Warn().Err(err).Str("chat_id", chatID).Msg("mark read failed")
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	messages, err := h.store.ListMessages(c.Request.Context(), chatID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("list messages failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	profiles, err := h.participantProfiles(c.Request.Context(), conv)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("resolve profiles failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	out := make([]proto.WireMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, wireMessage(msg, profiles))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// SendMessageRequest is the POST body for persisting a message.
type SendMessageRequest struct {
	Text      string `json:"text"`
	Kind      string `json:"kind" binding:"required,oneof=text image system"`
	ImageName string `json:"imageName"`
	ImageMIME string `json:"imageMime"`
	ImageData string `json:"imageData"` // base64
}

// SendMessage handles POST /api/chats/:id/messages, the durable half of an
// optimistic send. On success it broadcasts the acknowledged record to every
// room member, including the sender's own connection.
func (h *Handlers) SendMessage(c *gin.Context) {
	chatID := c.Param("id")
	userID := c.GetString(ContextKeyUserID)

	conv, ok := h.requireParticipant(c, chatID, userID)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Text == "" && req.ImageData == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message has no content"})
		return
	}

	msg := &storage.Message{
		ConversationID: chatID,
		SenderID:       userID,
		Kind:           req.Kind,
		Text:           req.Text,
	}
	if req.ImageData != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageData)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid image data"})
			return
		}
		msg.ImageMIME = req.ImageMIME
		msg.ImageData = data
	}

	if err := h.store.SaveMessage(c.Request.Context(), msg); err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("save message failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	profiles, err := h.participantProfiles(c.Request.Context(), conv)
	if err != nil {
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("resolve profiles failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	wire := wireMessage(msg, profiles)
	h.hub.BroadcastMessage(wire)
	c.JSON(http.StatusCreated, wire)
}

// GetImage handles GET /api/images/:id.
func (h *Handlers) GetImage(c *gin.Context) {
	mime, data, err := h.store.GetImage(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "image not found"})
			return
		}
		h.log.Error().Err(err).Msg("get image failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.Data(http.StatusOK, mime, data)
}

func (h *Handlers) requireParticipant(c *gin.Context, chatID, userID string) (*storage.Conversation, bool) {
	conv, err := h.store.GetConversation(c.Request.Context(), chatID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "conversation not found"})
			return nil, false
		}
		h.log.Error().Err(err).Str("chat_id", chatID).Msg("get conversation failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return nil, false
	}
	for _, id := range conv.Participants() {
		if id == userID {
			return conv, true
		}
	}
	c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
	return nil, false
}

func (h *Handlers) participantProfiles(ctx context.Context, conv *storage.Conversation) (map[string]proto.Profile, error) {
	profiles := make(map[string]proto.Profile, 2)
	for _, id := range conv.Participants() {
		user, err := h.store.GetUserByID(ctx, id)
		if err != nil {
			return nil, err
		}
		profiles[id] = profileOf(user)
	}
	return profiles, nil
}

func conversationResponse(conv *storage.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:        conv.ID,
		CourseID:  conv.CourseID,
		BuyerID:   conv.BuyerID,
		SellerID:  conv.SellerID,
		CreatedAt: conv.CreatedAt,
	}
}
