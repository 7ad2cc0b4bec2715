package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/routetouni/chatd/internal/api/middleware"
	"github.com/routetouni/chatd/internal/chat"
	"github.com/routetouni/chatd/internal/models"
	"github.com/routetouni/chatd/internal/store"
)

// CreateRoomRequest represents the room creation request sent by the chat
// page: an explicit member list plus an optional display name.
type CreateRoomRequest struct {
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members"`
}

// CreateRoomResponse represents the room creation response.
type CreateRoomResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Kind string `json:"kind"`
}

// CreateRoom handles explicit room creation. Only mentor-verified users may
// create rooms this way; others are denied.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = sanitizeName(req.Name)

	room, err := h.manager.CreateRoom(r.Context(), *user, req.Members, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNotAuthorized):
			h.Error(w, http.StatusForbidden, "room creation requires mentor verification")
		case errors.Is(err, store.ErrInvalidMembers):
			h.Error(w, http.StatusBadRequest, "room requires at least one member")
		default:
			h.Error(w, http.StatusInternalServerError, "failed to create room")
		}
		return
	}

	h.JSON(w, http.StatusCreated, CreateRoomResponse{
		ID:   room.ID.String(),
		Name: room.Name,
		Kind: string(room.Kind),
	})
}

// ConversationsResponse groups the caller's rooms by kind, hydrated with
// recent history.
type ConversationsResponse struct {
	Conversations map[models.RoomKind][]models.RoomSummary `json:"conversations"`
}

// Conversations returns the caller's full conversation state, used by the
// chat page for initial hydration before the websocket connects.
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conv, err := h.manager.ConversationFor(r.Context(), user.UID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to load conversations")
		return
	}

	h.JSON(w, http.StatusOK, ConversationsResponse{Conversations: conv})
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Picture   string `json:"picture,omitempty"`
	Body      string `json:"msg"`
	Timestamp int64  `json:"ts"`
}

// RoomMessagesResponse represents the room history response.
type RoomMessagesResponse struct {
	RoomID   string            `json:"room_id"`
	Messages []MessageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// GetRoomMessages returns paged history for a room the caller is a durable
// member of. Membership is checked against the store, never presence.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	roomIDStr := chi.URLParam(r, "id")
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return
	}

	room, err := h.data.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	member, err := h.data.IsMember(r.Context(), user.UID, roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !member {
		h.Error(w, http.StatusForbidden, "not a member of this room")
		return
	}

	// Parse query params
	limitStr := r.URL.Query().Get("limit")
	beforeStr := r.URL.Query().Get("before")

	limit := 50
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 200 {
		limit = 200
	}

	var before int64 = 0
	if beforeStr != "" {
		if b, err := strconv.ParseInt(beforeStr, 10, 64); err == nil {
			before = b
		}
	}

	// Fetch messages (+1 for has_more check)
	messages, err := h.log.GetRoomMessages(r.Context(), roomIDStr, limit+1, before)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	msgResponses := make([]MessageResponse, len(messages))
	for i, msg := range messages {
		msgResponses[i] = MessageResponse{
			ID:        msg.ID,
			UID:       msg.FromUID,
			Name:      msg.FromName,
			Picture:   msg.Picture,
			Body:      msg.Body,
			Timestamp: msg.Timestamp,
		}
	}

	h.JSON(w, http.StatusOK, RoomMessagesResponse{
		RoomID:   roomIDStr,
		Messages: msgResponses,
		HasMore:  hasMore,
	})
}
