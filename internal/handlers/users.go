package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/routetouni/chatd/internal/api/middleware"
	"github.com/routetouni/chatd/internal/models"
)

// UpsertUserRequest is the record the identity collaborator pushes after a
// successful login.
type UpsertUserRequest struct {
	UID            string `json:"uid"`
	Name           string `json:"name"`
	Picture        string `json:"picture,omitempty"`
	MentorVerified bool   `json:"mentor_verified"`
}

// UpsertUser mirrors an authenticated user record into the directory. The
// core trusts the collaborator; this is sync, not registration.
func (h *Handler) UpsertUser(w http.ResponseWriter, r *http.Request) {
	var req UpsertUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.UID == "" {
		h.Error(w, http.StatusBadRequest, "uid is required")
		return
	}
	req.Name = sanitizeName(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	user, err := h.data.UpsertUser(r.Context(), models.User{
		UID:            req.UID,
		Name:           req.Name,
		Picture:        req.Picture,
		MentorVerified: req.MentorVerified,
	})
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store user")
		return
	}

	h.JSON(w, http.StatusOK, user)
}

// UserInfo represents one entry in the user directory response.
type UserInfo struct {
	UID            string `json:"uid"`
	Name           string `json:"name"`
	Picture        string `json:"picture,omitempty"`
	MentorVerified bool   `json:"mentor_verified"`
}

// ListUsers returns every known user except the caller, for the chat
// creation member picker.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	users, err := h.data.ListUsersExcept(r.Context(), user.UID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	infos := make([]UserInfo, len(users))
	for i, u := range users {
		infos[i] = UserInfo{
			UID:            u.UID,
			Name:           u.Name,
			Picture:        u.Picture,
			MentorVerified: u.MentorVerified,
		}
	}

	h.JSON(w, http.StatusOK, infos)
}
