package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/routetouni/chatd/internal/models"
	"github.com/routetouni/chatd/internal/store"
)

type contextKey string

const UserContextKey contextKey = "user"

// Identity headers set by the session collaborator in front of this
// service. The core trusts them; it never authenticates.
const (
	HeaderUID     = "X-Chat-UID"
	HeaderName    = "X-Chat-Name"
	HeaderPicture = "X-Chat-Picture"
	HeaderMentor  = "X-Chat-Mentor"
)

// Identity resolves the authenticated user for a request. The session
// collaborator terminates login and forwards the identity in headers; when
// the user is known to the directory the stored record wins, so a stale
// header cannot grant the mentor flag.
type Identity struct {
	data store.DataStore
}

// NewIdentity creates the identity middleware.
func NewIdentity(data store.DataStore) *Identity {
	return &Identity{data: data}
}

// RequireUser rejects requests without an identity and injects the resolved
// user into the request context.
func (m *Identity) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(HeaderUID)
		if uid == "" {
			jsonError(w, http.StatusUnauthorized, "missing identity")
			return
		}

		user, err := m.data.GetUser(r.Context(), uid)
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "identity lookup failed")
			return
		}
		if user == nil {
			// First contact before the identity layer pushed the record.
			user = &models.User{
				UID:            uid,
				Name:           r.Header.Get(HeaderName),
				Picture:        r.Header.Get(HeaderPicture),
				MentorVerified: r.Header.Get(HeaderMentor) == "true",
			}
		}

		ctx := context.WithValue(r.Context(), UserContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserFromContext retrieves the authenticated user from the request context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}
