// Package ws is the real-time transport adapter: it upgrades connections,
// decodes inbound events, hands them to the room manager, and performs the
// network sends the manager's fan-out instructions ask for.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/routetouni/chatd/internal/api/middleware"
	"github.com/routetouni/chatd/internal/chat"
	"github.com/routetouni/chatd/internal/match"
	"github.com/routetouni/chatd/internal/metrics"
	"github.com/routetouni/chatd/internal/models"
	"github.com/routetouni/chatd/internal/store"
)

// Inbound event names, mirroring the frontend protocol.
const (
	eventJoined     = "joined"
	eventText       = "text"
	eventJoinRandom = "join_random"
	eventExitRoom   = "exit_room"
)

// frame is one inbound client event.
type frame struct {
	Event  string `json:"event"`
	RoomID string `json:"room_id,omitempty"`
	Msg    string `json:"msg,omitempty"`
}

// errorEvent reports a failed action back to the sender only.
type errorEvent struct {
	Event     string `json:"event"` // "error"
	Action    string `json:"action"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// Server handles websocket upgrades and the per-connection event loop.
type Server struct {
	manager  *chat.Manager
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	timeout  time.Duration
}

// NewServer creates a websocket server in front of the manager.
// allowedOrigins restricts upgrade requests; empty allows any origin.
func NewServer(manager *chat.Manager, logger zerolog.Logger, allowedOrigins []string) *Server {
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}

	return &Server{
		manager: manager,
		logger:  logger,
		timeout: 10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				return origins[r.Header.Get("Origin")]
			},
		},
	}
}

// HandleWS upgrades the request and runs the connection until it closes.
// Identity middleware must have resolved the user already.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUserFromContext(r.Context())
	if user == nil {
		http.Error(w, `{"error":"missing identity"}`, http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := newClient(conn)
	metrics.LiveConnections.Inc()
	go client.writePump()

	s.readLoop(client, *user)
}

// readLoop decodes inbound frames and dispatches them to the manager until
// the connection drops, then runs disconnect cleanup.
func (s *Server) readLoop(client *Client, user models.User) {
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		fanouts := s.manager.Disconnect(ctx, user, client)
		s.deliver(fanouts)

		client.Close()
		metrics.LiveConnections.Dec()
	}()

	client.conn.SetReadLimit(maxFrameSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Str("uid", user.UID).Msg("websocket read failed")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			s.logger.Warn().Err(err).Str("uid", user.UID).Msg("malformed frame")
			continue
		}

		s.dispatch(client, user, f)
	}
}

// dispatch routes one inbound frame. Authorization and not-found failures
// are absorbed here: logged, reported to the sender only, and never allowed
// to affect the connection or other sessions.
func (s *Server) dispatch(client *Client, user models.User, f frame) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	switch f.Event {
	case eventJoined:
		conv, fanouts, err := s.manager.Joined(ctx, user, client)
		if err != nil {
			s.logger.Error().Err(err).Str("uid", user.UID).Msg("join failed")
			client.Send(errorEvent{Event: "error", Action: f.Event, Error: "join failed", Retryable: true})
			return
		}
		client.Send(chat.ConversationEvent{Event: chat.EventPrevMsg, Conversations: conv})
		s.deliver(fanouts)

	case eventText:
		// The manager delivers the message itself under the room lock.
		if _, err := s.manager.SendMessage(ctx, user, client, f.RoomID, f.Msg); err != nil {
			s.reportError(client, user, f, err)
		}

	case eventJoinRandom:
		_, fanouts, err := s.manager.JoinRandom(ctx, user, client)
		if err != nil {
			s.reportError(client, user, f, err)
			return
		}
		s.deliver(fanouts)

	case eventExitRoom:
		fanouts, err := s.manager.ExitRoom(ctx, user, f.RoomID)
		if err != nil {
			s.reportError(client, user, f, err)
			return
		}
		s.deliver(fanouts)

	default:
		s.logger.Warn().Str("event", f.Event).Str("uid", user.UID).Msg("unknown event")
	}
}

// reportError classifies a manager error and notifies the sender only.
func (s *Server) reportError(client *Client, user models.User, f frame, err error) {
	switch {
	case errors.Is(err, chat.ErrNotAuthorized),
		errors.Is(err, store.ErrRoomNotFound),
		errors.Is(err, store.ErrInvalidMembers),
		errors.Is(err, match.ErrDuplicateTicket):
		// User-visible denial; the action is dropped.
		s.logger.Warn().Err(err).Str("uid", user.UID).Str("event", f.Event).Str("room_id", f.RoomID).Msg("action denied")
		client.Send(errorEvent{Event: "error", Action: f.Event, Error: err.Error()})
	default:
		// Storage or infrastructure failure; the caller may retry and
		// nothing was broadcast.
		s.logger.Error().Err(err).Str("uid", user.UID).Str("event", f.Event).Msg("action failed")
		client.Send(errorEvent{Event: "error", Action: f.Event, Error: "temporary failure", Retryable: true})
	}
}

// deliver performs the sends a fan-out instruction asks for. Sends to
// individual connections are best-effort.
func (s *Server) deliver(fanouts []chat.Fanout) {
	for _, f := range fanouts {
		for _, conn := range f.Conns {
			_ = conn.Send(f.Event)
		}
	}
}
