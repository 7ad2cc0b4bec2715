// Package chat implements the room manager: the orchestrator behind the
// real-time transport that tracks durable membership, persists messages,
// computes broadcast fan-outs and pairs users for random conversations.
package chat

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/routetouni/chatd/internal/match"
	"github.com/routetouni/chatd/internal/metrics"
	"github.com/routetouni/chatd/internal/models"
	"github.com/routetouni/chatd/internal/presence"
	"github.com/routetouni/chatd/internal/store"
)

// ErrNotAuthorized is returned when a user acts on a room they are not a
// durable member of, or creates a room without the mentor-verified flag.
var ErrNotAuthorized = errors.New("user not authorized for this room")

// AnnounceScope selects which rooms receive a departure announcement when a
// connection disconnects.
type AnnounceScope string

const (
	// AnnounceDurable announces to every room the user is a durable member
	// of. This is the historical behavior.
	AnnounceDurable AnnounceScope = "durable"
	// AnnounceLive announces only to rooms the connection was live in.
	AnnounceLive AnnounceScope = "live"
)

// roomLockStripes bounds lock memory while keeping unrelated rooms
// independent.
const roomLockStripes = 64

// Config tunes manager policy.
type Config struct {
	// EchoToSender includes the sending connection in message fan-outs.
	EchoToSender bool
	// DisconnectAnnounce picks the rooms announced to on disconnect.
	DisconnectAnnounce AnnounceScope
	// HistoryLimit caps per-room history returned on hydration.
	HistoryLimit int
}

// DefaultConfig mirrors the historical behavior: messages echo back to the
// sender and disconnects announce to every durable room.
func DefaultConfig() Config {
	return Config{
		EchoToSender:       true,
		DisconnectAnnounce: AnnounceDurable,
		HistoryLimit:       50,
	}
}

// Manager composes the durable store, the message log, the presence
// registry and the matchmaking queue. All methods take the authenticated
// user explicitly; there is no ambient session state.
type Manager struct {
	data     store.DataStore
	log      store.MessageLog
	presence *presence.Registry
	queue    *match.Queue
	cfg      Config
	logger   zerolog.Logger

	// One lock per stripe serializes membership and message mutations for
	// a room, so fan-out order matches store acceptance order.
	roomLocks [roomLockStripes]sync.Mutex
}

// New creates a Manager.
func New(data store.DataStore, log store.MessageLog, reg *presence.Registry, queue *match.Queue, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.DisconnectAnnounce == "" {
		cfg.DisconnectAnnounce = AnnounceDurable
	}
	return &Manager{
		data:     data,
		log:      log,
		presence: reg,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
	}
}

// Presence exposes the registry for the transport layer.
func (m *Manager) Presence() *presence.Registry {
	return m.presence
}

// QueueDepth reports how many users are waiting for a random match.
func (m *Manager) QueueDepth() int {
	return m.queue.Depth()
}

func (m *Manager) lockRoom(roomID uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(roomID[:])
	return &m.roomLocks[h.Sum32()%roomLockStripes]
}

// CreateRoom creates a named room with an explicit member list. Only
// mentor-verified users may create rooms this way.
func (m *Manager) CreateRoom(ctx context.Context, user models.User, memberUIDs []string, name string) (*models.Room, error) {
	if !user.MentorVerified {
		m.logger.Warn().Str("uid", user.UID).Msg("room creation denied: not mentor verified")
		return nil, ErrNotAuthorized
	}

	kind := models.KindGroup
	if len(memberUIDs) == 1 {
		kind = models.KindDirect
	}

	room, err := m.data.CreateRoom(ctx, user, memberUIDs, name, kind)
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("room_id", room.ID.String()).
		Str("kind", string(room.Kind)).
		Str("creator", user.UID).
		Msg("room created")
	metrics.RoomsCreated.WithLabelValues(string(room.Kind)).Inc()
	return room, nil
}

// ConversationFor returns every room the user belongs to, grouped by kind,
// each hydrated with recent history in chronological order. The result
// reflects durable membership only, independent of presence.
func (m *Manager) ConversationFor(ctx context.Context, uid string) (map[models.RoomKind][]models.RoomSummary, error) {
	summaries, err := m.data.ConversationFor(ctx, uid)
	if err != nil {
		return nil, err
	}

	conv := make(map[models.RoomKind][]models.RoomSummary)
	for _, s := range summaries {
		msgs, err := m.log.GetRoomMessages(ctx, s.Room.ID.String(), m.cfg.HistoryLimit, 0)
		if err != nil {
			return nil, fmt.Errorf("hydrate room %s: %w", s.Room.ID, err)
		}
		// GetRoomMessages returns newest first; history replays oldest first.
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
		s.Messages = msgs
		conv[s.Room.Kind] = append(conv[s.Room.Kind], s)
	}
	return conv, nil
}

// Joined handles a freshly established connection: binds it to the user,
// subscribes it to every durable room, and returns the conversation map for
// hydration plus a join announcement per room for the other live members.
func (m *Manager) Joined(ctx context.Context, user models.User, conn presence.Conn) (map[models.RoomKind][]models.RoomSummary, []Fanout, error) {
	m.presence.Register(conn, user.UID)

	conv, err := m.ConversationFor(ctx, user.UID)
	if err != nil {
		return nil, nil, err
	}

	var fanouts []Fanout
	for _, summaries := range conv {
		for _, s := range summaries {
			roomID := s.Room.ID.String()
			if err := m.presence.Subscribe(conn, roomID); err != nil {
				return nil, nil, err
			}
			targets := excludeConn(m.presence.ConnectionsForRoom(roomID), conn)
			if len(targets) > 0 {
				fanouts = append(fanouts, Fanout{Event: statusJoin(user, roomID), Conns: targets})
			}
		}
	}

	m.logger.Info().Str("uid", user.UID).Int("rooms", len(fanouts)).Msg("user joined")
	return conv, fanouts, nil
}

// SendMessage authorizes against durable membership, persists the message,
// and enqueues it on every live member's connection. The store write is
// acknowledged before any delivery: a message is never broadcast unless it
// is durable. Delivery happens while the room lock is still held, so the
// order any live member observes equals store-accept order; releasing the
// lock first would let two concurrent senders enqueue in inverted order.
// Send is a non-blocking buffer push, so holding the lock across it is safe.
func (m *Manager) SendMessage(ctx context.Context, user models.User, conn presence.Conn, roomIDStr, body string) (*models.Message, error) {
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		return nil, store.ErrRoomNotFound
	}

	lock := m.lockRoom(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := m.data.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, store.ErrRoomNotFound
	}

	member, err := m.data.IsMember(ctx, user.UID, roomID)
	if err != nil {
		return nil, err
	}
	if !member {
		m.logger.Warn().Str("uid", user.UID).Str("room_id", roomIDStr).Msg("send denied: not a member")
		return nil, ErrNotAuthorized
	}

	msg := &models.Message{
		RoomID:   roomIDStr,
		FromUID:  user.UID,
		FromName: user.Name,
		Picture:  user.Picture,
		Body:     body,
	}
	if err := m.log.AddMessage(ctx, msg); err != nil {
		// Retryable for the caller; nothing was broadcast.
		return nil, fmt.Errorf("store message: %w", err)
	}

	if err := m.data.IncrementMessageCount(ctx, roomID); err != nil {
		m.logger.Warn().Err(err).Str("room_id", roomIDStr).Msg("message count update failed")
	}

	targets := m.presence.ConnectionsForRoom(roomIDStr)
	if !m.cfg.EchoToSender {
		targets = excludeConn(targets, conn)
	}

	metrics.MessagesSent.WithLabelValues(string(room.Kind)).Inc()

	event := MessageEvent{
		Event:   EventInternalMsg,
		Msg:     msg.Body,
		RoomID:  msg.RoomID,
		UID:     msg.FromUID,
		Name:    msg.FromName,
		Picture: msg.Picture,
	}
	for _, c := range targets {
		_ = c.Send(event)
	}
	return msg, nil
}

// RandomResult is the outcome of a JoinRandom call.
type RandomResult struct {
	Enqueued bool
	Room     *models.Room
	Partner  match.Ticket
}

// JoinRandom enqueues the user for random pairing, or pairs them with the
// longest-waiting user: a fresh random room is created containing exactly
// the two of them, both sides are subscribed live, and both are notified
// with the same room id.
func (m *Manager) JoinRandom(ctx context.Context, user models.User, conn presence.Conn) (*RandomResult, []Fanout, error) {
	outcome, err := m.queue.Request(user.UID, user.Name)
	if err != nil {
		return nil, nil, err
	}
	metrics.MatchQueueDepth.Set(float64(m.queue.Depth()))

	if !outcome.Paired {
		m.logger.Info().Str("uid", user.UID).Msg("random match enqueued")
		return &RandomResult{Enqueued: true}, nil, nil
	}

	partner := outcome.Partner
	room, err := m.data.CreateRoom(ctx, user, []string{partner.UID}, "", models.KindRandom)
	if err != nil {
		// Give the partner their place back rather than dropping them.
		m.queue.Requeue(partner)
		return nil, nil, fmt.Errorf("create random room: %w", err)
	}

	roomID := room.ID.String()
	if err := m.presence.Subscribe(conn, roomID); err != nil {
		m.logger.Warn().Err(err).Str("uid", user.UID).Msg("subscribe after pairing failed")
	}

	partnerConns := m.presence.ConnsForUID(partner.UID)
	for _, pc := range partnerConns {
		if err := m.presence.Subscribe(pc, roomID); err != nil {
			m.logger.Warn().Err(err).Str("uid", partner.UID).Msg("partner subscribe failed")
		}
	}

	fanouts := []Fanout{
		{
			Event: PairedEvent{Event: EventRandomPaired, RoomID: roomID, PartnerUID: partner.UID, PartnerName: partner.Name},
			Conns: []presence.Conn{conn},
		},
	}
	if len(partnerConns) > 0 {
		fanouts = append(fanouts, Fanout{
			Event: PairedEvent{Event: EventRandomPaired, RoomID: roomID, PartnerUID: user.UID, PartnerName: user.Name},
			Conns: partnerConns,
		})
	}

	m.logger.Info().
		Str("room_id", roomID).
		Str("uid", user.UID).
		Str("partner", partner.UID).
		Msg("random match paired")
	metrics.MatchesPaired.Inc()

	return &RandomResult{Room: room, Partner: partner}, fanouts, nil
}

// ExitRoom removes the user's durable membership and live subscriptions
// together, and announces the departure to the remaining live members.
// Unlike a disconnect, this is permanent.
func (m *Manager) ExitRoom(ctx context.Context, user models.User, roomIDStr string) ([]Fanout, error) {
	roomID, err := uuid.Parse(roomIDStr)
	if err != nil {
		return nil, store.ErrRoomNotFound
	}

	lock := m.lockRoom(roomID)
	lock.Lock()
	defer lock.Unlock()

	room, err := m.data.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, store.ErrRoomNotFound
	}

	member, err := m.data.IsMember(ctx, user.UID, roomID)
	if err != nil {
		return nil, err
	}
	if !member {
		m.logger.Warn().Str("uid", user.UID).Str("room_id", roomIDStr).Msg("exit denied: not a member")
		return nil, ErrNotAuthorized
	}

	if err := m.data.RemoveMember(ctx, user.UID, roomID); err != nil {
		return nil, err
	}

	// Membership is per-uid, so drop the live subscription on every device.
	for _, c := range m.presence.ConnsForUID(user.UID) {
		if err := m.presence.Unsubscribe(c, roomIDStr); err != nil {
			m.logger.Warn().Err(err).Str("uid", user.UID).Msg("unsubscribe on exit failed")
		}
	}

	var fanouts []Fanout
	targets := m.presence.ConnectionsForRoom(roomIDStr)
	if len(targets) > 0 {
		fanouts = append(fanouts, Fanout{Event: statusExit(user, roomIDStr), Conns: targets})
	}

	m.logger.Info().Str("uid", user.UID).Str("room_id", roomIDStr).Msg("user exited room")
	return fanouts, nil
}

// Disconnect tears down the connection's live subscriptions and cancels any
// pending matchmaking ticket. Durable membership is untouched: a disconnect
// is not a room exit, and the user recovers full context on reconnect.
func (m *Manager) Disconnect(ctx context.Context, user models.User, conn presence.Conn) []Fanout {
	m.queue.Cancel(user.UID)
	metrics.MatchQueueDepth.Set(float64(m.queue.Depth()))

	liveRooms := m.presence.Teardown(conn)

	announce := liveRooms
	if m.cfg.DisconnectAnnounce == AnnounceDurable {
		ids, err := m.data.RoomsFor(ctx, user.UID)
		if err != nil {
			m.logger.Warn().Err(err).Str("uid", user.UID).Msg("durable room lookup on disconnect failed")
		} else {
			announce = make([]string, len(ids))
			for i, id := range ids {
				announce[i] = id.String()
			}
		}
	}

	var fanouts []Fanout
	for _, roomID := range announce {
		targets := m.presence.ConnectionsForRoom(roomID)
		if len(targets) > 0 {
			fanouts = append(fanouts, Fanout{Event: statusExit(user, roomID), Conns: targets})
		}
	}

	m.logger.Info().Str("uid", user.UID).Int("live_rooms", len(liveRooms)).Msg("user disconnected")
	return fanouts
}

// excludeConn filters one connection out of a target list.
func excludeConn(conns []presence.Conn, drop presence.Conn) []presence.Conn {
	out := conns[:0]
	for _, c := range conns {
		if c != drop {
			out = append(out, c)
		}
	}
	return out
}
