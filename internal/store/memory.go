package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/routetouni/chatd/internal/models"
)

// MemoryStore is an in-memory implementation of both DataStore and
// MessageLog. It backs unit tests and development runs without Postgres or
// Redis. All methods are safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.User
	rooms    map[uuid.UUID]*models.Room
	members  map[uuid.UUID][]string      // join order
	messages map[string][]models.Message // roomID -> chronological
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		rooms:    make(map[uuid.UUID]*models.Room),
		members:  make(map[uuid.UUID][]string),
		messages: make(map[string][]models.Message),
	}
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// UpsertUser inserts or refreshes a user record.
func (s *MemoryStore) UpsertUser(ctx context.Context, user models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if existing, ok := s.users[user.UID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	s.users[user.UID] = user
	out := user
	return &out, nil
}

// GetUser retrieves a user by uid.
func (s *MemoryStore) GetUser(ctx context.Context, uid string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[uid]
	if !ok {
		return nil, nil
	}
	out := user
	return &out, nil
}

// ListUsersExcept retrieves every user except the given uid, sorted by name.
func (s *MemoryStore) ListUsersExcept(ctx context.Context, uid string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []models.User
	for _, u := range s.users {
		if u.UID != uid {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

// CountUsers returns the total number of known users.
func (s *MemoryStore) CountUsers(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

// CreateRoom creates a new room with the creator plus memberUIDs as members.
func (s *MemoryStore) CreateRoom(ctx context.Context, creator models.User, memberUIDs []string, name string, kind models.RoomKind) (*models.Room, error) {
	if len(memberUIDs) == 0 && kind != models.KindRandom {
		return nil, ErrInvalidMembers
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	room := &models.Room{
		ID:           models.NewRoomID(),
		Name:         name,
		Kind:         kind,
		CreatorUID:   creator.UID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	s.rooms[room.ID] = room

	members := append([]string{creator.UID}, memberUIDs...)
	seen := make(map[string]bool, len(members))
	for _, uid := range members {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		s.members[room.ID] = append(s.members[room.ID], uid)
	}

	out := *room
	return &out, nil
}

// GetRoom retrieves a room by ID.
func (s *MemoryStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	out := *room
	return &out, nil
}

// IsMember reports whether uid holds durable membership in the room.
func (s *MemoryStore) IsMember(ctx context.Context, uid string, roomID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.members[roomID] {
		if m == uid {
			return true, nil
		}
	}
	return false, nil
}

// MembersOf returns the room's member uids in join order.
func (s *MemoryStore) MembersOf(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.members[roomID]
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

// RemoveMember removes uid from the room, archiving it when empty.
func (s *MemoryStore) RemoveMember(ctx context.Context, uid string, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.members[roomID]
	idx := -1
	for i, m := range members {
		if m == uid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrRoomNotFound
	}
	s.members[roomID] = append(members[:idx], members[idx+1:]...)

	if len(s.members[roomID]) == 0 {
		if room, ok := s.rooms[roomID]; ok {
			room.Archived = true
		}
	}
	return nil
}

// RoomsFor returns every room uid is a durable member of.
func (s *MemoryStore) RoomsFor(ctx context.Context, uid string) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	for roomID, members := range s.members {
		for _, m := range members {
			if m == uid {
				ids = append(ids, roomID)
				break
			}
		}
	}
	// Map iteration order is random; keep output deterministic by join time.
	sort.Slice(ids, func(i, j int) bool {
		return s.rooms[ids[i]].CreatedAt.Before(s.rooms[ids[j]].CreatedAt)
	})
	return ids, nil
}

// ConversationFor returns every room uid belongs to, with members in join order.
func (s *MemoryStore) ConversationFor(ctx context.Context, uid string) ([]models.RoomSummary, error) {
	ids, err := s.RoomsFor(ctx, uid)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]models.RoomSummary, 0, len(ids))
	for _, id := range ids {
		room := s.rooms[id]
		members := make([]string, len(s.members[id]))
		copy(members, s.members[id])
		summaries = append(summaries, models.RoomSummary{Room: *room, Members: members})
	}
	return summaries, nil
}

// IncrementMessageCount increments the message count and updates activity.
func (s *MemoryStore) IncrementMessageCount(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[id]; ok {
		room.MessageCount++
		room.LastActiveAt = time.Now()
	}
	return nil
}

// CountRooms returns the total number of non-archived rooms.
func (s *MemoryStore) CountRooms(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, room := range s.rooms {
		if !room.Archived {
			count++
		}
	}
	return count, nil
}

// SumMessageCount returns the total message count across all rooms.
func (s *MemoryStore) SumMessageCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum int64
	for _, room := range s.rooms {
		sum += room.MessageCount
	}
	return sum, nil
}

// GetMostRecentActivity returns the most recent activity timestamp across all rooms.
func (s *MemoryStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *time.Time
	for _, room := range s.rooms {
		t := room.LastActiveAt
		if latest == nil || t.After(*latest) {
			latest = &t
		}
	}
	return latest, nil
}

// GetTopActiveRooms returns the N most active non-archived rooms.
func (s *MemoryStore) GetTopActiveRooms(ctx context.Context, limit int) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rooms []models.Room
	for _, room := range s.rooms {
		if !room.Archived {
			rooms = append(rooms, *room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].MessageCount != rooms[j].MessageCount {
			return rooms[i].MessageCount > rooms[j].MessageCount
		}
		return rooms[i].LastActiveAt.After(rooms[j].LastActiveAt)
	})
	if len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

// AddMessage appends a message to the room's history.
func (s *MemoryStore) AddMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	roomID, err := uuid.Parse(msg.RoomID)
	if err != nil {
		return ErrRoomNotFound
	}
	if _, ok := s.rooms[roomID]; !ok {
		return ErrRoomNotFound
	}

	s.messages[msg.RoomID] = append(s.messages[msg.RoomID], *msg)
	return nil
}

// GetRoomMessages retrieves messages from a room, newest first.
func (s *MemoryStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.messages[roomID]
	messages := make([]models.Message, 0, limit)
	for i := len(history) - 1; i >= 0 && len(messages) < limit; i-- {
		if before > 0 && history[i].Timestamp >= before {
			continue
		}
		messages = append(messages, history[i])
	}
	return messages, nil
}

// GetMessage retrieves a specific message by ID.
func (s *MemoryStore) GetMessage(ctx context.Context, roomID, msgID string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, msg := range s.messages[roomID] {
		if msg.ID == msgID {
			out := msg
			return &out, nil
		}
	}
	return nil, nil
}

// SearchMessages performs a linear scan matching all tokens.
func (s *MemoryStore) SearchMessages(ctx context.Context, tokens []string, limit int, after int64, roomFilter string) ([]models.Message, error) {
	if len(tokens) == 0 {
		return []models.Message{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []models.Message
	for roomID, history := range s.messages {
		if roomFilter != "" && roomID != roomFilter {
			continue
		}
		for _, msg := range history {
			if after > 0 && msg.Timestamp <= after {
				continue
			}
			body := strings.ToLower(msg.Body)
			ok := true
			for _, t := range tokens {
				if !strings.Contains(body, strings.ToLower(t)) {
					ok = false
					break
				}
			}
			if ok {
				matches = append(matches, msg)
			}
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Timestamp > matches[j].Timestamp })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
