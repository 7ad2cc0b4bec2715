package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomKind classifies a room at creation time. The kind is stored with the
// room and never inferred from payload shape later.
type RoomKind string

const (
	KindDirect RoomKind = "direct" // exactly two members, created explicitly
	KindGroup  RoomKind = "group"  // named room with an explicit member list
	KindRandom RoomKind = "random" // created by the matchmaking queue
)

// Valid reports whether k is one of the known room kinds.
func (k RoomKind) Valid() bool {
	switch k {
	case KindDirect, KindGroup, KindRandom:
		return true
	}
	return false
}

// NewRoomID generates a time-ordered UUID v7 room identifier.
func NewRoomID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// Room is a named or anonymous group of users sharing a message history.
type Room struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name,omitempty"` // absent for random rooms
	Kind         RoomKind  `json:"kind"`
	CreatorUID   string    `json:"creator_uid,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	MessageCount int64     `json:"message_count"`
	Archived     bool      `json:"archived,omitempty"` // set once membership drops to zero
}

// RoomSummary is what conversation hydration returns per room: the room
// itself, its members in join order, and recent history.
type RoomSummary struct {
	Room     Room      `json:"room"`
	Members  []string  `json:"members"` // uids, join order
	Messages []Message `json:"messages"`
}
