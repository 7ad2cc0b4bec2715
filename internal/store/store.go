package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/routetouni/chatd/internal/models"
)

// ErrRoomNotFound is returned for operations against an unknown room id.
var ErrRoomNotFound = errors.New("room not found")

// ErrInvalidMembers is returned when a room is created with no members
// besides the creator and no random-pairing context applies.
var ErrInvalidMembers = errors.New("room requires at least one member besides the creator")

// DataStore defines the interface for durable storage of users, rooms and
// membership. Both PostgresStore and SQLiteStore implement this interface;
// MemoryStore implements it for tests and no-infrastructure development.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User directory (mirrored from the identity collaborator)
	UpsertUser(ctx context.Context, user models.User) (*models.User, error)
	GetUser(ctx context.Context, uid string) (*models.User, error)
	ListUsersExcept(ctx context.Context, uid string) ([]models.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// Rooms and membership. Membership is the single authorization
	// authority; presence is never consulted for it.
	CreateRoom(ctx context.Context, creator models.User, memberUIDs []string, name string, kind models.RoomKind) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	IsMember(ctx context.Context, uid string, roomID uuid.UUID) (bool, error)
	MembersOf(ctx context.Context, roomID uuid.UUID) ([]string, error)
	RemoveMember(ctx context.Context, uid string, roomID uuid.UUID) error
	RoomsFor(ctx context.Context, uid string) ([]uuid.UUID, error)
	ConversationFor(ctx context.Context, uid string) ([]models.RoomSummary, error)

	// Activity bookkeeping
	IncrementMessageCount(ctx context.Context, id uuid.UUID) error

	// Aggregates for the stats endpoint
	CountRooms(ctx context.Context) (int64, error)
	SumMessageCount(ctx context.Context) (int64, error)
	GetMostRecentActivity(ctx context.Context) (*time.Time, error)
	GetTopActiveRooms(ctx context.Context, limit int) ([]models.Room, error)
}

// MessageLog defines the interface for message history. RedisStore is the
// production implementation; MemoryStore backs tests. A message is durable
// once AddMessage returns nil, and only then may it be broadcast.
// Lifecycle (Close) stays on the concrete types.
type MessageLog interface {
	Ping(ctx context.Context) error

	AddMessage(ctx context.Context, msg *models.Message) error
	GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error)
	GetMessage(ctx context.Context, roomID, msgID string) (*models.Message, error)
	SearchMessages(ctx context.Context, tokens []string, limit int, after int64, roomFilter string) ([]models.Message, error)
}
