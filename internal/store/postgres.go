package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routetouni/chatd/internal/metrics"
	"github.com/routetouni/chatd/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertUser inserts or refreshes a user record pushed by the identity layer.
func (s *PostgresStore) UpsertUser(ctx context.Context, user models.User) (*models.User, error) {
	out := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (uid, name, picture, mentor_verified)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid) DO UPDATE
		SET name = EXCLUDED.name, picture = EXCLUDED.picture,
		    mentor_verified = EXCLUDED.mentor_verified, updated_at = now()
		RETURNING uid, name, picture, mentor_verified, created_at, updated_at
	`, user.UID, user.Name, user.Picture, user.MentorVerified).Scan(
		&out.UID,
		&out.Name,
		&out.Picture,
		&out.MentorVerified,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetUser retrieves a user by uid.
func (s *PostgresStore) GetUser(ctx context.Context, uid string) (*models.User, error) {
	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT uid, name, picture, mentor_verified, created_at, updated_at
		FROM users WHERE uid = $1
	`, uid).Scan(
		&user.UID,
		&user.Name,
		&user.Picture,
		&user.MentorVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// ListUsersExcept retrieves every user except the given uid, for the
// "other users" directory used by chat creation.
func (s *PostgresStore) ListUsersExcept(ctx context.Context, uid string) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uid, name, picture, mentor_verified, created_at, updated_at
		FROM users
		WHERE uid <> $1
		ORDER BY name
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.UID, &u.Name, &u.Picture, &u.MentorVerified, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of known users.
func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// CreateRoom creates a new room with the creator plus memberUIDs as members.
// Join order is creator first, then memberUIDs in the given order.
func (s *PostgresStore) CreateRoom(ctx context.Context, creator models.User, memberUIDs []string, name string, kind models.RoomKind) (*models.Room, error) {
	if len(memberUIDs) == 0 && kind != models.KindRandom {
		return nil, ErrInvalidMembers
	}

	start := time.Now()
	defer func() {
		metrics.PostgresLatency.Observe(time.Since(start).Seconds())
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room := &models.Room{}
	err = tx.QueryRow(ctx, `
		INSERT INTO rooms (id, name, kind, creator_uid)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, kind, creator_uid, created_at, last_active_at, message_count, archived
	`, models.NewRoomID(), name, string(kind), creator.UID).Scan(
		&room.ID,
		&room.Name,
		&room.Kind,
		&room.CreatorUID,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
		&room.Archived,
	)
	if err != nil {
		return nil, err
	}

	members := append([]string{creator.UID}, memberUIDs...)
	seen := make(map[string]bool, len(members))
	for _, uid := range members {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_members (room_id, uid) VALUES ($1, $2)
		`, room.ID, uid); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, kind, creator_uid, created_at, last_active_at, message_count, archived
		FROM rooms WHERE id = $1
	`, id).Scan(
		&room.ID,
		&room.Name,
		&room.Kind,
		&room.CreatorUID,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
		&room.Archived,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// IsMember reports whether uid holds durable membership in the room.
func (s *PostgresStore) IsMember(ctx context.Context, uid string, roomID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND uid = $2)
	`, roomID, uid).Scan(&exists)
	return exists, err
}

// MembersOf returns the room's member uids in join order.
func (s *PostgresStore) MembersOf(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT uid FROM room_members WHERE room_id = $1 ORDER BY seq
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// RemoveMember removes uid from the room. History is retained; when the last
// member leaves the room is marked archived rather than deleted.
func (s *PostgresStore) RemoveMember(ctx context.Context, uid string, roomID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM room_members WHERE room_id = $1 AND uid = $2
	`, roomID, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}

	if _, err := tx.Exec(ctx, `
		UPDATE rooms SET archived = TRUE
		WHERE id = $1
		  AND NOT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1)
	`, roomID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RoomsFor returns every room uid is a durable member of.
func (s *PostgresStore) RoomsFor(ctx context.Context, uid string) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_id FROM room_members WHERE uid = $1 ORDER BY seq
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ConversationFor returns every room uid belongs to, with members in join
// order. Message history is hydrated by the caller from the MessageLog.
func (s *PostgresStore) ConversationFor(ctx context.Context, uid string) ([]models.RoomSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, r.kind, r.creator_uid, r.created_at, r.last_active_at, r.message_count, r.archived
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.uid = $1
		ORDER BY m.seq
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RoomSummary
	for rows.Next() {
		var room models.Room
		if err := rows.Scan(
			&room.ID, &room.Name, &room.Kind, &room.CreatorUID,
			&room.CreatedAt, &room.LastActiveAt, &room.MessageCount, &room.Archived,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, models.RoomSummary{Room: room})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		members, err := s.MembersOf(ctx, summaries[i].Room.ID)
		if err != nil {
			return nil, err
		}
		summaries[i].Members = members
	}
	return summaries, nil
}

// IncrementMessageCount increments the message count and updates activity.
func (s *PostgresStore) IncrementMessageCount(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = now()
		WHERE id = $1
	`, id)
	return err
}

// CountRooms returns the total number of non-archived rooms.
func (s *PostgresStore) CountRooms(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rooms WHERE archived = FALSE`).Scan(&count)
	return count, err
}

// SumMessageCount returns the total message count across all rooms.
func (s *PostgresStore) SumMessageCount(ctx context.Context) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(message_count), 0) FROM rooms`).Scan(&sum)
	return sum, err
}

// GetMostRecentActivity returns the most recent activity timestamp across all rooms.
func (s *PostgresStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(last_active_at) FROM rooms`).Scan(&t)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTopActiveRooms returns the N most active non-archived rooms.
func (s *PostgresStore) GetTopActiveRooms(ctx context.Context, limit int) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, kind, creator_uid, created_at, last_active_at, message_count, archived
		FROM rooms
		WHERE archived = FALSE
		ORDER BY message_count DESC, last_active_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var room models.Room
		if err := rows.Scan(
			&room.ID, &room.Name, &room.Kind, &room.CreatorUID,
			&room.CreatedAt, &room.LastActiveAt, &room.MessageCount, &room.Archived,
		); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
