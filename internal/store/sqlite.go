package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/routetouni/chatd/internal/models"
)

// SQLiteStore handles SQLite database operations. It is the development
// fallback when no DATABASE_URL is configured.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatd.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatd.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		uid             TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		picture         TEXT NOT NULL DEFAULT '',
		mentor_verified INTEGER NOT NULL DEFAULT 0,
		created_at      DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at      DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id             TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		kind           TEXT NOT NULL,
		creator_uid    TEXT NOT NULL DEFAULT '',
		created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_active_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		message_count  INTEGER NOT NULL DEFAULT 0,
		archived       INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS room_members (
		room_id   TEXT NOT NULL REFERENCES rooms(id),
		uid       TEXT NOT NULL,
		joined_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (room_id, uid)
	);

	CREATE INDEX IF NOT EXISTS idx_room_members_uid ON room_members(uid);
	CREATE INDEX IF NOT EXISTS idx_rooms_last_active ON rooms(last_active_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser inserts or refreshes a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user models.User) (*models.User, error) {
	mentorInt := 0
	if user.MentorVerified {
		mentorInt = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (uid, name, picture, mentor_verified)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE
		SET name = excluded.name, picture = excluded.picture,
		    mentor_verified = excluded.mentor_verified, updated_at = CURRENT_TIMESTAMP
	`, user.UID, user.Name, user.Picture, mentorInt)
	if err != nil {
		return nil, err
	}

	return s.GetUser(ctx, user.UID)
}

// GetUser retrieves a user by uid.
func (s *SQLiteStore) GetUser(ctx context.Context, uid string) (*models.User, error) {
	user := &models.User{}
	var mentorInt int
	err := s.db.QueryRowContext(ctx, `
		SELECT uid, name, picture, mentor_verified, created_at, updated_at
		FROM users WHERE uid = ?
	`, uid).Scan(
		&user.UID,
		&user.Name,
		&user.Picture,
		&mentorInt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.MentorVerified = mentorInt == 1
	return user, nil
}

// ListUsersExcept retrieves every user except the given uid.
func (s *SQLiteStore) ListUsersExcept(ctx context.Context, uid string) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, name, picture, mentor_verified, created_at, updated_at
		FROM users
		WHERE uid <> ?
		ORDER BY name
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var mentorInt int
		if err := rows.Scan(&u.UID, &u.Name, &u.Picture, &mentorInt, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.MentorVerified = mentorInt == 1
		users = append(users, u)
	}
	return users, rows.Err()
}

// CountUsers returns the total number of known users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

// CreateRoom creates a new room with the creator plus memberUIDs as members.
func (s *SQLiteStore) CreateRoom(ctx context.Context, creator models.User, memberUIDs []string, name string, kind models.RoomKind) (*models.Room, error) {
	if len(memberUIDs) == 0 && kind != models.KindRandom {
		return nil, ErrInvalidMembers
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id := models.NewRoomID()
	now := time.Now()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, kind, creator_uid, created_at, last_active_at, message_count, archived)
		VALUES (?, ?, ?, ?, ?, ?, 0, 0)
	`, id.String(), name, string(kind), creator.UID, now, now); err != nil {
		return nil, err
	}

	members := append([]string{creator.UID}, memberUIDs...)
	seen := make(map[string]bool, len(members))
	for _, uid := range members {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO room_members (room_id, uid) VALUES (?, ?)
		`, id.String(), uid); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, id)
}

// scanRoom scans one room row from the given row scanner.
func scanRoom(scan func(dest ...any) error) (*models.Room, error) {
	room := &models.Room{}
	var idStr, kindStr string
	var archivedInt int

	err := scan(
		&idStr,
		&room.Name,
		&kindStr,
		&room.CreatorUID,
		&room.CreatedAt,
		&room.LastActiveAt,
		&room.MessageCount,
		&archivedInt,
	)
	if err != nil {
		return nil, err
	}

	room.ID = uuid.MustParse(idStr)
	room.Kind = models.RoomKind(kindStr)
	room.Archived = archivedInt == 1
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, creator_uid, created_at, last_active_at, message_count, archived
		FROM rooms WHERE id = ?
	`, id.String())

	room, err := scanRoom(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return room, nil
}

// IsMember reports whether uid holds durable membership in the room.
func (s *SQLiteStore) IsMember(ctx context.Context, uid string, roomID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM room_members WHERE room_id = ? AND uid = ?
	`, roomID.String(), uid).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MembersOf returns the room's member uids in join order.
func (s *SQLiteStore) MembersOf(ctx context.Context, roomID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid FROM room_members WHERE room_id = ? ORDER BY rowid
	`, roomID.String())
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

// RemoveMember removes uid from the room, archiving it when empty.
func (s *SQLiteStore) RemoveMember(ctx context.Context, uid string, roomID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM room_members WHERE room_id = ? AND uid = ?
	`, roomID.String(), uid)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRoomNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET archived = 1
		WHERE id = ?1
		  AND NOT EXISTS (SELECT 1 FROM room_members WHERE room_id = ?1)
	`, roomID.String()); err != nil {
		return err
	}

	return tx.Commit()
}

// RoomsFor returns every room uid is a durable member of.
func (s *SQLiteStore) RoomsFor(ctx context.Context, uid string) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id FROM room_members WHERE uid = ? ORDER BY rowid
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, err
		}
		ids = append(ids, uuid.MustParse(idStr))
	}
	return ids, rows.Err()
}

// ConversationFor returns every room uid belongs to, with members in join order.
func (s *SQLiteStore) ConversationFor(ctx context.Context, uid string) ([]models.RoomSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.kind, r.creator_uid, r.created_at, r.last_active_at, r.message_count, r.archived
		FROM rooms r
		JOIN room_members m ON m.room_id = r.id
		WHERE m.uid = ?
		ORDER BY m.rowid
	`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []models.RoomSummary
	for rows.Next() {
		room, err := scanRoom(rows.Scan)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, models.RoomSummary{Room: *room})
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
func (s *SQLiteStore) IncrementMessageCount(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE rooms
		SET message_count = message_count + 1, last_active_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id.String())
	return err
}

// CountRooms returns the total number of non-archived rooms.
func (s *SQLiteStore) CountRooms(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rooms WHERE archived = 0`).Scan(&count)
	return count, err
}

// SumMessageCount returns the total message count across all rooms.
func (s *SQLiteStore) SumMessageCount(ctx context.Context) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(message_count), 0) FROM rooms`).Scan(&sum)
	return sum, err
}

// GetMostRecentActivity returns the most recent activity timestamp across all rooms.
func (s *SQLiteStore) GetMostRecentActivity(ctx context.Context) (*time.Time, error) {
	var t *time.Time
	err := s.db.QueryRowContext(ctx, `SELECT MAX(last_active_at) FROM rooms`).Scan(&t)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTopActiveRooms returns the N most active non-archived rooms.
func (s *SQLiteStore) GetTopActiveRooms(ctx context.Context, limit int) ([]models.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, creator_uid, created_at, last_active_at, message_count, archived
		FROM rooms
		WHERE archived = 0
		ORDER BY message_count DESC, last_active_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		room, err := scanRoom(rows.Scan)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}
