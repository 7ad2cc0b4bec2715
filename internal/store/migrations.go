package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// schema is the full PostgreSQL schema, applied idempotently on startup.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	uid             TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	picture         TEXT NOT NULL DEFAULT '',
	mentor_verified BOOLEAN NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rooms (
	id             UUID PRIMARY KEY,
	name           TEXT NOT NULL DEFAULT '',
	kind           TEXT NOT NULL,
	creator_uid    TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_active_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	message_count  BIGINT NOT NULL DEFAULT 0,
	archived       BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS room_members (
	room_id   UUID NOT NULL REFERENCES rooms(id),
	uid       TEXT NOT NULL,
	seq       BIGSERIAL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, uid)
);

CREATE INDEX IF NOT EXISTS idx_room_members_uid ON room_members(uid);
CREATE INDEX IF NOT EXISTS idx_rooms_last_active ON rooms(last_active_at);
CREATE INDEX IF NOT EXISTS idx_rooms_kind ON rooms(kind);
`

// RunMigrations applies the schema to the database at databaseURL.
func RunMigrations(databaseURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, schema)
	return err
}
