package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Migration is one schema version. Versions are applied in order, each in
// its own transaction, and recorded in schema_migrations.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// Migrations is the ordered schema history. Append only.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "accounts",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id BIGSERIAL PRIMARY KEY,
				username TEXT UNIQUE NOT NULL,
				password_hash TEXT NOT NULL,
				global_role TEXT NOT NULL DEFAULT 'member',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS user_profiles (
				username TEXT PRIMARY KEY,
				display_name TEXT NOT NULL DEFAULT '',
				bio TEXT NOT NULL DEFAULT '',
				phone TEXT NOT NULL DEFAULT '',
				avatar_url TEXT NOT NULL DEFAULT '',
				notifications_enabled BOOLEAN NOT NULL DEFAULT true
			)`,
			`CREATE TABLE IF NOT EXISTS user_avatars (
				id BIGSERIAL PRIMARY KEY,
				username TEXT NOT NULL,
				avatar_url TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_avatars_username ON user_avatars (username)`,
		},
	},
	{
		Version: 2,
		Name:    "messages_and_groups",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGSERIAL PRIMARY KEY,
				room TEXT NOT NULL,
				author TEXT NOT NULL,
				body TEXT NOT NULL,
				type TEXT NOT NULL DEFAULT 'text',
				reply_to_id BIGINT,
				reply_to_author TEXT,
				reply_to_body TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages (room, id DESC)`,
			`CREATE TABLE IF NOT EXISTS group_members (
				id BIGSERIAL PRIMARY KEY,
				room TEXT NOT NULL,
				username TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT 'member',
				UNIQUE (room, username)
			)`,
			`CREATE TABLE IF NOT EXISTS group_settings (
				room TEXT PRIMARY KEY,
				is_private BOOLEAN NOT NULL DEFAULT false,
				slow_mode INTEGER NOT NULL DEFAULT 0,
				avatar_url TEXT NOT NULL DEFAULT ''
			)`,
		},
	},
	{
		Version: 3,
		Name:    "social",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS friends (
				id BIGSERIAL PRIMARY KEY,
				user_1 TEXT NOT NULL,
				user_2 TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS blocked_users (
				id BIGSERIAL PRIMARY KEY,
				blocker TEXT NOT NULL,
				blocked TEXT NOT NULL,
				UNIQUE (blocker, blocked)
			)`,
			`CREATE TABLE IF NOT EXISTS notifications (
				id BIGSERIAL PRIMARY KEY,
				user_to TEXT NOT NULL,
				type TEXT NOT NULL,
				content TEXT NOT NULL DEFAULT '',
				data TEXT NOT NULL DEFAULT '',
				is_read BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_notifications_user_to ON notifications (user_to, id DESC)`,
		},
	},
	{
		Version: 4,
		Name:    "badges_and_push",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS badges (
				id BIGSERIAL PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				svg TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_badges (
				username TEXT NOT NULL,
				badge_id BIGINT NOT NULL REFERENCES badges (id) ON DELETE CASCADE,
				PRIMARY KEY (username, badge_id)
			)`,
			`CREATE TABLE IF NOT EXISTS push_subscriptions (
				id BIGSERIAL PRIMARY KEY,
				username TEXT NOT NULL,
				endpoint TEXT UNIQUE NOT NULL,
				p256dh TEXT NOT NULL,
				auth TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
		},
	},
	{
		Version: 5,
		Name:    "per_user_chat_state",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS chat_wallpapers (
				username TEXT NOT NULL,
				room TEXT NOT NULL,
				url TEXT NOT NULL,
				PRIMARY KEY (username, room)
			)`,
			`CREATE TABLE IF NOT EXISTS chat_previews (
				username TEXT NOT NULL,
				room TEXT NOT NULL,
				last_author TEXT NOT NULL,
				last_body TEXT NOT NULL,
				unread INTEGER NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				PRIMARY KEY (username, room)
			)`,
		},
	},
	{
		Version: 6,
		Name:    "general_backfill",
		Statements: []string{
			`INSERT INTO group_members (room, username, role)
			SELECT 'General', username, 'member' FROM users
			ON CONFLICT (room, username) DO NOTHING`,
		},
	},
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return migrate(ctx, pool, Migrations)
}

func migrate(ctx context.Context, pool *pgxpool.Pool, list []Migration) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, m := range list {
		if err := apply(ctx, pool, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, pool *pgxpool.Pool, m Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.Version, err)
	}
	defer tx.Rollback(ctx)

	var done bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&done); err != nil {
		return fmt.Errorf("migration %d: check: %w", m.Version, err)
	}
	if done {
		return nil
	}

	for _, stmt := range m.Statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
		return fmt.Errorf("migration %d: record: %w", m.Version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.Version, err)
	}

	log.Info().Int("version", m.Version).Str("name", m.Name).Msg("migration applied")
	return nil
}
