package repository

import (
	"context"
	"errors"
	"fmt"

	"connect/server/internal/models"

	"github.com/jackc/pgx/v5"
)

func (p *Postgres) GetMembership(ctx context.Context, room, username string) (*models.GroupMember, error) {
	var m models.GroupMember
	err := p.pool.QueryRow(ctx, `
		SELECT id, room, username, role FROM group_members WHERE room = $1 AND username = $2
	`, room, username).Scan(&m.ID, &m.Room, &m.Username, &m.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *Postgres) AddMember(ctx context.Context, room, username, role string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO group_members (room, username, role) VALUES ($1, $2, $3)
		ON CONFLICT (room, username) DO NOTHING
	`, room, username, role)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) RemoveMember(ctx context.Context, room, username string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM group_members WHERE room = $1 AND username = $2", room, username)
	return err
}

func (p *Postgres) SetMemberRole(ctx context.Context, room, username, role string) error {
	tag, err := p.pool.Exec(ctx, "UPDATE group_members SET role = $1 WHERE room = $2 AND username = $3", role, room, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListMembers(ctx context.Context, room string) ([]models.MemberView, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT gm.id, gm.room, gm.username, gm.role,
			COALESCE(NULLIF(up.display_name, ''), gm.username), COALESCE(up.avatar_url, '')
		FROM group_members gm
		LEFT JOIN user_profiles up ON up.username = gm.username
		WHERE gm.room = $1
		ORDER BY gm.id
	`, room)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.MemberView{}
	for rows.Next() {
		var m models.MemberView
		if err := rows.Scan(&m.ID, &m.Room, &m.Username, &m.Role, &m.DisplayName, &m.AvatarURL); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (p *Postgres) UserGroups(ctx context.Context, username string) ([]string, error) {
	rows, err := p.pool.Query(ctx, "SELECT room FROM group_members WHERE username = $1 ORDER BY id", username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := []string{}
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		groups = append(groups, r)
	}
	return groups, rows.Err()
}

func (p *Postgres) GroupExists(ctx context.Context, room string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM group_members WHERE room = $1)
			OR EXISTS(SELECT 1 FROM group_settings WHERE room = $1)
	`, room).Scan(&exists)
	return exists, err
}

func (p *Postgres) SearchGroups(ctx context.Context, query string, limit int) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT gm.room FROM group_members gm
		LEFT JOIN group_settings gs ON gs.room = gm.room
		WHERE gm.room ILIKE $1 AND COALESCE(gs.is_private, false) = false
		ORDER BY gm.room
		LIMIT $2
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateGroup(ctx context.Context, room, owner string) error {
	tx, err := p.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO group_settings (room) VALUES ($1)`, room); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO group_members (room, username, role) VALUES ($1, $2, $3)
		ON CONFLICT (room, username) DO UPDATE SET role = EXCLUDED.role
	`, room, owner, models.ChatRoleOwner); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *Postgres) DeleteGroup(ctx context.Context, room string) error {
	tx, err := p.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range []string{
		`DELETE FROM group_members WHERE room = $1`,
		`DELETE FROM messages WHERE room = $1`,
		`DELETE FROM group_settings WHERE room = $1`,
		`DELETE FROM chat_wallpapers WHERE room = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, room); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetGroupSettings(ctx context.Context, room string) (*models.GroupSettings, error) {
	var s models.GroupSettings
	err := p.pool.QueryRow(ctx, `
		SELECT room, is_private, slow_mode, avatar_url FROM group_settings WHERE room = $1
	`, room).Scan(&s.Room, &s.IsPrivate, &s.SlowMode, &s.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Postgres) SaveGroupSettings(ctx context.Context, s models.GroupSettings) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO group_settings (room, is_private, slow_mode, avatar_url) VALUES ($1, $2, $3, $4)
		ON CONFLICT (room) DO UPDATE
		SET is_private = EXCLUDED.is_private, slow_mode = EXCLUDED.slow_mode, avatar_url = EXCLUDED.avatar_url
	`, s.Room, s.IsPrivate, s.SlowMode, s.AvatarURL)
	return err
}
