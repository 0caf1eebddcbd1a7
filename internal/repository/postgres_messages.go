package repository

import (
	"context"
	"errors"

	"connect/server/internal/models"

	"github.com/jackc/pgx/v5"
)

const messageColumns = `id, room, author, body, type, reply_to_id, reply_to_author, reply_to_body, created_at`

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.Room, &m.Author, &m.Body, &m.Type, &m.ReplyToID, &m.ReplyToAuthor, &m.ReplyToBody, &m.CreatedAt)
	return m, err
}

func (p *Postgres) InsertMessage(ctx context.Context, msg *models.Message) error {
	return p.pool.QueryRow(ctx, `
		INSERT INTO messages (room, author, body, type, reply_to_id, reply_to_author, reply_to_body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, msg.Room, msg.Author, msg.Body, msg.Type, msg.ReplyToID, msg.ReplyToAuthor, msg.ReplyToBody).
		Scan(&msg.ID, &msg.CreatedAt)
}

func (p *Postgres) RecentMessages(ctx context.Context, room string, limit, offset int) ([]models.Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages WHERE room = $1
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`, room, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest-first from the query, chronological for the caller
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (p *Postgres) GetMessage(ctx context.Context, id int64) (*models.Message, error) {
	m, err := scanMessage(p.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *Postgres) DeleteMessage(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) UpsertChatPreview(ctx context.Context, owner, room, author, body string, unread bool) error {
	inc := 0
	if unread {
		inc = 1
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chat_previews (username, room, last_author, last_body, unread, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (username, room) DO UPDATE
		SET last_author = EXCLUDED.last_author,
			last_body = EXCLUDED.last_body,
			unread = chat_previews.unread + EXCLUDED.unread,
			updated_at = now()
	`, owner, room, author, body, inc)
	return err
}

func (p *Postgres) ClearUnread(ctx context.Context, owner, room string) error {
	_, err := p.pool.Exec(ctx, "UPDATE chat_previews SET unread = 0 WHERE username = $1 AND room = $2", owner, room)
	return err
}

func (p *Postgres) ListChatPreviews(ctx context.Context, owner string) ([]models.ChatPreview, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT username, room, last_author, last_body, unread, updated_at
		FROM chat_previews WHERE username = $1
		ORDER BY updated_at DESC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ChatPreview{}
	for rows.Next() {
		var cp models.ChatPreview
		if err := rows.Scan(&cp.Username, &cp.Room, &cp.LastAuthor, &cp.LastBody, &cp.Unread, &cp.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func (p *Postgres) GetWallpaper(ctx context.Context, username, room string) (string, error) {
	var url string
	err := p.pool.QueryRow(ctx, "SELECT url FROM chat_wallpapers WHERE username = $1 AND room = $2", username, room).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return url, err
}

func (p *Postgres) SetWallpaper(ctx context.Context, username, room, url string) error {
	if url == "" {
		_, err := p.pool.Exec(ctx, "DELETE FROM chat_wallpapers WHERE username = $1 AND room = $2", username, room)
		return err
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO chat_wallpapers (username, room, url) VALUES ($1, $2, $3)
		ON CONFLICT (username, room) DO UPDATE SET url = EXCLUDED.url
	`, username, room, url)
	return err
}
