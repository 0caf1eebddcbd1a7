package repository

import (
	"context"
	"errors"

	"connect/server/internal/models"

	"github.com/jackc/pgx/v5"
)

func (p *Postgres) AreFriends(ctx context.Context, a, b string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM friends WHERE (user_1 = $1 AND user_2 = $2) OR (user_1 = $2 AND user_2 = $1))
	`, a, b).Scan(&exists)
	return exists, err
}

func (p *Postgres) AddFriendship(ctx context.Context, a, b string) error {
	friends, err := p.AreFriends(ctx, a, b)
	if err != nil {
		return err
	}
	if friends {
		return nil
	}
	_, err = p.pool.Exec(ctx, "INSERT INTO friends (user_1, user_2) VALUES ($1, $2)", a, b)
	return err
}

func (p *Postgres) RemoveFriendship(ctx context.Context, a, b string) error {
	_, err := p.pool.Exec(ctx, `
		DELETE FROM friends WHERE (user_1 = $1 AND user_2 = $2) OR (user_1 = $2 AND user_2 = $1)
	`, a, b)
	return err
}

func (p *Postgres) ListFriends(ctx context.Context, username string) ([]models.Friend, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT f.username, COALESCE(NULLIF(p.display_name, ''), f.username), COALESCE(p.avatar_url, '')
		FROM (
			SELECT user_2 AS username FROM friends WHERE user_1 = $1
			UNION
			SELECT user_1 AS username FROM friends WHERE user_2 = $1
		) f
		LEFT JOIN user_profiles p ON p.username = f.username
		ORDER BY f.username
	`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Friend{}
	for rows.Next() {
		var f models.Friend
		if err := rows.Scan(&f.Username, &f.DisplayName, &f.AvatarURL); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *Postgres) IsBlocked(ctx context.Context, blocker, blocked string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM blocked_users WHERE blocker = $1 AND blocked = $2)
	`, blocker, blocked).Scan(&exists)
	return exists, err
}

func (p *Postgres) BlockUser(ctx context.Context, blocker, blocked string) error {
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO blocked_users (blocker, blocked) VALUES ($1, $2)
		ON CONFLICT (blocker, blocked) DO NOTHING
	`, blocker, blocked); err != nil {
		return err
	}
	return p.RemoveFriendship(ctx, blocker, blocked)
}

func (p *Postgres) UnblockUser(ctx context.Context, blocker, blocked string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM blocked_users WHERE blocker = $1 AND blocked = $2", blocker, blocked)
	return err
}

// NotificationsEnabled defaults to true for users without a profile row.
func (p *Postgres) NotificationsEnabled(ctx context.Context, username string) (bool, error) {
	var enabled bool
	err := p.pool.QueryRow(ctx, "SELECT notifications_enabled FROM user_profiles WHERE username = $1", username).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	return enabled, err
}

func (p *Postgres) InsertNotification(ctx context.Context, n *models.Notification) error {
	return p.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_to, type, content, data) VALUES ($1, $2, $3, $4)
		RETURNING id, is_read, created_at
	`, n.UserTo, n.Type, n.Content, n.Data).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
}

func (p *Postgres) RecentNotifications(ctx context.Context, username string, limit int) ([]models.Notification, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_to, type, content, data, is_read, created_at
		FROM notifications WHERE user_to = $1
		ORDER BY id DESC LIMIT $2
	`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserTo, &n.Type, &n.Content, &n.Data, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *Postgres) GetNotification(ctx context.Context, username string, id int64) (*models.Notification, error) {
	var n models.Notification
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_to, type, content, data, is_read, created_at
		FROM notifications WHERE id = $1 AND user_to = $2
	`, id, username).Scan(&n.ID, &n.UserTo, &n.Type, &n.Content, &n.Data, &n.IsRead, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (p *Postgres) HasPendingFriendRequest(ctx context.Context, to, from string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM notifications WHERE user_to = $1 AND type = $2 AND data = $3)
	`, to, models.NotificationFriendRequest, from).Scan(&exists)
	return exists, err
}

func (p *Postgres) MarkNotificationRead(ctx context.Context, username string, id int64) error {
	_, err := p.pool.Exec(ctx, "UPDATE notifications SET is_read = true WHERE id = $1 AND user_to = $2", id, username)
	return err
}

func (p *Postgres) DeleteNotification(ctx context.Context, username string, id int64) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM notifications WHERE id = $1 AND user_to = $2", id, username)
	return err
}

func (p *Postgres) CreateBadge(ctx context.Context, name, svg string) (*models.Badge, error) {
	b := models.Badge{Name: name, SVG: svg}
	err := p.pool.QueryRow(ctx, "INSERT INTO badges (name, svg) VALUES ($1, $2) RETURNING id", name, svg).Scan(&b.ID)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (p *Postgres) DeleteBadge(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM badges WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListBadges(ctx context.Context) ([]models.Badge, error) {
	rows, err := p.pool.Query(ctx, "SELECT id, name, svg FROM badges ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Badge{}
	for rows.Next() {
		var b models.Badge
		if err := rows.Scan(&b.ID, &b.Name, &b.SVG); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *Postgres) AssignBadge(ctx context.Context, username string, badgeID int64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_badges (username, badge_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, username, badgeID)
	return err
}

func (p *Postgres) RevokeBadge(ctx context.Context, username string, badgeID int64) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM user_badges WHERE username = $1 AND badge_id = $2", username, badgeID)
	return err
}

func (p *Postgres) BadgesFor(ctx context.Context, usernames []string) (map[string][]models.Badge, error) {
	out := make(map[string][]models.Badge)
	if len(usernames) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT ub.username, b.id, b.name, b.svg
		FROM user_badges ub JOIN badges b ON b.id = ub.badge_id
		WHERE ub.username = ANY($1)
		ORDER BY b.id
	`, dedupe(usernames))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		var b models.Badge
		if err := rows.Scan(&u, &b.ID, &b.Name, &b.SVG); err != nil {
			return nil, err
		}
		out[u] = append(out[u], b)
	}
	return out, rows.Err()
}

func (p *Postgres) SavePushSubscription(ctx context.Context, sub *models.PushSubscription) error {
	return p.pool.QueryRow(ctx, `
		INSERT INTO push_subscriptions (username, endpoint, p256dh, auth) VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE
		SET username = EXCLUDED.username, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth
		RETURNING id, created_at
	`, sub.Username, sub.Endpoint, sub.P256dh, sub.Auth).Scan(&sub.ID, &sub.CreatedAt)
}

func (p *Postgres) ListPushSubscriptions(ctx context.Context, username string) ([]models.PushSubscription, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, username, endpoint, p256dh, auth, created_at
		FROM push_subscriptions WHERE username = $1 ORDER BY id
	`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.PushSubscription{}
	for rows.Next() {
		var s models.PushSubscription
		if err := rows.Scan(&s.ID, &s.Username, &s.Endpoint, &s.P256dh, &s.Auth, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) DeletePushSubscription(ctx context.Context, id int64) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM push_subscriptions WHERE id = $1", id)
	return err
}

func (p *Postgres) DeletePushSubscriptionByEndpoint(ctx context.Context, username, endpoint string) error {
	_, err := p.pool.Exec(ctx, "DELETE FROM push_subscriptions WHERE username = $1 AND endpoint = $2", username, endpoint)
	return err
}
