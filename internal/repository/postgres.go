package repository

import (
	"context"
	"errors"
	"fmt"

	"connect/server/internal/models"
	"connect/server/internal/room"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type txStarter interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres implements Store on a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
	tx   txStarter
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, tx: pool}
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateUser inserts the account, its profile and the General membership
// in one transaction.
func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	tx, err := p.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var user models.User
	err = tx.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, global_role)
		VALUES ($1, $2, $3)
		RETURNING id, username, password_hash, global_role, created_at
	`, username, passwordHash, models.RoleMember).
		Scan(&user.ID, &user.Username, &user.Password, &user.GlobalRole, &user.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO user_profiles (username, display_name) VALUES ($1, $1)
		ON CONFLICT (username) DO NOTHING
	`, username); err != nil {
		return nil, fmt.Errorf("insert profile: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO group_members (room, username, role) VALUES ($1, $2, $3)
		ON CONFLICT (room, username) DO NOTHING
	`, room.General, username, models.ChatRoleMember); err != nil {
		return nil, fmt.Errorf("join general: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &user, nil
}

func (p *Postgres) GetUser(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := p.pool.QueryRow(ctx, `
		SELECT id, username, password_hash, global_role, created_at
		FROM users WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.Password, &user.GlobalRole, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *Postgres) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)", username).Scan(&exists)
	return exists, err
}

func (p *Postgres) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}

func (p *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, username, password_hash, global_role, created_at
		FROM users ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Password, &u.GlobalRole, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *Postgres) SearchUsers(ctx context.Context, query string, limit int) ([]models.UserSummary, error) {
	pattern := "%" + query + "%"
	rows, err := p.pool.Query(ctx, `
		SELECT u.username, COALESCE(NULLIF(p.display_name, ''), u.username), COALESCE(p.avatar_url, ''), u.global_role
		FROM users u
		LEFT JOIN user_profiles p ON p.username = u.username
		WHERE u.username ILIKE $1 OR p.display_name ILIKE $1
		ORDER BY u.username
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.UserSummary{}
	for rows.Next() {
		var s models.UserSummary
		if err := rows.Scan(&s.Username, &s.DisplayName, &s.AvatarURL, &s.GlobalRole); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) SetGlobalRole(ctx context.Context, username, role string) error {
	tag, err := p.pool.Exec(ctx, "UPDATE users SET global_role = $1 WHERE username = $2", role, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var deleteUserStatements = []string{
	`DELETE FROM messages WHERE author = $1`,
	`DELETE FROM group_members WHERE username = $1`,
	`DELETE FROM friends WHERE user_1 = $1 OR user_2 = $1`,
	`DELETE FROM blocked_users WHERE blocker = $1 OR blocked = $1`,
	`DELETE FROM user_avatars WHERE username = $1`,
	`DELETE FROM user_profiles WHERE username = $1`,
	`DELETE FROM notifications WHERE user_to = $1`,
	`DELETE FROM user_badges WHERE username = $1`,
	`DELETE FROM push_subscriptions WHERE username = $1`,
	`DELETE FROM chat_wallpapers WHERE username = $1`,
	`DELETE FROM chat_previews WHERE username = $1`,
}

func (p *Postgres) DeleteUser(ctx context.Context, username string) error {
	tx, err := p.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	for _, stmt := range deleteUserStatements {
		if _, err := tx.Exec(ctx, stmt, username); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// rekeyDM rewrites DM room keys in table.column that contain $1 so that
// they contain $2 instead, keeping the two halves byte-sorted.
func rekeyDM(table, column string) string {
	half := func(n int) string { return fmt.Sprintf("split_part(%s, '_', %d) COLLATE \"C\"", column, n) }
	newName := `$2::text COLLATE "C"`
	pair := func(other string) string {
		return fmt.Sprintf("LEAST(%s, %s) || '_' || GREATEST(%s, %s)", newName, other, newName, other)
	}
	return fmt.Sprintf(`UPDATE %s SET %s = CASE WHEN split_part(%s, '_', 1) = $1::text THEN %s ELSE %s END
		WHERE position('_' in %s) > 0 AND $1::text IN (split_part(%s, '_', 1), split_part(%s, '_', 2))`,
		table, column, column, pair(half(2)), pair(half(1)), column, column, column)
}

// renameStatements run in order inside one transaction, each with
// ($1 = old name, $2 = new name).
var renameStatements = []string{
	`UPDATE users SET username = $2 WHERE username = $1`,
	`UPDATE messages SET author = $2 WHERE author = $1`,
	`UPDATE messages SET reply_to_author = $2 WHERE reply_to_author = $1`,
	`UPDATE friends SET user_1 = $2 WHERE user_1 = $1`,
	`UPDATE friends SET user_2 = $2 WHERE user_2 = $1`,
	`UPDATE group_members SET username = $2 WHERE username = $1`,
	`UPDATE user_profiles SET username = $2 WHERE username = $1`,
	`UPDATE user_badges SET username = $2 WHERE username = $1`,
	`UPDATE blocked_users SET blocker = $2 WHERE blocker = $1`,
	`UPDATE blocked_users SET blocked = $2 WHERE blocked = $1`,
	`UPDATE user_avatars SET username = $2 WHERE username = $1`,
	`UPDATE notifications SET user_to = $2 WHERE user_to = $1`,
	`UPDATE notifications SET data = $2 WHERE type = 'friend_request' AND data = $1`,
	`UPDATE push_subscriptions SET username = $2 WHERE username = $1`,
	`UPDATE chat_wallpapers SET username = $2 WHERE username = $1`,
	`UPDATE chat_previews SET username = $2 WHERE username = $1`,
	`UPDATE chat_previews SET last_author = $2 WHERE last_author = $1`,
	rekeyDM("messages", "room"),
	rekeyDM("chat_wallpapers", "room"),
	rekeyDM("chat_previews", "room"),
	rekeyDM("notifications", "data"),
}

func (p *Postgres) RenameUser(ctx context.Context, oldName, newName string) (err error) {
	tx, err := p.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Str("user", oldName).Msg("rename rollback failed")
			}
		}
	}()

	for i, stmt := range renameStatements {
		if _, err = tx.Exec(ctx, stmt, oldName, newName); err != nil {
			if isUniqueViolation(err) {
				err = ErrConflict
				return err
			}
			err = fmt.Errorf("rename step %d: %w", i, err)
			return err
		}
	}
	if err = tx.Commit(ctx); err != nil {
		err = fmt.Errorf("commit: %w", err)
		return err
	}
	return nil
}

func (p *Postgres) GetOrCreateProfile(ctx context.Context, username string) (*models.Profile, error) {
	if _, err := p.pool.Exec(ctx, `
		INSERT INTO user_profiles (username, display_name) VALUES ($1, $1)
		ON CONFLICT (username) DO NOTHING
	`, username); err != nil {
		return nil, err
	}
	return p.getProfile(ctx, username)
}

func (p *Postgres) getProfile(ctx context.Context, username string) (*models.Profile, error) {
	var prof models.Profile
	err := p.pool.QueryRow(ctx, `
		SELECT username, display_name, bio, phone, avatar_url, notifications_enabled
		FROM user_profiles WHERE username = $1
	`, username).Scan(&prof.Username, &prof.DisplayName, &prof.Bio, &prof.Phone, &prof.AvatarURL, &prof.NotificationsEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if prof.DisplayName == "" {
		prof.DisplayName = prof.Username
	}
	return &prof, nil
}

func (p *Postgres) UpdateProfile(ctx context.Context, username string, upd models.ProfileUpdate) (*models.Profile, error) {
	if _, err := p.GetOrCreateProfile(ctx, username); err != nil {
		return nil, err
	}
	if _, err := p.pool.Exec(ctx, `
		UPDATE user_profiles SET display_name = $1, bio = $2, phone = $3, notifications_enabled = $4
		WHERE username = $5
	`, upd.DisplayName, upd.Bio, upd.Phone, upd.NotificationsEnabled, username); err != nil {
		return nil, err
	}
	return p.getProfile(ctx, username)
}

func (p *Postgres) DisplayNames(ctx context.Context, usernames []string) (map[string]string, error) {
	names := make(map[string]string, len(usernames))
	if len(usernames) == 0 {
		return names, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT username, display_name FROM user_profiles WHERE username = ANY($1)
	`, dedupe(usernames))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var u, d string
		if err := rows.Scan(&u, &d); err != nil {
			return nil, err
		}
		if d == "" {
			d = u
		}
		names[u] = d
	}
	for _, u := range usernames {
		if _, ok := names[u]; !ok {
			names[u] = u
		}
	}
	return names, rows.Err()
}

func (p *Postgres) AddAvatar(ctx context.Context, username, url string) (*models.Profile, error) {
	if _, err := p.GetOrCreateProfile(ctx, username); err != nil {
		return nil, err
	}
	if _, err := p.pool.Exec(ctx, "INSERT INTO user_avatars (username, avatar_url) VALUES ($1, $2)", username, url); err != nil {
		return nil, err
	}
	if _, err := p.pool.Exec(ctx, "UPDATE user_profiles SET avatar_url = $1 WHERE username = $2", url, username); err != nil {
		return nil, err
	}
	return p.getProfile(ctx, username)
}

func (p *Postgres) ListAvatars(ctx context.Context, username string) ([]models.Avatar, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, username, avatar_url, created_at FROM user_avatars
		WHERE username = $1 ORDER BY id DESC
	`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Avatar{}
	for rows.Next() {
		var a models.Avatar
		if err := rows.Scan(&a.ID, &a.Username, &a.AvatarURL, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) DeleteAvatar(ctx context.Context, username string, id int64) (*models.Profile, error) {
	tag, err := p.pool.Exec(ctx, "DELETE FROM user_avatars WHERE id = $1 AND username = $2", id, username)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	if _, err := p.pool.Exec(ctx, `
		UPDATE user_profiles SET avatar_url = COALESCE(
			(SELECT avatar_url FROM user_avatars WHERE username = $1 ORDER BY id DESC LIMIT 1), '')
		WHERE username = $1
	`, username); err != nil {
		return nil, err
	}
	return p.getProfile(ctx, username)
}
