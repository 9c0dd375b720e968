package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dospill/internal/app/db"
)

// PostgresRepository persists documents in Postgres through a pgx pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an already migrated pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const (
	userColumns    = `id, COALESCE(email, ''), display_name, avatar_url, pronouns, is_banned, created_at`
	chatColumns    = `id, name, participants, invite_code, created_by, created_at, last_message`
	messageColumns = `id, chat_id, sender_id, sender_name, body_text, image_url, created_at`
	reportColumns  = `id, reported_user_id, reporter_id, reason, chat_id, created_at`
)

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.AvatarURL, &u.Pronouns, &u.Banned, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func scanChat(row pgx.Row) (*Chat, error) {
	var c Chat
	err := row.Scan(&c.ID, &c.Name, &c.Participants, &c.InviteCode, &c.CreatedBy, &c.CreatedAt, &c.LastMessage)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.SenderName, &m.Text, &m.ImageURL, &m.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &m, nil
}

func scanReport(row pgx.Row) (*Report, error) {
	var r Report
	err := row.Scan(&r.ID, &r.ReportedUserID, &r.ReporterID, &r.Reason, &r.ChatID, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

// mapErr translates driver errors into the store sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrAlreadyExists
	default:
		return err
	}
}

// collect drains rows through scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	out := make([]T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresRepository) CreateUser(ctx context.Context, u *User) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, email, display_name, avatar_url, pronouns, is_banned, created_at)
		 VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
		u.ID, u.Email, u.DisplayName, u.AvatarURL, u.Pronouns, u.Banned, u.CreatedAt)
	return mapErr(err)
}

func (p *PostgresRepository) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *PostgresRepository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanUser)
}

func (p *PostgresRepository) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*User, error) {
	return scanUser(p.pool.QueryRow(ctx,
		`UPDATE users SET
		     display_name = COALESCE($2, display_name),
		     pronouns     = COALESCE($3, pronouns),
		     avatar_url   = COALESCE($4, avatar_url)
		 WHERE id = $1
		 RETURNING `+userColumns,
		id, update.DisplayName, update.Pronouns, update.AvatarURL))
}

func (p *PostgresRepository) SetBanned(ctx context.Context, id string, banned bool) (*User, error) {
	return scanUser(p.pool.QueryRow(ctx,
		`UPDATE users SET is_banned = $2 WHERE id = $1 RETURNING `+userColumns, id, banned))
}

func (p *PostgresRepository) CreateChat(ctx context.Context, c *Chat) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO chats (id, name, participants, invite_code, created_by, created_at, last_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.Participants, c.InviteCode, c.CreatedBy, c.CreatedAt, c.LastMessage)
	return mapErr(err)
}

func (p *PostgresRepository) GetChat(ctx context.Context, id string) (*Chat, error) {
	return scanChat(p.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id))
}

func (p *PostgresRepository) FindChatByInvite(ctx context.Context, code string) (*Chat, error) {
	c, err := scanChat(p.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats WHERE invite_code = $1`, code))
	if err == ErrNotFound {
		return nil, ErrInviteNotFound
	}
	return c, err
}

// AddParticipant relies on the row lock taken by UPDATE: a concurrent join of the same
// user re-evaluates the ANY() guard against the committed row and matches nothing.
func (p *PostgresRepository) AddParticipant(ctx context.Context, chatID, userID string) (*Chat, bool, error) {
	c, err := scanChat(p.pool.QueryRow(ctx,
		`UPDATE chats SET participants = array_append(participants, $2)
		 WHERE id = $1 AND NOT ($2 = ANY (participants))
		 RETURNING `+chatColumns,
		chatID, userID))
	if err == nil {
		return c, true, nil
	}
	if err != ErrNotFound {
		return nil, false, err
	}

	c, err = p.GetChat(ctx, chatID)
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

func (p *PostgresRepository) ListChatsForUser(ctx context.Context, userID string) ([]Chat, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE participants @> ARRAY[$1]::text[] ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanChat)
}

func (p *PostgresRepository) AddMessage(ctx context.Context, m *Message) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE chats SET last_message = $2 WHERE id = $1`, m.ChatID, m.Preview())
		if err != nil {
			return fmt.Errorf("update last message: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO messages (id, chat_id, sender_id, sender_name, body_text, image_url, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ID, m.ChatID, m.SenderID, m.SenderName, m.Text, m.ImageURL, m.CreatedAt)
		return mapErr(err)
	})
}

func (p *PostgresRepository) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	if _, err := p.GetChat(ctx, chatID); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE chat_id = $1 ORDER BY created_at, seq`, chatID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanMessage)
}

func (p *PostgresRepository) CreateReport(ctx context.Context, r *Report) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO reports (id, reported_user_id, reporter_id, reason, chat_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.ReportedUserID, r.ReporterID, r.Reason, r.ChatID, r.CreatedAt)
	return mapErr(err)
}

func (p *PostgresRepository) GetReport(ctx context.Context, id string) (*Report, error) {
	return scanReport(p.pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id))
}

func (p *PostgresRepository) ListReports(ctx context.Context) ([]Report, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+reportColumns+` FROM reports ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReport)
}

func (p *PostgresRepository) DeleteReport(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the pool.
func (p *PostgresRepository) Close() {
	p.pool.Close()
}
