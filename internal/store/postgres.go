package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      VARCHAR(50) NOT NULL,
	email         VARCHAR(255) NOT NULL,
	password_hash TEXT NOT NULL,
	avatar_url    VARCHAR(255) NOT NULL DEFAULT '',
	is_online     BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users (LOWER(username));
CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users (LOWER(email));
CREATE INDEX IF NOT EXISTS idx_users_online ON users (is_online) WHERE is_online;

CREATE TABLE IF NOT EXISTS messages (
	id           BIGSERIAL PRIMARY KEY,
	user_id      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	room_id      VARCHAR(100) NOT NULL DEFAULT 'general',
	body         TEXT NOT NULL,
	message_type VARCHAR(10) NOT NULL DEFAULT 'text',
	file_url     VARCHAR(255) NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at DESC);
`

const pgMessageColumns = `m.id, m.user_id, m.room_id, m.body, m.message_type, m.file_url, m.created_at, u.username, u.avatar_url`

const pgUserColumns = `id, username, email, password_hash, avatar_url, is_online, last_seen_at, created_at`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to databaseURL and creates the schema if needed.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateUser inserts a user. A taken username or email is a Conflict error.
func (s *Postgres) CreateUser(ctx context.Context, in models.NewUser) (models.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, avatar_url)
		VALUES ($1, $2, $3, $4)
		RETURNING `+pgUserColumns,
		in.Username, in.Email, in.PasswordHash, in.AvatarURL,
	)
	u, err := scanPgUser(row)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return models.User{}, conflictUser(err)
		}
		return models.User{}, chaterr.Persistence("create user", err)
	}
	return u, nil
}

// GetUserByID retrieves a user by id.
func (s *Postgres) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id)
	return s.userResult("get user", row)
}

// GetUserByUsername retrieves a user by username, ignoring case.
func (s *Postgres) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgUserColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
	return s.userResult("get user", row)
}

func (s *Postgres) userResult(op string, row pgx.Row) (models.User, error) {
	u, err := scanPgUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, userNotFound(op)
		}
		return models.User{}, chaterr.Persistence(op, err)
	}
	return u, nil
}

// UpdatePresence sets the online flag of userID. Going offline stamps
// last_seen_at; coming online clears it.
func (s *Postgres) UpdatePresence(ctx context.Context, userID int64, online bool) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET is_online = $2,
		    last_seen_at = CASE WHEN $2 THEN NULL ELSE NOW() END
		WHERE id = $1
	`, userID, online)
	if err != nil {
		return chaterr.Persistence("update presence", err)
	}
	return nil
}

// OnlineUsers returns the users currently online ordered by username.
func (s *Postgres) OnlineUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+pgUserColumns+` FROM users WHERE is_online ORDER BY username`)
	if err != nil {
		return nil, chaterr.Persistence("online users", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanPgUser(rows)
		if err != nil {
			return nil, chaterr.Persistence("online users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, chaterr.Persistence("online users", err)
	}
	return users, nil
}

// CreateMessage inserts msg and returns it joined with its author.
func (s *Postgres) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO messages (user_id, room_id, body, message_type, file_url)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, user_id, room_id, body, message_type, file_url, created_at
		)
		SELECT `+pgMessageColumns+`
		FROM m JOIN users u ON u.id = m.user_id
	`, msg.UserID, msg.RoomID, msg.Body, string(msg.MessageType), msg.FileURL)

	saved, err := scanPgMessage(row)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return models.Message{}, unknownUser("create message")
		}
		return models.Message{}, chaterr.Persistence("create message", err)
	}
	return saved, nil
}

// GetRecentMessages returns the newest limit messages of roomID oldest first.
func (s *Postgres) GetRecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM (
			SELECT `+pgMessageColumns+`
			FROM messages m JOIN users u ON u.id = m.user_id
			WHERE m.room_id = $1
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC
	`, roomID, ClampLimit(limit, DefaultRecentLimit))
	if err != nil {
		return nil, chaterr.Persistence("recent messages", err)
	}
	return collectPgMessages("recent messages", rows)
}

// SearchMessages returns messages of roomID containing query, newest first.
func (s *Postgres) SearchMessages(ctx context.Context, roomID, query string, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1 AND m.body ILIKE $2
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $3
	`, roomID, likePattern(query), ClampLimit(limit, DefaultSearchLimit))
	if err != nil {
		return nil, chaterr.Persistence("search messages", err)
	}
	return collectPgMessages("search messages", rows)
}

// DeleteMessage removes messageID from roomID if userID wrote it. A message
// of another room is reported as not found.
func (s *Postgres) DeleteMessage(ctx context.Context, roomID string, messageID, userID int64) error {
	var owner int64
	err := s.pool.QueryRow(ctx, `SELECT user_id FROM messages WHERE id = $1 AND room_id = $2`, messageID, roomID).Scan(&owner)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return messageNotFound("delete message")
		}
		return chaterr.Persistence("delete message", err)
	}
	if owner != userID {
		return notOwner()
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM messages WHERE id = $1 AND room_id = $2 AND user_id = $3`, messageID, roomID, userID)
	if err != nil {
		return chaterr.Persistence("delete message", err)
	}
	if tag.RowsAffected() == 0 {
		return messageNotFound("delete message")
	}
	return nil
}

// RoomUsers returns every user who has written in roomID ordered by username.
func (s *Postgres) RoomUsers(ctx context.Context, roomID string) ([]models.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgUserColumns+` FROM users
		WHERE id IN (SELECT DISTINCT user_id FROM messages WHERE room_id = $1)
		ORDER BY username
	`, roomID)
	if err != nil {
		return nil, chaterr.Persistence("room users", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanPgUser(rows)
		if err != nil {
			return nil, chaterr.Persistence("room users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, chaterr.Persistence("room users", err)
	}
	return users, nil
}

func scanPgUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.AvatarURL,
		&u.IsOnline,
		&u.LastSeenAt,
		&u.CreatedAt,
	)
	return u, err
}

func scanPgMessage(row pgx.Row) (models.Message, error) {
	var (
		m       models.Message
		msgType string
	)
	err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.RoomID,
		&m.Body,
		&msgType,
		&m.FileURL,
		&m.CreatedAt,
		&m.Author.Username,
		&m.Author.AvatarURL,
	)
	m.MessageType = models.MessageType(msgType)
	m.Author.ID = m.UserID
	return m, err
}

func collectPgMessages(op string, rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanPgMessage(rows)
		if err != nil {
			return nil, chaterr.Persistence(op, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, chaterr.Persistence(op, err)
	}
	return messages, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
