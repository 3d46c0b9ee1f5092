package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
	email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	avatar_url    TEXT NOT NULL DEFAULT '',
	is_online     INTEGER NOT NULL DEFAULT 0,
	last_seen_at  INTEGER,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	room_id      TEXT NOT NULL DEFAULT 'general',
	body         TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'text',
	file_url     TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at);
CREATE INDEX IF NOT EXISTS idx_users_online ON users (is_online);
`

const sqliteMessageColumns = `m.id, m.user_id, m.room_id, m.body, m.message_type, m.file_url, m.created_at, u.username, u.avatar_url`

const sqliteUserColumns = `id, username, email, password_hash, avatar_url, is_online, last_seen_at, created_at`

// SQLite is a Store backed by a local SQLite file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens the database at path, creating the file and schema if
// needed.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	dsn := cleanPath + "?_pragma=foreign_keys(ON)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Close closes the database handle.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateUser inserts a user. A taken username or email is a Conflict error.
func (s *SQLite) CreateUser(ctx context.Context, in models.NewUser) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, avatar_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING `+sqliteUserColumns,
		in.Username, in.Email, in.PasswordHash, in.AvatarURL, toMillis(s.now()),
	)
	u, err := scanSQLiteUser(row)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return models.User{}, conflictUser(err)
		}
		return models.User{}, chaterr.Persistence("create user", err)
	}
	return u, nil
}

// GetUserByID retrieves a user by id.
func (s *SQLite) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
	return s.userResult("get user", row)
}

// GetUserByUsername retrieves a user by username, ignoring case.
func (s *SQLite) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE username = ?`, username)
	return s.userResult("get user", row)
}

func (s *SQLite) userResult(op string, row *sql.Row) (models.User, error) {
	u, err := scanSQLiteUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, userNotFound(op)
		}
		return models.User{}, chaterr.Persistence(op, err)
	}
	return u, nil
}

// UpdatePresence sets the online flag of userID. Going offline stamps
// last_seen_at; coming online clears it.
func (s *SQLite) UpdatePresence(ctx context.Context, userID int64, online bool) error {
	var lastSeen sql.NullInt64
	if !online {
		lastSeen = sql.NullInt64{Int64: toMillis(s.now()), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_online = ?, last_seen_at = ? WHERE id = ?`,
		online, lastSeen, userID,
	)
	if err != nil {
		return chaterr.Persistence("update presence", err)
	}
	return nil
}

// OnlineUsers returns the users currently online ordered by username.
func (s *SQLite) OnlineUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE is_online = 1 ORDER BY username`)
	if err != nil {
		return nil, chaterr.Persistence("online users", err)
	}
	return collectSQLiteUsers("online users", rows)
}

// CreateMessage inserts msg and returns it joined with its author.
func (s *SQLite) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (user_id, room_id, body, message_type, file_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, msg.UserID, msg.RoomID, msg.Body, string(msg.MessageType), msg.FileURL, toMillis(s.now())).Scan(&id)
	if err != nil {
		if isSQLiteForeignKeyViolation(err) {
			return models.Message{}, unknownUser("create message")
		}
		return models.Message{}, chaterr.Persistence("create message", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.id = ?
	`, id)
	saved, err := scanSQLiteMessage(row)
	if err != nil {
		return models.Message{}, chaterr.Persistence("create message", err)
	}
	return saved, nil
}

// GetRecentMessages returns the newest limit messages of roomID oldest first.
func (s *SQLite) GetRecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT * FROM (
			SELECT `+sqliteMessageColumns+`
			FROM messages m JOIN users u ON u.id = m.user_id
			WHERE m.room_id = ?
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, id ASC
	`, roomID, ClampLimit(limit, DefaultRecentLimit))
	if err != nil {
		return nil, chaterr.Persistence("recent messages", err)
	}
	return collectSQLiteMessages("recent messages", rows)
}

// SearchMessages returns messages of roomID containing query, newest first.
// SQLite LIKE is case-insensitive for ASCII.
func (s *SQLite) SearchMessages(ctx context.Context, roomID, query string, limit int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.room_id = ? AND m.body LIKE ? ESCAPE '\'
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?
	`, roomID, likePattern(query), ClampLimit(limit, DefaultSearchLimit))
	if err != nil {
		return nil, chaterr.Persistence("search messages", err)
	}
	return collectSQLiteMessages("search messages", rows)
}

// DeleteMessage removes messageID from roomID if userID wrote it. A message
// of another room is reported as not found.
func (s *SQLite) DeleteMessage(ctx context.Context, roomID string, messageID, userID int64) error {
	var owner int64
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM messages WHERE id = ? AND room_id = ?`, messageID, roomID).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return messageNotFound("delete message")
		}
		return chaterr.Persistence("delete message", err)
	}
	if owner != userID {
		return notOwner()
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND room_id = ? AND user_id = ?`, messageID, roomID, userID)
	if err != nil {
		return chaterr.Persistence("delete message", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return messageNotFound("delete message")
	}
	return nil
}

// RoomUsers returns every user who has written in roomID ordered by username.
func (s *SQLite) RoomUsers(ctx context.Context, roomID string) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteUserColumns+` FROM users
		WHERE id IN (SELECT DISTINCT user_id FROM messages WHERE room_id = ?)
		ORDER BY username
	`, roomID)
	if err != nil {
		return nil, chaterr.Persistence("room users", err)
	}
	return collectSQLiteUsers("room users", rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (models.User, error) {
	var (
		u         models.User
		lastSeen  sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.AvatarURL,
		&u.IsOnline,
		&lastSeen,
		&createdAt,
	); err != nil {
		return models.User{}, err
	}
	if lastSeen.Valid {
		seen := fromMillis(lastSeen.Int64)
		u.LastSeenAt = &seen
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

func scanSQLiteMessage(row rowScanner) (models.Message, error) {
	var (
		m         models.Message
		msgType   string
		createdAt int64
	)
	if err := row.Scan(
		&m.ID,
		&m.UserID,
		&m.RoomID,
		&m.Body,
		&msgType,
		&m.FileURL,
		&createdAt,
		&m.Author.Username,
		&m.Author.AvatarURL,
	); err != nil {
		return models.Message{}, err
	}
	m.MessageType = models.MessageType(msgType)
	m.CreatedAt = fromMillis(createdAt)
	m.Author.ID = m.UserID
	return m, nil
}

func collectSQLiteUsers(op string, rows *sql.Rows) ([]models.User, error) {
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, chaterr.Persistence(op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, chaterr.Persistence(op, err)
	}
	return users, nil
}

func collectSQLiteMessages(op string, rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		m, err := scanSQLiteMessage(rows)
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

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_UNIQUE, sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isSQLiteForeignKeyViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "foreign key constraint failed")
}
