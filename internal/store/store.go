// Package store persists users, messages and presence for the chat relay.
//
// Memory, Postgres and SQLite implement Store. RedisPresence is an optional
// presence mirror layered over any of them with WithPresenceCache.
package store

import (
	"context"
	"sort"
	"strings"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

// Default and maximum page sizes for message queries.
const (
	DefaultRecentLimit = 50
	DefaultSearchLimit = 20
	MaxLimit           = 200
)

// Store defines every persistence operation the service needs.
type Store interface {
	// Connection management
	Ping(ctx context.Context) error
	Close() error

	// User operations
	CreateUser(ctx context.Context, user models.NewUser) (models.User, error)
	GetUserByID(ctx context.Context, id int64) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	UpdatePresence(ctx context.Context, userID int64, online bool) error
	OnlineUsers(ctx context.Context) ([]models.User, error)

	// Message operations
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
	GetRecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
	SearchMessages(ctx context.Context, roomID, query string, limit int) ([]models.Message, error)
	DeleteMessage(ctx context.Context, roomID string, messageID, userID int64) error
	RoomUsers(ctx context.Context, roomID string) ([]models.User, error)
}

// ClampLimit returns limit, or def when limit is not positive, capped at MaxLimit.
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// presenceSource is implemented by stores that keep presence apart from the
// user rows.
type presenceSource interface {
	Presence(ctx context.Context, userID int64) (models.Presence, error)
}

// UserPresence returns the presence of userID. It reads the presence mirror
// when st has one and falls back to the user record. Unknown users are
// NotFound.
func UserPresence(ctx context.Context, st Store, userID int64) (models.Presence, error) {
	u, err := st.GetUserByID(ctx, userID)
	if err != nil {
		return models.Presence{}, err
	}
	if src, ok := st.(presenceSource); ok {
		if p, err := src.Presence(ctx, userID); err == nil {
			return p, nil
		}
	}
	return models.Presence{UserID: u.ID, IsOnline: u.IsOnline, LastSeenAt: u.LastSeenAt}, nil
}

const usernameTaken = "Username or email already exists"

func conflictUser(err error) error {
	return chaterr.Conflict("create user", usernameTaken, err)
}

func unknownUser(op string) error {
	return chaterr.Validation(op, "unknown user")
}

func messageNotFound(op string) error {
	return chaterr.NotFound(op, "message not found")
}

func userNotFound(op string) error {
	return chaterr.NotFound(op, "user not found")
}

func notOwner() error {
	return chaterr.Authorization("delete message", "only the author can delete a message")
}

// likePattern escapes query for a LIKE/ILIKE substring match using '\' as the
// escape character.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}

func sortUsers(users []models.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
}
