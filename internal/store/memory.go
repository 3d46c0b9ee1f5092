package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu       sync.RWMutex
	users    map[int64]*models.User
	messages []models.Message
	nextUser int64
	nextMsg  int64
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users: make(map[int64]*models.User),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Ping always succeeds.
func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}

// CreateUser stores a new user. Usernames and emails are unique.
func (m *Memory) CreateUser(ctx context.Context, in models.NewUser) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Username, in.Username) || (in.Email != "" && strings.EqualFold(u.Email, in.Email)) {
			return models.User{}, conflictUser(nil)
		}
	}

	m.nextUser++
	u := &models.User{
		ID:           m.nextUser,
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: in.PasswordHash,
		AvatarURL:    in.AvatarURL,
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u
	return *u, nil
}

// GetUserByID returns the user with id.
func (m *Memory) GetUserByID(ctx context.Context, id int64) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return models.User{}, userNotFound("get user")
	}
	return copyUser(u), nil
}

// GetUserByUsername returns the user named username.
func (m *Memory) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			return copyUser(u), nil
		}
	}
	return models.User{}, userNotFound("get user")
}

// UpdatePresence records the aggregate online state of userID. Unknown users
// are ignored.
func (m *Memory) UpdatePresence(ctx context.Context, userID int64, online bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return nil
	}
	u.IsOnline = online
	if online {
		u.LastSeenAt = nil
	} else {
		seen := m.now()
		u.LastSeenAt = &seen
	}
	return nil
}

// OnlineUsers returns the users currently online ordered by username.
func (m *Memory) OnlineUsers(ctx context.Context) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.User{}
	for _, u := range m.users {
		if u.IsOnline {
			out = append(out, copyUser(u))
		}
	}
	sortUsers(out)
	return out, nil
}

// CreateMessage stores msg and returns it with its id, timestamp and author.
func (m *Memory) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[msg.UserID]
	if !ok {
		return models.Message{}, unknownUser("create message")
	}

	m.nextMsg++
	saved := models.Message{
		ID:          m.nextMsg,
		UserID:      msg.UserID,
		RoomID:      msg.RoomID,
		Body:        msg.Body,
		MessageType: msg.MessageType,
		FileURL:     msg.FileURL,
		CreatedAt:   m.now(),
	}
	m.messages = append(m.messages, saved)
	saved.Author = authorOf(u)
	return saved, nil
}

// GetRecentMessages returns the newest limit messages of roomID oldest first.
func (m *Memory) GetRecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = ClampLimit(limit, DefaultRecentLimit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Message{}
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if m.messages[i].RoomID == roomID {
			out = append(out, m.withAuthor(m.messages[i]))
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SearchMessages returns up to limit messages of roomID whose body contains
// query, ignoring case, newest first.
func (m *Memory) SearchMessages(ctx context.Context, roomID, query string, limit int) ([]models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = ClampLimit(limit, DefaultSearchLimit)
	needle := strings.ToLower(query)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Message{}
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		msg := m.messages[i]
		if msg.RoomID == roomID && strings.Contains(strings.ToLower(msg.Body), needle) {
			out = append(out, m.withAuthor(msg))
		}
	}
	return out, nil
}

// DeleteMessage removes messageID from roomID if userID wrote it. A message
// of another room is reported as not found.
func (m *Memory) DeleteMessage(ctx context.Context, roomID string, messageID, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, msg := range m.messages {
		if msg.ID != messageID || msg.RoomID != roomID {
			continue
		}
		if msg.UserID != userID {
			return notOwner()
		}
		m.messages = append(m.messages[:i], m.messages[i+1:]...)
		return nil
	}
	return messageNotFound("delete message")
}

// RoomUsers returns every user who has written in roomID ordered by username.
func (m *Memory) RoomUsers(ctx context.Context, roomID string) ([]models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[int64]struct{})
	out := []models.User{}
	for _, msg := range m.messages {
		if msg.RoomID != roomID {
			continue
		}
		if _, dup := seen[msg.UserID]; dup {
			continue
		}
		seen[msg.UserID] = struct{}{}
		if u, ok := m.users[msg.UserID]; ok {
			out = append(out, copyUser(u))
		}
	}
	sortUsers(out)
	return out, nil
}

func (m *Memory) withAuthor(msg models.Message) models.Message {
	if u, ok := m.users[msg.UserID]; ok {
		msg.Author = authorOf(u)
	}
	return msg
}

func authorOf(u *models.User) models.Author {
	return models.Author{ID: u.ID, Username: u.Username, AvatarURL: u.AvatarURL}
}

func copyUser(u *models.User) models.User {
	cp := *u
	if u.LastSeenAt != nil {
		seen := *u.LastSeenAt
		cp.LastSeenAt = &seen
	}
	return cp
}
