package relay

import (
	"sync"
	"time"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
)

// Session is the live association of one connection with, optionally, a user
// and a room.
type Session struct {
	ConnectionID string
	UserID       int64
	RoomID       string
	JoinedAt     time.Time
}

// Joined reports whether the session has entered a room.
func (s Session) Joined() bool {
	return s.RoomID != ""
}

// JoinResult describes a RecordJoin mutation.
type JoinResult struct {
	// Previous is the session as it was before the join.
	Previous Session
	// UserSessions is the number of sessions of the joining user after the join.
	UserSessions int
	// PreviousUserSessions is the number of sessions left for Previous.UserID
	// when the join replaced it with a different user.
	PreviousUserSessions int
}

// ConnectionRegistry owns the Session of every live connection and the number
// of sessions held by each user.
type ConnectionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	perUser  map[int64]int
	now      func() time.Time
}

// NewConnectionRegistry returns an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		sessions: make(map[string]*Session),
		perUser:  make(map[int64]int),
		now:      time.Now,
	}
}

// Register creates an empty session for connID.
func (r *ConnectionRegistry) Register(connID string) error {
	if connID == "" {
		return chaterr.Validation("register", "connection id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[connID]; exists {
		return chaterr.Validation("register", "connection already registered").WithConn(connID, "")
	}
	r.sessions[connID] = &Session{ConnectionID: connID}
	return nil
}

// RecordJoin sets the user and room of an existing session.
func (r *ConnectionRegistry) RecordJoin(connID string, userID int64, roomID string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return JoinResult{}, chaterr.UnknownConnection("record join", connID).WithConn("", roomID)
	}

	result := JoinResult{Previous: *sess}
	if sess.UserID != userID {
		if sess.UserID != 0 {
			r.decrementLocked(sess.UserID)
			result.PreviousUserSessions = r.perUser[sess.UserID]
		}
		if userID != 0 {
			r.perUser[userID]++
		}
	}

	sess.UserID = userID
	sess.RoomID = roomID
	sess.JoinedAt = r.now()
	if userID != 0 {
		result.UserSessions = r.perUser[userID]
	}
	return result, nil
}

// Lookup returns a copy of the session for connID.
func (r *ConnectionRegistry) Lookup(connID string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return Session{}, chaterr.NotFound("lookup", "session not found").WithConn(connID, "")
	}
	return *sess, nil
}

// Remove deletes the session for connID and returns its last state together
// with the number of sessions its user still holds. Removing an absent
// connection reports NotFound.
func (r *ConnectionRegistry) Remove(connID string) (Session, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return Session{}, 0, chaterr.NotFound("remove", "session not found").WithConn(connID, "")
	}
	delete(r.sessions, connID)

	remaining := 0
	if sess.UserID != 0 {
		r.decrementLocked(sess.UserID)
		remaining = r.perUser[sess.UserID]
	}
	return *sess, remaining, nil
}

// SessionCount returns the number of live sessions joined as userID.
func (r *ConnectionRegistry) SessionCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.perUser[userID]
}

// Len returns the number of registered connections.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *ConnectionRegistry) decrementLocked(userID int64) {
	if r.perUser[userID] <= 1 {
		delete(r.perUser, userID)
		return
	}
	r.perUser[userID]--
}
