package relay

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kritesh10/real-time-chat-app/internal/metrics"
)

// PresenceStore persists aggregate online state.
type PresenceStore interface {
	UpdatePresence(ctx context.Context, userID int64, online bool) error
}

// PresenceTracker publishes a user's online state when the number of their
// sessions crosses zero. It keeps no presence state of its own.
type PresenceTracker struct {
	registry *ConnectionRegistry
	rooms    *RoomBroadcaster
	store    PresenceStore
	logger   zerolog.Logger
	locks    userLocks
	now      func() time.Time
}

// NewPresenceTracker returns a tracker reading session counts from registry.
func NewPresenceTracker(registry *ConnectionRegistry, rooms *RoomBroadcaster, store PresenceStore, logger zerolog.Logger) *PresenceTracker {
	return &PresenceTracker{
		registry: registry,
		rooms:    rooms,
		store:    store,
		logger:   logger.With().Str("component", "presence").Logger(),
		locks:    userLocks{locks: make(map[int64]*userLock)},
		now:      time.Now,
	}
}

// OnUserConnected is called after a session of userID joined. sessions is the
// user's session count produced by that registry mutation; only the mutation
// that moved it to 1 marks the user online. It reports whether a transition
// was published.
func (p *PresenceTracker) OnUserConnected(ctx context.Context, userID int64, sessions int) bool {
	if userID == 0 || sessions != 1 {
		return false
	}
	return p.publish(ctx, userID, true)
}

// OnUserDisconnected is called after a session of userID was removed. sessions
// is the count left by that mutation; only reaching 0 marks the user offline.
func (p *PresenceTracker) OnUserDisconnected(ctx context.Context, userID int64, sessions int) bool {
	if userID == 0 || sessions != 0 {
		return false
	}
	return p.publish(ctx, userID, false)
}

// publish writes the transition unless a later mutation already reversed it.
// Writes for one user are serialized so the last one stored matches the
// registry.
func (p *PresenceTracker) publish(ctx context.Context, userID int64, online bool) bool {
	unlock := p.locks.lock(userID)
	defer unlock()

	if (p.registry.SessionCount(userID) > 0) != online {
		p.logger.Debug().Int64("user_id", userID).Bool("online", online).Msg("presence transition superseded")
		return false
	}

	state := "offline"
	if online {
		state = "online"
	}
	metrics.PresenceTransitions.WithLabelValues(state).Inc()

	start := time.Now()
	err := p.store.UpdatePresence(ctx, userID, online)
	metrics.ObserveStore("update_presence", start, err)
	if err != nil {
		p.logger.Error().Err(err).Int64("user_id", userID).Bool("online", online).Msg("presence update failed")
		return true
	}
	p.logger.Info().Int64("user_id", userID).Str("state", state).Msg("presence changed")
	return true
}

// AnnounceJoined tells roomID that userID entered, skipping exclude.
func (p *PresenceTracker) AnnounceJoined(roomID string, userID int64, exclude string) {
	p.rooms.Broadcast(roomID, EventUserJoined, PresenceNotice{
		Message:   "A user joined the chat",
		UserID:    userID,
		Timestamp: p.now().UTC(),
	}, exclude)
}

// AnnounceLeft tells roomID that userID left, skipping exclude.
func (p *PresenceTracker) AnnounceLeft(roomID string, userID int64, exclude string) {
	p.rooms.Broadcast(roomID, EventUserLeft, PresenceNotice{
		Message:   "A user left the chat",
		UserID:    userID,
		Timestamp: p.now().UTC(),
	}, exclude)
}

type userLock struct {
	sync.Mutex
	refs int
}

type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

func (l *userLocks) lock(userID int64) func() {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
