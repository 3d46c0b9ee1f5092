package relay

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/metrics"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

// DefaultHistoryLimit is the number of messages sent to a joining connection.
const DefaultHistoryLimit = 50

// Store is the persistence collaborator the core depends on.
type Store interface {
	MessageStore
	PresenceStore
	GetRecentMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error)
}

// State is the lifecycle state of one connection.
type State int

const (
	// StateClosed is terminal; unknown connections also report it.
	StateClosed State = iota
	// StateUnjoined is a registered connection that has not entered a room.
	StateUnjoined
	// StateJoined is a connection inside a room.
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	default:
		return "closed"
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithHistoryLimit sets how many messages a joining connection receives.
func WithHistoryLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.historyLimit = limit
		}
	}
}

// Manager drives every connection through connect, join, message, typing and
// disconnect. Callers must deliver the events of one connection sequentially;
// events of different connections may arrive concurrently.
type Manager struct {
	registry *ConnectionRegistry
	rooms    *RoomBroadcaster
	presence *PresenceTracker
	relay    *MessageRelay
	typing   *TypingNotifier
	store    Store
	logger   zerolog.Logger

	historyLimit int

	// membership couples registry and broadcaster mutations so a room's member
	// set always equals the sessions whose room is that room.
	membership sync.Mutex
}

// NewManager builds the core components around store.
func NewManager(store Store, logger zerolog.Logger, opts ...Option) *Manager {
	registry := NewConnectionRegistry()
	rooms := NewRoomBroadcaster(logger)
	m := &Manager{
		registry:     registry,
		rooms:        rooms,
		presence:     NewPresenceTracker(registry, rooms, store, logger),
		relay:        NewMessageRelay(store, rooms, logger),
		typing:       NewTypingNotifier(rooms),
		store:        store,
		logger:       logger.With().Str("component", "lifecycle").Logger(),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registry exposes the connection registry for inspection.
func (m *Manager) Registry() *ConnectionRegistry {
	return m.registry
}

// Rooms exposes the broadcaster for inspection.
func (m *Manager) Rooms() *RoomBroadcaster {
	return m.rooms
}

// State reports the lifecycle state of connID.
func (m *Manager) State(connID string) State {
	sess, err := m.registry.Lookup(connID)
	if err != nil {
		return StateClosed
	}
	if sess.Joined() {
		return StateJoined
	}
	return StateUnjoined
}

// OnConnect registers connID and the sender used to reach it.
func (m *Manager) OnConnect(connID string, sender Sender) error {
	if err := m.registry.Register(connID); err != nil {
		return err
	}
	m.rooms.Attach(connID, sender)
	metrics.ActiveConnections.Inc()
	m.logger.Debug().Str("conn_id", connID).Msg("connection registered")
	return nil
}

// Dispatch routes one inbound event of connID to its handler.
func (m *Manager) Dispatch(ctx context.Context, connID string, ev Inbound) error {
	switch ev := ev.(type) {
	case JoinRoom:
		return m.OnJoinRoom(ctx, connID, ev)
	case SendMessage:
		return m.OnSendMessage(ctx, connID, ev)
	case Typing:
		return m.OnTyping(connID, ev)
	case Disconnect:
		return m.OnDisconnect(ctx, connID, ev.Reason)
	default:
		return fmt.Errorf("relay: unhandled inbound event %T", ev)
	}
}

// OnJoinRoom places connID in ev.RoomID, leaving any previous room, sends the
// room history to connID only and announces the arrival to the others.
func (m *Manager) OnJoinRoom(ctx context.Context, connID string, ev JoinRoom) error {
	roomID, err := normalizeRoomID(ev.RoomID)
	if err != nil {
		m.rooms.sendError(connID, err)
		return err
	}

	m.membership.Lock()
	res, err := m.registry.RecordJoin(connID, ev.UserID, roomID)
	if err == nil {
		if prev := res.Previous.RoomID; prev != "" && prev != roomID {
			m.rooms.Leave(prev, connID)
		}
		m.rooms.Join(roomID, connID)
	}
	m.membership.Unlock()
	if err != nil {
		m.logger.Warn().Err(err).Str("conn_id", connID).Msg("join on unknown connection")
		return err
	}

	prev := res.Previous
	// Observers (no user id) are never announced.
	if prev.Joined() && prev.UserID != 0 && (prev.RoomID != roomID || prev.UserID != ev.UserID) {
		m.presence.AnnounceLeft(prev.RoomID, prev.UserID, connID)
	}
	if prev.UserID != 0 && prev.UserID != ev.UserID {
		m.presence.OnUserDisconnected(ctx, prev.UserID, res.PreviousUserSessions)
	}

	m.sendHistory(ctx, connID, roomID)

	if prev.UserID != ev.UserID {
		m.presence.OnUserConnected(ctx, ev.UserID, res.UserSessions)
	}

	if ev.UserID != 0 && (prev.RoomID != roomID || prev.UserID != ev.UserID) {
		m.presence.AnnounceJoined(roomID, ev.UserID, connID)
	}

	m.logger.Info().
		Str("conn_id", connID).
		Str("room_id", roomID).
		Int64("user_id", ev.UserID).
		Msg("joined room")
	return nil
}

func (m *Manager) sendHistory(ctx context.Context, connID, roomID string) {
	start := time.Now()
	history, err := m.store.GetRecentMessages(ctx, roomID, m.historyLimit)
	metrics.ObserveStore("get_recent_messages", start, err)
	if err != nil {
		perr := &chaterr.Error{
			Kind:    chaterr.KindPersistence,
			Op:      "message history",
			ConnID:  connID,
			RoomID:  roomID,
			Message: "failed to load message history",
			Err:     err,
		}
		m.logger.Error().Err(perr).Msg("history fetch failed")
		m.rooms.sendError(connID, perr)
		return
	}

	history = orderHistory(history, m.historyLimit)
	if err := m.rooms.SendTo(connID, EventMessageHistory, history); err != nil {
		m.logger.Warn().Err(err).Str("conn_id", connID).Msg("history not delivered")
	}
}

// orderHistory returns the newest limit messages sorted oldest first.
func orderHistory(history []models.Message, limit int) []models.Message {
	out := make([]models.Message, len(history))
	copy(out, history)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// OnSendMessage relays a chat message from a joined connection.
func (m *Manager) OnSendMessage(ctx context.Context, connID string, ev SendMessage) error {
	sess, err := m.joinedSession("send message", connID, ev.RoomID)
	if err != nil {
		metrics.MessagesRejected.WithLabelValues("not_joined").Inc()
		m.rooms.sendError(connID, err)
		return err
	}

	if ev.UserID == 0 {
		ev.UserID = sess.UserID
	}
	if sess.UserID != 0 && ev.UserID != sess.UserID {
		err := chaterr.Authorization("send message", "cannot send as another user").WithConn(connID, sess.RoomID)
		metrics.MessagesRejected.WithLabelValues("authorization").Inc()
		m.rooms.sendError(connID, err)
		return err
	}
	ev.RoomID = sess.RoomID

	_, err = m.relay.HandleIncoming(ctx, connID, ev)
	return err
}

// OnTyping relays a typing indicator from a joined connection.
func (m *Manager) OnTyping(connID string, ev Typing) error {
	sess, err := m.joinedSession("typing", connID, ev.RoomID)
	if err != nil {
		m.rooms.sendError(connID, err)
		return err
	}
	ev.RoomID = sess.RoomID
	m.typing.HandleTyping(connID, ev)
	return nil
}

// joinedSession returns the session of connID when it is inside roomID (or
// any room when roomID is empty).
func (m *Manager) joinedSession(op, connID, roomID string) (Session, error) {
	sess, err := m.registry.Lookup(connID)
	if err != nil {
		return Session{}, err
	}
	if !sess.Joined() {
		return Session{}, chaterr.Validation(op, "join a room first").WithConn(connID, roomID)
	}
	if roomID != "" && roomID != sess.RoomID {
		return Session{}, chaterr.Validation(op, "not a member of that room").WithConn(connID, roomID)
	}
	return sess, nil
}

// OnDisconnect tears connID down. Every step is attempted even when earlier
// ones fail; the returned error only reports what could not be found.
func (m *Manager) OnDisconnect(ctx context.Context, connID, reason string) error {
	// Storage writes must outlive the request that carried the connection.
	ctx = context.WithoutCancel(ctx)

	m.membership.Lock()
	sess, remaining, removeErr := m.registry.Remove(connID)
	if sess.Joined() {
		m.rooms.Leave(sess.RoomID, connID)
	}
	m.rooms.Detach(connID)
	m.membership.Unlock()

	if removeErr != nil {
		m.logger.Debug().Err(removeErr).Str("conn_id", connID).Msg("disconnect of unknown connection")
		return removeErr
	}
	metrics.ActiveConnections.Dec()

	if sess.UserID != 0 {
		m.presence.OnUserDisconnected(ctx, sess.UserID, remaining)
	}
	if sess.Joined() && sess.UserID != 0 {
		m.presence.AnnounceLeft(sess.RoomID, sess.UserID, connID)
	}

	m.logger.Info().
		Str("conn_id", connID).
		Str("room_id", sess.RoomID).
		Int64("user_id", sess.UserID).
		Str("reason", reason).
		Msg("connection closed")
	return nil
}
