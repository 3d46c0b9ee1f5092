package relay

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/metrics"
)

// Sender delivers encoded frames to one connection. Deliver must not block on
// a slow peer.
type Sender interface {
	Deliver(frame []byte) error
}

// RoomBroadcaster tracks room membership and fans events out to members.
// Rooms are created on first join and kept, possibly empty, afterwards.
type RoomBroadcaster struct {
	mu      sync.RWMutex
	rooms   map[string]map[string]struct{}
	senders map[string]Sender
	logger  zerolog.Logger
}

// NewRoomBroadcaster returns a broadcaster with no rooms.
func NewRoomBroadcaster(logger zerolog.Logger) *RoomBroadcaster {
	return &RoomBroadcaster{
		rooms:   make(map[string]map[string]struct{}),
		senders: make(map[string]Sender),
		logger:  logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Attach binds the sender used to reach connID.
func (b *RoomBroadcaster) Attach(connID string, s Sender) {
	b.mu.Lock()
	b.senders[connID] = s
	b.mu.Unlock()
}

// Detach forgets the sender of connID.
func (b *RoomBroadcaster) Detach(connID string) {
	b.mu.Lock()
	delete(b.senders, connID)
	b.mu.Unlock()
}

// Join adds connID to roomID, creating the room if needed.
func (b *RoomBroadcaster) Join(roomID, connID string) {
	b.mu.Lock()
	members, ok := b.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		b.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	roomCount := len(b.rooms)
	b.mu.Unlock()

	metrics.Rooms.Set(float64(roomCount))
}

// Leave removes connID from roomID. Leaving a room one is not in is a no-op.
func (b *RoomBroadcaster) Leave(roomID, connID string) {
	b.mu.Lock()
	if members, ok := b.rooms[roomID]; ok {
		delete(members, connID)
	}
	b.mu.Unlock()
}

// Members returns the sorted connection ids of roomID.
func (b *RoomBroadcaster) Members(roomID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	members := make([]string, 0, len(b.rooms[roomID]))
	for connID := range b.rooms[roomID] {
		members = append(members, connID)
	}
	sort.Strings(members)
	return members
}

// RoomCount returns the number of rooms ever joined.
func (b *RoomBroadcaster) RoomCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms)
}

type recipient struct {
	connID string
	sender Sender
}

// snapshot returns the senders of roomID's members, skipping exclude.
func (b *RoomBroadcaster) snapshot(roomID, exclude string) []recipient {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]recipient, 0, len(b.rooms[roomID]))
	for connID := range b.rooms[roomID] {
		if connID == exclude {
			continue
		}
		if s, ok := b.senders[connID]; ok {
			out = append(out, recipient{connID: connID, sender: s})
		}
	}
	return out
}

// Broadcast delivers event to every member of roomID except exclude (pass ""
// to include everyone) and returns the number of successful deliveries.
// Individual failures are logged and do not stop the fan-out.
func (b *RoomBroadcaster) Broadcast(roomID, event string, payload any, exclude string) int {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		b.logger.Error().Err(err).Str("room_id", roomID).Str("event", event).Msg("dropping broadcast")
		return 0
	}

	delivered := 0
	for _, r := range b.snapshot(roomID, exclude) {
		if err := r.sender.Deliver(frame); err != nil {
			metrics.DeliveryFailures.Inc()
			b.logger.Warn().Err(err).
				Str("room_id", roomID).
				Str("conn_id", r.connID).
				Str("event", event).
				Msg("delivery failed")
			continue
		}
		delivered++
	}

	b.logger.Debug().Str("room_id", roomID).Str("event", event).Int("delivered", delivered).Msg("broadcast")
	return delivered
}

// SendTo delivers event to exactly one connection.
func (b *RoomBroadcaster) SendTo(connID, event string, payload any) error {
	b.mu.RLock()
	s, ok := b.senders[connID]
	b.mu.RUnlock()
	if !ok {
		return chaterr.UnknownConnection("send", connID)
	}

	frame, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	if err := s.Deliver(frame); err != nil {
		metrics.DeliveryFailures.Inc()
		return err
	}
	return nil
}

// sendError replies err to connID only.
func (b *RoomBroadcaster) sendError(connID string, err error) {
	if sendErr := b.SendTo(connID, EventError, ErrorPayload{Message: chaterr.ClientMessage(err)}); sendErr != nil {
		b.logger.Debug().Err(sendErr).Str("conn_id", connID).Msg("error reply not delivered")
	}
}
