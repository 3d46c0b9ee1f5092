package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []Envelope
	fail   error
}

func (s *fakeSender) Deliver(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return err
	}
	s.frames = append(s.frames, env)
	return nil
}

func (s *fakeSender) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.frames))
	for _, f := range s.frames {
		names = append(names, f.Event)
	}
	return names
}

func (s *fakeSender) byEvent(event string) []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Envelope
	for _, f := range s.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

func decode[T any](env Envelope) T {
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		panic(fmt.Sprintf("decode %s: %v", env.Event, err))
	}
	return v
}

type presenceCall struct {
	UserID int64
	Online bool
}

type fakeStore struct {
	mu            sync.Mutex
	nextID        int64
	messages      []models.Message
	createCalls   int
	historyCalls  int
	presenceCalls []presenceCall
	createErr     error
	historyErr    error
	presenceErr   error
	clock         time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *fakeStore) CreateMessage(_ context.Context, msg models.NewMessage) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return models.Message{}, s.createErr
	}
	s.nextID++
	s.clock = s.clock.Add(time.Second)
	saved := models.Message{
		ID:          s.nextID,
		UserID:      msg.UserID,
		RoomID:      msg.RoomID,
		Body:        msg.Body,
		MessageType: msg.MessageType,
		FileURL:     msg.FileURL,
		CreatedAt:   s.clock,
		Author:      models.Author{ID: msg.UserID, Username: fmt.Sprintf("user%d", msg.UserID)},
	}
	s.messages = append(s.messages, saved)
	return saved, nil
}

func (s *fakeStore) GetRecentMessages(_ context.Context, roomID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyCalls++
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	var out []models.Message
	for _, m := range s.messages {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) UpdatePresence(_ context.Context, userID int64, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presenceCalls = append(s.presenceCalls, presenceCall{UserID: userID, Online: online})
	return s.presenceErr
}

func (s *fakeStore) calls() (create int, presence []presenceCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls, append([]presenceCall(nil), s.presenceCalls...)
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}
