package relay

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
)

func TestBroadcasterJoinLeave(t *testing.T) {
	b := NewRoomBroadcaster(nopLogger())

	b.Join("general", "a")
	b.Join("general", "b")
	b.Join("random", "c")
	assert.Equal(t, []string{"a", "b"}, b.Members("general"))

	b.Leave("general", "a")
	b.Leave("general", "a")
	b.Leave("nowhere", "a")
	assert.Equal(t, []string{"b"}, b.Members("general"))

	// Empty rooms are kept.
	b.Leave("random", "c")
	assert.Empty(t, b.Members("random"))
	assert.Equal(t, 2, b.RoomCount())
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := NewRoomBroadcaster(nopLogger())
	a, c, outsider := &fakeSender{}, &fakeSender{}, &fakeSender{}
	b.Attach("a", a)
	b.Attach("c", c)
	b.Attach("x", outsider)
	b.Join("general", "a")
	b.Join("general", "c")
	b.Join("random", "x")

	delivered := b.Broadcast("general", EventUserTyping, TypingNotice{Username: "ann", IsTyping: true}, "a")

	assert.Equal(t, 1, delivered)
	assert.Empty(t, a.events())
	assert.Empty(t, outsider.events())
	require.Len(t, c.byEvent(EventUserTyping), 1)
	notice := decode[TypingNotice](c.byEvent(EventUserTyping)[0])
	assert.Equal(t, "ann", notice.Username)
	assert.True(t, notice.IsTyping)
}

func TestBroadcastContinuesPastFailedRecipient(t *testing.T) {
	b := NewRoomBroadcaster(nopLogger())
	broken := &fakeSender{fail: errors.New("buffer full")}
	ok1, ok2 := &fakeSender{}, &fakeSender{}
	for id, s := range map[string]*fakeSender{"broken": broken, "ok1": ok1, "ok2": ok2} {
		b.Attach(id, s)
		b.Join("general", id)
	}

	delivered := b.Broadcast("general", EventUserJoined, PresenceNotice{UserID: 3}, "")

	assert.Equal(t, 2, delivered)
	assert.Len(t, ok1.byEvent(EventUserJoined), 1)
	assert.Len(t, ok2.byEvent(EventUserJoined), 1)
}

func TestSendToUnknownConnection(t *testing.T) {
	b := NewRoomBroadcaster(nopLogger())

	err := b.SendTo("ghost", EventError, ErrorPayload{Message: "x"})
	assert.True(t, chaterr.IsKind(err, chaterr.KindUnknownConnection))
}

func TestSendToDeliversOnlyToTarget(t *testing.T) {
	b := NewRoomBroadcaster(nopLogger())
	a, c := &fakeSender{}, &fakeSender{}
	b.Attach("a", a)
	b.Attach("c", c)
	b.Join("general", "a")
	b.Join("general", "c")

	require.NoError(t, b.SendTo("a", EventError, ErrorPayload{Message: "nope"}))

	require.Len(t, a.byEvent(EventError), 1)
	assert.Equal(t, "nope", decode[ErrorPayload](a.byEvent(EventError)[0]).Message)
	assert.Empty(t, c.events())
}

func TestBroadcasterConcurrentMembership(t *testing.T) {
	b := NewRoomBroadcaster(nopLogger())
	const n = 100

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%d", i)
		b.Attach(id, &fakeSender{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Join("general", id)
		}()
		go func() {
			defer wg.Done()
			b.Broadcast("general", EventUserTyping, TypingNotice{}, "")
		}()
	}
	wg.Wait()

	for i := 0; i < n; i += 2 {
		b.Leave("general", fmt.Sprintf("c%d", i))
	}
	assert.Len(t, b.Members("general"), n/2)
}
