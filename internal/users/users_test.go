package users

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/store"
)

func newTestService() (*Service, *store.Memory) {
	mem := store.NewMemory()
	return NewService(mem, WithBcryptCost(bcrypt.MinCost)), mem
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc, mem := newTestService()
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, Registration{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.NotEqual(t, "secret1", u.PasswordHash)

	stored, err := mem.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("secret1")))
}

func TestCreateUserDefaultCost(t *testing.T) {
	svc := NewService(store.NewMemory())
	assert.Equal(t, DefaultBcryptCost, svc.cost)

	svc = NewService(store.NewMemory(), WithBcryptCost(100))
	assert.Equal(t, DefaultBcryptCost, svc.cost)
}

func TestCreateUserConflict(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, Registration{Username: "bob", Email: "bob@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, Registration{Username: "bob", Email: "bob2@example.com", Password: "secret1"})
	assert.True(t, chaterr.IsKind(err, chaterr.KindConflict))
}

func TestCreateUserValidation(t *testing.T) {
	tests := []struct {
		name string
		reg  Registration
	}{
		{"short username", Registration{Username: "ab", Email: "a@example.com", Password: "secret1"}},
		{"symbols in username", Registration{Username: "bob!", Email: "a@example.com", Password: "secret1"}},
		{"long username", Registration{Username: strings.Repeat("a", 51), Email: "a@example.com", Password: "secret1"}},
		{"missing email", Registration{Username: "carol", Password: "secret1"}},
		{"bad email", Registration{Username: "carol", Email: "not-an-email", Password: "secret1"}},
		{"named email", Registration{Username: "carol", Email: "Carol <c@example.com>", Password: "secret1"}},
		{"short password", Registration{Username: "carol", Email: "c@example.com", Password: "123"}},
		{"long password", Registration{Username: "carol", Email: "c@example.com", Password: strings.Repeat("p", 73)}},
		{"long avatar", Registration{Username: "carol", Email: "c@example.com", Password: "secret1", AvatarURL: strings.Repeat("u", 256)}},
	}

	svc, _ := newTestService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateUser(context.Background(), tt.reg)
			assert.True(t, chaterr.IsKind(err, chaterr.KindValidation), "got %v", err)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, Registration{Username: "dave", Email: "dave@example.com", Password: "hunter22"})
	require.NoError(t, err)

	u, err := svc.Authenticate(ctx, "dave", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)

	_, err = svc.Authenticate(ctx, "dave", "wrong")
	assert.True(t, chaterr.IsKind(err, chaterr.KindAuthorization))

	_, err = svc.Authenticate(ctx, "nobody", "hunter22")
	assert.True(t, chaterr.IsKind(err, chaterr.KindAuthorization))
}
