package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

func (e *testEnv) seedMessage(t *testing.T, userID int64, roomID, body string) models.Message {
	t.Helper()
	msg, err := e.store.CreateMessage(context.Background(), models.NewMessage{
		UserID: userID,
		RoomID: roomID,
		Body:   body,
	})
	if err != nil {
		t.Fatalf("Failed to seed message: %v", err)
	}
	return msg
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestServer(t, nil)

	for _, path := range []string{"/", "/health"} {
		resp := doRequest(t, http.MethodGet, env.ts.URL+path, "", nil)
		assertStatusCode(t, resp, http.StatusOK)
		if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected content type application/json, got %s", ct)
		}
		body := decodeBody[healthResponse](t, resp)
		if body.Status != "ok" || body.Store != "ok" {
			t.Errorf("Unexpected health body: %+v", body)
		}
	}
}

func TestTestPageEndpoint(t *testing.T) {
	env := newTestServer(t, nil)

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/test", "", nil)
	assertStatusCode(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
		t.Errorf("Expected content type text/html, got %s", ct)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t, nil)

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/metrics", "", nil)
	assertStatusCode(t, resp, http.StatusOK)
}

func TestRecentMessagesEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.createUser(t, "alice")
	for i := 1; i <= 3; i++ {
		env.seedMessage(t, alice.ID, "general", fmt.Sprintf("message %d", i))
	}
	env.seedMessage(t, alice.ID, "other", "elsewhere")

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/api/rooms/general/messages?limit=2", "", nil)
	assertStatusCode(t, resp, http.StatusOK)
	body := decodeBody[messagesResponse](t, resp)
	if body.RoomID != "general" {
		t.Errorf("Expected room general, got %q", body.RoomID)
	}
	if len(body.Messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(body.Messages))
	}
	if body.Messages[0].Body != "message 2" || body.Messages[1].Body != "message 3" {
		t.Errorf("Expected the newest two oldest first, got %q and %q", body.Messages[0].Body, body.Messages[1].Body)
	}
	if body.Messages[0].Author.Username != "alice" {
		t.Errorf("Expected author alice, got %q", body.Messages[0].Author.Username)
	}

	for _, bad := range []string{"0", "-3", "many"} {
		resp := doRequest(t, http.MethodGet, env.ts.URL+"/api/rooms/general/messages?limit="+bad, "", nil)
		assertStatusCode(t, resp, http.StatusBadRequest)
	}

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/api/rooms/empty/messages", "", nil)
	assertStatusCode(t, resp, http.StatusOK)
	if body := decodeBody[messagesResponse](t, resp); body.Messages == nil || len(body.Messages) != 0 {
		t.Errorf("Expected an empty message list, got %+v", body.Messages)
	}
}

func TestSearchMessagesEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.createUser(t, "alice")
	env.seedMessage(t, alice.ID, "general", "Go is fun")
	env.seedMessage(t, alice.ID, "general", "lunch?")
	env.seedMessage(t, alice.ID, "general", "more GO please")

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/api/rooms/general/messages/search?q=go", "", nil)
	assertStatusCode(t, resp, http.StatusOK)
	body := decodeBody[messagesResponse](t, resp)
	if len(body.Messages) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(body.Messages))
	}
	if body.Messages[0].Body != "more GO please" {
		t.Errorf("Expected newest match first, got %q", body.Messages[0].Body)
	}

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/api/rooms/general/messages/search", "", nil)
	assertStatusCode(t, resp, http.StatusBadRequest)
	errBody := decodeBody[errorResponse](t, resp)
	if errBody.Code != string(chaterr.KindValidation) {
		t.Errorf("Expected validation code, got %q", errBody.Code)
	}
}

func TestDeleteMessageEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.createUser(t, "alice")
	bob := env.createUser(t, "bob")
	msg := env.seedMessage(t, alice.ID, "general", "oops")
	url := fmt.Sprintf("%s/api/rooms/general/messages/%d", env.ts.URL, msg.ID)
	otherRoom := fmt.Sprintf("%s/api/rooms/random/messages/%d", env.ts.URL, msg.ID)

	tests := []struct {
		name   string
		url    string
		userID string
		status int
	}{
		{name: "missing header", url: url, userID: "", status: http.StatusBadRequest},
		{name: "malformed header", url: url, userID: "alice", status: http.StatusBadRequest},
		{name: "not the author", url: url, userID: fmt.Sprint(bob.ID), status: http.StatusForbidden},
		{name: "wrong room", url: otherRoom, userID: fmt.Sprint(alice.ID), status: http.StatusNotFound},
		{name: "author", url: url, userID: fmt.Sprint(alice.ID), status: http.StatusNoContent},
		{name: "already deleted", url: url, userID: fmt.Sprint(alice.ID), status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.userID != "" {
				header.Set("X-User-ID", tt.userID)
			}
			resp := doRequest(t, http.MethodDelete, tt.url, "", header)
			assertStatusCode(t, resp, tt.status)
		})
	}
}

func TestRoomUsersEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	bob := env.createUser(t, "bob")
	alice := env.createUser(t, "alice")
	carol := env.createUser(t, "carol")
	env.seedMessage(t, bob.ID, "general", "hi")
	env.seedMessage(t, alice.ID, "general", "hey")
	env.seedMessage(t, bob.ID, "general", "again")
	env.seedMessage(t, carol.ID, "other", "elsewhere")

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/api/rooms/general/users", "", nil)
	assertStatusCode(t, resp, http.StatusOK)
	body := decodeBody[usersResponse](t, resp)
	if len(body.Users) != 2 {
		t.Fatalf("Expected 2 users, got %d", len(body.Users))
	}
	if body.Users[0].Username != "alice" || body.Users[1].Username != "bob" {
		t.Errorf("Expected [alice bob], got [%s %s]", body.Users[0].Username, body.Users[1].Username)
	}
}

func TestOnlineUsersEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.createUser(t, "alice")
	env.createUser(t, "bob")

	conn := env.dial(t)
	joinRoom(t, conn, alice.ID, "general")
	waitFor(t, "alice to come online", func() bool {
		u, err := env.store.GetUserByID(context.Background(), alice.ID)
		return err == nil && u.IsOnline
	})

	resp := doRequest(t, http.MethodGet, env.ts.URL+"/api/users/online", "", nil)
	assertStatusCode(t, resp, http.StatusOK)
	body := decodeBody[usersResponse](t, resp)
	if len(body.Users) != 1 || body.Users[0].ID != alice.ID {
		t.Fatalf("Expected only alice online, got %+v", body.Users)
	}
}

func TestCreateUserEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	url := env.ts.URL + "/api/users"

	resp := doRequest(t, http.MethodPost, url, `{"username":"alice","email":"alice@example.com","password":"secret123"}`, nil)
	assertStatusCode(t, resp, http.StatusCreated)

	raw := decodeBody[map[string]any](t, resp)
	if raw["username"] != "alice" {
		t.Errorf("Expected username alice, got %v", raw["username"])
	}
	for key := range raw {
		if strings.Contains(strings.ToLower(key), "password") {
			t.Errorf("Response leaked %q", key)
		}
	}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "duplicate username", body: `{"username":"ALICE","email":"other@example.com","password":"secret123"}`, status: http.StatusConflict},
		{name: "short username", body: `{"username":"al","email":"al@example.com","password":"secret123"}`, status: http.StatusBadRequest},
		{name: "bad email", body: `{"username":"bobby","email":"not-an-email","password":"secret123"}`, status: http.StatusBadRequest},
		{name: "short password", body: `{"username":"bobby","email":"bobby@example.com","password":"123"}`, status: http.StatusBadRequest},
		{name: "malformed JSON", body: `{"username":`, status: http.StatusBadRequest},
		{name: "unknown field", body: `{"username":"bobby","admin":true}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, url, tt.body, nil)
			assertStatusCode(t, resp, tt.status)
		})
	}
}

func TestUserPresenceEndpoint(t *testing.T) {
	env := newTestServer(t, nil)
	alice := env.createUser(t, "alice")
	url := fmt.Sprintf("%s/api/users/%d/presence", env.ts.URL, alice.ID)

	resp := doRequest(t, http.MethodGet, url, "", nil)
	assertStatusCode(t, resp, http.StatusOK)
	if state := decodeBody[models.Presence](t, resp); state.UserID != alice.ID || state.IsOnline {
		t.Errorf("Expected alice offline, got %+v", state)
	}

	conn := env.dial(t)
	joinRoom(t, conn, alice.ID, "general")
	waitFor(t, "alice to come online", func() bool {
		u, err := env.store.GetUserByID(context.Background(), alice.ID)
		return err == nil && u.IsOnline
	})

	resp = doRequest(t, http.MethodGet, url, "", nil)
	assertStatusCode(t, resp, http.StatusOK)
	if state := decodeBody[models.Presence](t, resp); !state.IsOnline || state.LastSeenAt != nil {
		t.Errorf("Expected alice online, got %+v", state)
	}

	resp = doRequest(t, http.MethodGet, env.ts.URL+"/api/users/9999/presence", "", nil)
	assertStatusCode(t, resp, http.StatusNotFound)
}

func TestLoginEndpoint(t *testing.T) {
	env := newTestServer(t, nil)

	resp := doRequest(t, http.MethodPost, env.ts.URL+"/api/users",
		`{"username":"alice","email":"alice@example.com","password":"secret123"}`, nil)
	assertStatusCode(t, resp, http.StatusCreated)
	created := decodeBody[models.User](t, resp)

	resp = doRequest(t, http.MethodPost, env.ts.URL+"/api/users/login", `{"username":"Alice","password":"secret123"}`, nil)
	assertStatusCode(t, resp, http.StatusOK)
	if user := decodeBody[models.User](t, resp); user.ID != created.ID {
		t.Errorf("Expected user %d, got %d", created.ID, user.ID)
	}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{name: "wrong password", body: `{"username":"alice","password":"nope12345"}`, status: http.StatusForbidden},
		{name: "unknown user", body: `{"username":"nobody","password":"secret123"}`, status: http.StatusForbidden},
		{name: "malformed JSON", body: `{"username":`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, env.ts.URL+"/api/users/login", tt.body, nil)
			assertStatusCode(t, resp, tt.status)
		})
	}
}
