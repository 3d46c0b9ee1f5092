package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kritesh10/real-time-chat-app/internal/models"
	"github.com/Kritesh10/real-time-chat-app/internal/relay"
	"github.com/Kritesh10/real-time-chat-app/internal/store"
	"github.com/Kritesh10/real-time-chat-app/internal/users"
)

const (
	testOrigin  = "http://localhost:8080"
	readTimeout = 2 * time.Second
)

type testEnv struct {
	srv   *Server
	ts    *httptest.Server
	store *store.Memory
	wsURL string
}

func newTestServer(t *testing.T, customize func(cfg *Config)) *testEnv {
	t.Helper()

	cfg := NewConfig()
	if customize != nil {
		customize(cfg)
	}

	st := store.NewMemory()
	svc := users.NewService(st, users.WithBcryptCost(bcrypt.MinCost))
	srv := New(cfg, st, zerolog.Nop(), WithUsers(svc))
	srv.StartHub()

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		_ = srv.Hub().Shutdown(time.Second)
		ts.Close()
	})

	return &testEnv{
		srv:   srv,
		ts:    ts,
		store: st,
		wsURL: "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (e *testEnv) createUser(t *testing.T, username string) models.User {
	t.Helper()
	u, err := e.store.CreateUser(context.Background(), models.NewUser{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
	})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return u
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(e.wsURL, newOriginHeader(testOrigin))
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := relay.EncodeFrame(event, data)
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	var env relay.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	return env
}

func expectEvent(t *testing.T, conn *websocket.Conn, event string) relay.Envelope {
	t.Helper()
	env := readEvent(t, conn)
	if env.Event != event {
		t.Fatalf("Expected event %q, got %q with data %s", event, env.Event, env.Data)
	}
	return env
}

func decodeData[T any](t *testing.T, env relay.Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", env.Event, err)
	}
	return v
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no message, but received %s", data)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}

// joinRoom joins roomID as userID and consumes the history reply.
func joinRoom(t *testing.T, conn *websocket.Conn, userID int64, roomID string) []models.Message {
	t.Helper()
	sendEvent(t, conn, relay.EventJoinRoom, relay.JoinRoom{UserID: userID, RoomID: roomID})
	env := expectEvent(t, conn, relay.EventMessageHistory)
	return decodeData[[]models.Message](t, env)
}

// waitFor polls cond until it holds or the read timeout elapses.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func doRequest(t *testing.T, method, url string, body string, header http.Header) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func assertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response body: %v", err)
	}
	return v
}
