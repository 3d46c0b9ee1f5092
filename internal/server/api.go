package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
	"github.com/Kritesh10/real-time-chat-app/internal/store"
	"github.com/Kritesh10/real-time-chat-app/internal/users"
)

// maxRequestBody caps JSON request bodies on the API.
const maxRequestBody = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type messagesResponse struct {
	RoomID   string           `json:"roomId"`
	Messages []models.Message `json:"messages"`
}

type usersResponse struct {
	Users []models.User `json:"users"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("error writing JSON response")
	}
}

// writeError maps err to its status code. Only the client-safe message is
// written; the full error is logged for server-side failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := chaterr.KindOf(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	s.writeJSON(w, status, errorResponse{Error: chaterr.ClientMessage(err), Code: string(kind)})
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, chaterr.Validation("parse limit", "limit must be a positive integer")
	}
	return store.ClampLimit(n, def), nil
}

func parseID(raw, op, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, chaterr.Validation(op, name+" must be a positive integer")
	}
	return id, nil
}

// recentMessagesHandler serves GET /api/rooms/{roomId}/messages.
func (s *Server) recentMessagesHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	limit, err := parseLimit(r, store.DefaultRecentLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	msgs, err := s.store.GetRecentMessages(r.Context(), roomID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messagesResponse{RoomID: roomID, Messages: nonNil(msgs)})
}

// searchMessagesHandler serves GET /api/rooms/{roomId}/messages/search.
func (s *Server) searchMessagesHandler(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, r, chaterr.Validation("search messages", "query parameter q is required"))
		return
	}
	limit, err := parseLimit(r, store.DefaultSearchLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	msgs, err := s.store.SearchMessages(r.Context(), roomID, query, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messagesResponse{RoomID: roomID, Messages: nonNil(msgs)})
}

// deleteMessageHandler serves DELETE /api/rooms/{roomId}/messages/{messageId}.
// The acting user is named by the X-User-ID header. A message of another room
// is not found.
func (s *Server) deleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	messageID, err := parseID(vars["messageId"], "delete message", "messageId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := parseID(r.Header.Get("X-User-ID"), "delete message", "X-User-ID header")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.DeleteMessage(r.Context(), vars["roomId"], messageID, userID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// roomUsersHandler serves GET /api/rooms/{roomId}/users.
func (s *Server) roomUsersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.RoomUsers(r.Context(), mux.Vars(r)["roomId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, usersResponse{Users: nonNil(list)})
}

// onlineUsersHandler serves GET /api/users/online.
func (s *Server) onlineUsersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.OnlineUsers(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, usersResponse{Users: nonNil(list)})
}

// userPresenceHandler serves GET /api/users/{userId}/presence.
func (s *Server) userPresenceHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(mux.Vars(r)["userId"], "user presence", "userId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	state, err := store.UserPresence(r.Context(), s.store, userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginHandler serves POST /api/users/login. It checks the credentials and
// returns the user whose id a client then sends in join_room.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, chaterr.Validation("login", "invalid JSON body"))
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// createUserHandler serves POST /api/users.
func (s *Server) createUserHandler(w http.ResponseWriter, r *http.Request) {
	var reg users.Registration
	if err := decodeJSON(w, r, &reg); err != nil {
		s.writeError(w, r, chaterr.Validation("create user", "invalid JSON body"))
		return
	}

	user, err := s.users.CreateUser(r.Context(), reg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
