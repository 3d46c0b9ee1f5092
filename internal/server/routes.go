package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the router with every application route.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(recoverer(s.logger), requestLogger(s.logger.With().Str("component", "http").Logger()))

	r.HandleFunc("/", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.websocketHandler)
	r.HandleFunc("/test", s.testPageHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/rooms/{roomId}/messages", s.recentMessagesHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}/messages/search", s.searchMessagesHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}/messages/{messageId:[0-9]+}", s.deleteMessageHandler).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{roomId}/users", s.roomUsersHandler).Methods(http.MethodGet)
	api.HandleFunc("/users/online", s.onlineUsersHandler).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId:[0-9]+}/presence", s.userPresenceHandler).Methods(http.MethodGet)
	api.HandleFunc("/users/login", s.loginHandler).Methods(http.MethodPost)
	api.HandleFunc("/users", s.createUserHandler).Methods(http.MethodPost)

	return r
}
