// Package chaterr defines the typed error kinds shared by the relay core, the
// storage layer and the HTTP surface.
//
// Every error carries enough context (operation, connection, room and the
// underlying cause) to be logged on the server and turned into a safe reply for
// the single client that caused it.
package chaterr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// KindValidation marks malformed or missing input the client can correct.
	KindValidation Kind = "VALIDATION"
	// KindUnknownConnection marks an operation on a connection that was never registered.
	KindUnknownConnection Kind = "UNKNOWN_CONNECTION"
	// KindNotFound marks a lookup of something that does not exist.
	KindNotFound Kind = "NOT_FOUND"
	// KindPersistence marks a failure of the storage collaborator.
	KindPersistence Kind = "PERSISTENCE"
	// KindAuthorization marks an actor acting on a resource it does not own.
	KindAuthorization Kind = "AUTHORIZATION"
	// KindConflict marks a uniqueness violation such as a taken username.
	KindConflict Kind = "CONFLICT"
)

// HTTPStatus maps the kind to a response status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound, KindUnknownConnection:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is the concrete error type for every kind.
type Error struct {
	Kind    Kind
	Op      string
	ConnID  string
	RoomID  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(strings.ToLower(string(e.Kind)))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.ConnID != "" {
		fmt.Fprintf(&b, " conn=%s", e.ConnID)
	}
	if e.RoomID != "" {
		fmt.Fprintf(&b, " room=%s", e.RoomID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClientMessage returns the text that may be shown to the originating client.
// Causes are never included.
func (e *Error) ClientMessage() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Kind {
	case KindPersistence:
		return "storage unavailable"
	case KindAuthorization:
		return "not authorized"
	case KindNotFound, KindUnknownConnection:
		return "not found"
	default:
		return "invalid request"
	}
}

// WithConn returns a copy of e annotated with connection and room ids.
func (e *Error) WithConn(connID, roomID string) *Error {
	cp := *e
	if cp.ConnID == "" {
		cp.ConnID = connID
	}
	if cp.RoomID == "" {
		cp.RoomID = roomID
	}
	return &cp
}

// Validation builds a KindValidation error.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

// UnknownConnection builds a KindUnknownConnection error.
func UnknownConnection(op, connID string) *Error {
	return &Error{Kind: KindUnknownConnection, Op: op, ConnID: connID, Message: "connection is not registered"}
}

// NotFound builds a KindNotFound error.
func NotFound(op, msg string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: msg}
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// Authorization builds a KindAuthorization error.
func Authorization(op, msg string) *Error {
	return &Error{Kind: KindAuthorization, Op: op, Message: msg}
}

// Conflict builds a KindConflict error.
func Conflict(op, msg string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: msg, Err: err}
}

// KindOf reports the kind of err. Errors that are not *Error are treated as
// persistence failures since they can only come from collaborators.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// IsKind reports whether err, or any error it wraps, is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// ClientMessage extracts the client-safe text of err.
func ClientMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.ClientMessage()
	}
	return "internal error"
}
