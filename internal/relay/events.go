package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

// Event names on the wire.
const (
	EventJoinRoom    = "join_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"

	EventMessageHistory = "message_history"
	EventUserJoined     = "user_joined"
	EventNewMessage     = "new_message"
	EventUserTyping     = "user_typing"
	EventUserLeft       = "user_left"
	EventError          = "error"
)

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is one of JoinRoom, SendMessage, Typing or Disconnect. The set is
// closed: only this package can add variants.
type Inbound interface {
	inbound()
}

// JoinRoom asks to place the connection in a room.
type JoinRoom struct {
	RoomID string `json:"roomId"`
	UserID int64  `json:"userId"`
}

// SendMessage carries a chat message to persist and broadcast.
type SendMessage struct {
	Body        string             `json:"message"`
	UserID      int64              `json:"userId"`
	RoomID      string             `json:"roomId"`
	MessageType models.MessageType `json:"messageType,omitempty"`
	FileURL     string             `json:"fileUrl,omitempty"`
}

// Typing is an ephemeral typing indicator.
type Typing struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Disconnect is produced by the transport when the connection goes away.
type Disconnect struct {
	Reason string
}

func (JoinRoom) inbound()    {}
func (SendMessage) inbound() {}
func (Typing) inbound()      {}
func (Disconnect) inbound()  {}

// DecodeInbound parses a raw frame into its inbound variant. Unknown event
// names and malformed payloads are validation errors.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, chaterr.Validation("decode frame", "invalid frame payload")
	}

	var (
		ev  Inbound
		err error
	)
	switch env.Event {
	case EventJoinRoom:
		var p JoinRoom
		err = decodeData(env.Data, &p)
		ev = p
	case EventSendMessage:
		var p SendMessage
		err = decodeData(env.Data, &p)
		ev = p
	case EventTyping:
		var p Typing
		err = decodeData(env.Data, &p)
		ev = p
	default:
		return nil, chaterr.Validation("decode frame", fmt.Sprintf("unsupported event %q", env.Event))
	}
	if err != nil {
		return nil, chaterr.Validation("decode frame", fmt.Sprintf("invalid %s payload", env.Event))
	}
	return ev, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// EncodeFrame marshals an outbound event into a frame.
func EncodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// PresenceNotice is the payload of user_joined and user_left.
type PresenceNotice struct {
	Message   string    `json:"message"`
	UserID    int64     `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessagePayload is the payload of new_message.
type NewMessagePayload struct {
	ID          int64              `json:"id"`
	Message     string             `json:"message"`
	MessageType models.MessageType `json:"messageType"`
	FileURL     string             `json:"fileUrl,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	User        models.Author      `json:"user"`
}

func newMessagePayload(msg models.Message) NewMessagePayload {
	return NewMessagePayload{
		ID:          msg.ID,
		Message:     msg.Body,
		MessageType: msg.MessageType,
		FileURL:     msg.FileURL,
		CreatedAt:   msg.CreatedAt,
		User:        msg.Author,
	}
}

// TypingNotice is the payload of user_typing.
type TypingNotice struct {
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// ErrorPayload is the payload of error.
type ErrorPayload struct {
	Message string `json:"message"`
}
