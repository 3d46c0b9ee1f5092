// Package models holds the records exchanged between the relay core, the
// storage layer and the HTTP surface.
package models

import "time"

// DefaultRoomID is used when a client does not name a room.
const DefaultRoomID = "general"

// MessageType classifies the body of a chat message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// Author is the public summary of the user who wrote a message.
type Author struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Message is a chat message as returned by storage after a successful write.
// It is never mutated once created.
type Message struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"userId"`
	RoomID      string      `json:"roomId"`
	Body        string      `json:"message"`
	MessageType MessageType `json:"messageType"`
	FileURL     string      `json:"fileUrl,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	Author      Author      `json:"user"`
}

// NewMessage is the input of a message write.
type NewMessage struct {
	UserID      int64
	RoomID      string
	Body        string
	MessageType MessageType
	FileURL     string
}
