package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/Kritesh10/real-time-chat-app/internal/chaterr"
	"github.com/Kritesh10/real-time-chat-app/internal/metrics"
	"github.com/Kritesh10/real-time-chat-app/internal/models"
)

const (
	maxMessageBodyRunes = 2000
	maxFileURLLength    = 255
	maxRoomIDLength     = 100
)

// MessageStore persists chat messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error)
}

// MessageRelay validates, persists and broadcasts chat messages. A message is
// broadcast only after it has been stored; a rejected or failed message is
// answered to its sender alone.
type MessageRelay struct {
	store  MessageStore
	rooms  *RoomBroadcaster
	logger zerolog.Logger
}

// NewMessageRelay returns a relay writing to store and fanning out via rooms.
func NewMessageRelay(store MessageStore, rooms *RoomBroadcaster, logger zerolog.Logger) *MessageRelay {
	return &MessageRelay{
		store:  store,
		rooms:  rooms,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// HandleIncoming runs one send_message from connID through validation,
// persistence and broadcast. The returned error has already been reported to
// the sender.
func (r *MessageRelay) HandleIncoming(ctx context.Context, connID string, in SendMessage) (models.Message, error) {
	msg, err := normalizeMessage(in)
	if err != nil {
		r.reject(connID, in.RoomID, "validation", err)
		return models.Message{}, err
	}

	start := time.Now()
	saved, err := r.store.CreateMessage(ctx, msg)
	metrics.ObserveStore("create_message", start, err)
	if err != nil {
		if !chaterr.IsKind(err, chaterr.KindValidation) {
			err = &chaterr.Error{
				Kind:    chaterr.KindPersistence,
				Op:      "create message",
				Message: "failed to send message",
				Err:     err,
			}
		}
		r.reject(connID, msg.RoomID, "persistence", err)
		return models.Message{}, err
	}

	delivered := r.rooms.Broadcast(saved.RoomID, EventNewMessage, newMessagePayload(saved), "")
	metrics.MessagesRelayed.WithLabelValues(string(saved.MessageType)).Inc()
	r.logger.Info().
		Str("conn_id", connID).
		Str("room_id", saved.RoomID).
		Int64("user_id", saved.UserID).
		Int64("message_id", saved.ID).
		Int("delivered", delivered).
		Msg("message relayed")
	return saved, nil
}

func (r *MessageRelay) reject(connID, roomID, reason string, err error) {
	metrics.MessagesRejected.WithLabelValues(reason).Inc()
	var ce *chaterr.Error
	if errors.As(err, &ce) {
		err = ce.WithConn(connID, roomID)
	}
	r.logger.Warn().Err(err).Str("conn_id", connID).Str("room_id", roomID).Msg("message rejected")
	r.rooms.sendError(connID, err)
}

// normalizeMessage applies defaults and the message model rules.
func normalizeMessage(in SendMessage) (models.NewMessage, error) {
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return models.NewMessage{}, chaterr.Validation("send message", "Missing message or user ID")
	}
	if in.UserID == 0 {
		return models.NewMessage{}, chaterr.Validation("send message", "Missing message or user ID")
	}
	if utf8.RuneCountInString(body) > maxMessageBodyRunes {
		return models.NewMessage{}, chaterr.Validation("send message", fmt.Sprintf("message must be at most %d characters", maxMessageBodyRunes))
	}

	roomID, err := normalizeRoomID(in.RoomID)
	if err != nil {
		return models.NewMessage{}, err
	}

	msgType := in.MessageType
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return models.NewMessage{}, chaterr.Validation("send message", fmt.Sprintf("unsupported message type %q", msgType))
	}

	fileURL := strings.TrimSpace(in.FileURL)
	if len(fileURL) > maxFileURLLength {
		return models.NewMessage{}, chaterr.Validation("send message", fmt.Sprintf("fileUrl must be at most %d characters", maxFileURLLength))
	}

	return models.NewMessage{
		UserID:      in.UserID,
		RoomID:      roomID,
		Body:        body,
		MessageType: msgType,
		FileURL:     fileURL,
	}, nil
}

func normalizeRoomID(roomID string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return models.DefaultRoomID, nil
	}
	if utf8.RuneCountInString(roomID) > maxRoomIDLength {
		return "", chaterr.Validation("room", fmt.Sprintf("roomId must be at most %d characters", maxRoomIDLength))
	}
	return roomID, nil
}
