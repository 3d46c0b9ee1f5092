package relay

// TypingNotifier forwards typing indicators to the other members of a room.
// Nothing is stored and nothing is retried.
type TypingNotifier struct {
	rooms *RoomBroadcaster
}

// NewTypingNotifier returns a notifier broadcasting through rooms.
func NewTypingNotifier(rooms *RoomBroadcaster) *TypingNotifier {
	return &TypingNotifier{rooms: rooms}
}

// HandleTyping relays ev to everyone in ev.RoomID except connID.
func (n *TypingNotifier) HandleTyping(connID string, ev Typing) {
	n.rooms.Broadcast(ev.RoomID, EventUserTyping, TypingNotice{
		Username: ev.Username,
		IsTyping: ev.IsTyping,
	}, connID)
}
