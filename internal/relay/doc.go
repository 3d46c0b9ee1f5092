// Package relay is the real-time core of the chat server.
//
// It tracks live connections (ConnectionRegistry), room membership and fan-out
// (RoomBroadcaster), aggregate user presence (PresenceTracker), ephemeral
// typing signals (TypingNotifier) and durable chat messages (MessageRelay).
// The Manager wires them together and is the only entry point the transport
// layer talks to: it receives one closed set of inbound events per connection
// and applies them in arrival order.
//
// The package never touches the network. Each connection is represented by a
// Sender supplied at connect time, and storage is reached through the Store
// interface.
package relay
