package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Kritesh10/real-time-chat-app/internal/relay"
)

const healthPingTimeout = 2 * time.Second

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status      string `json:"status"`
	Clients     int    `json:"clients"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
	Store       string `json:"store"`
}

// websocketHandler upgrades GET requests from allowed origins and hands the
// new client to the relay, then to the hub, which starts its pumps.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, s.manager, r.RemoteAddr, *s.cfg, s.logger)

	// The relay must know the connection before its first frame is read.
	if err := s.manager.OnConnect(client.ID(), client); err != nil {
		client.logger.Error().Err(err).Msg("connection rejected by relay")
		client.closeConn("internal error")
		return
	}

	if !s.hub.Register(client) {
		ctx := context.WithoutCancel(r.Context())
		_ = s.manager.Dispatch(ctx, client.ID(), relay.Disconnect{Reason: "server shutdown"})
		client.closeConn("server shutdown")
	}
}

// healthHandler reports liveness along with hub, relay and store state.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Clients:     s.hub.ClientCount(),
		Connections: s.manager.Registry().Len(),
		Rooms:       s.manager.Rooms().RoomCount(),
		Store:       "ok",
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("store ping failed")
		resp.Status = "degraded"
		resp.Store = "unavailable"
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, resp)
}

// testPageHandler serves an HTML page for exercising the chat protocol by hand.
func (s *Server) testPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		s.logger.Warn().Err(err).Msg("error writing HTML response")
	}
}

const testPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 10px; }
        #messageInput { width: 300px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
        .typing { color: #888; font-style: italic; height: 1.2em; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userInput" placeholder="User id">
        <input type="text" id="nameInput" placeholder="Display name">
        <input type="text" id="roomInput" placeholder="Room" value="general">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
        <button id="joinButton" onclick="joinRoom()" disabled>Join</button>
    </div>

    <div id="messages"></div>
    <div id="typing" class="typing"></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message..." disabled>
        <button id="sendButton" onclick="sendMessage()" disabled>Send</button>
    </div>

    <script>
        let ws = null;
        let typingTimer = null;
        const messagesDiv = document.getElementById('messages');
        const typingDiv = document.getElementById('typing');
        const userInput = document.getElementById('userInput');
        const nameInput = document.getElementById('nameInput');
        const roomInput = document.getElementById('roomInput');
        const messageInput = document.getElementById('messageInput');
        const sendButton = document.getElementById('sendButton');
        const joinButton = document.getElementById('joinButton');
        const connectButton = document.getElementById('connectButton');
        const statusDiv = document.getElementById('status');

        function addLine(text, color) {
            const line = document.createElement('div');
            line.style.margin = '5px 0';
            line.style.color = color || 'gray';
            line.textContent = text;
            messagesDiv.appendChild(line);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({ event: event, data: data }));
            }
        }

        function typing(isTyping) {
            emit('typing', { roomId: roomInput.value.trim(), username: nameInput.value.trim(), isTyping: isTyping });
        }

        function userId() {
            const id = parseInt(userInput.value, 10);
            return isNaN(id) ? undefined : id;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            messageInput.disabled = !connected;
            sendButton.disabled = !connected;
            joinButton.disabled = !connected;
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function handleFrame(frame) {
            const data = frame.data || {};
            switch (frame.event) {
            case 'message_history':
                (Array.isArray(data) ? data : []).forEach(function(m) {
                    addLine(m.user.username + ': ' + m.message, 'black');
                });
                break;
            case 'new_message':
                addLine(data.user.username + ': ' + data.message, 'green');
                break;
            case 'user_joined':
                addLine('user ' + data.userId + ' joined');
                break;
            case 'user_left':
                addLine('user ' + data.userId + ' left');
                break;
            case 'user_typing':
                typingDiv.textContent = data.isTyping ? data.username + ' is typing...' : '';
                break;
            case 'error':
                addLine('error: ' + data.message, 'red');
                break;
            default:
                addLine(JSON.stringify(frame));
            }
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');

            ws.onopen = function() {
                addLine('Connected to chat relay');
                updateStatus(true);
            };

            ws.onmessage = function(event) {
                try {
                    handleFrame(JSON.parse(event.data));
                } catch (e) {
                    addLine(event.data);
                }
            };

            ws.onclose = function() {
                addLine('Connection closed');
                updateStatus(false);
                ws = null;
            };

            ws.onerror = function() {
                addLine('Connection error');
                updateStatus(false);
            };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function joinRoom() {
            messagesDiv.innerHTML = '';
            emit('join_room', { userId: userId(), roomId: roomInput.value.trim() });
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (message) {
                emit('send_message', { userId: userId(), roomId: roomInput.value.trim(), message: message });
                typing(false);
                messageInput.value = '';
            }
        }

        messageInput.addEventListener('input', function() {
            typing(true);
            clearTimeout(typingTimer);
            typingTimer = setTimeout(function() {
                typing(false);
            }, 2000);
        });

        messageInput.addEventListener('keypress', function(e) {
            if (e.key === 'Enter') {
                sendMessage();
            }
        });
    </script>
</body>
</html>`
