package ws

import (
	"encoding/json"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ClientConnection is one browser subscribed to a checkout session's
// state transitions.
type ClientConnection struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	SessionID string
}

type broadcast struct {
	sessionID string
	payload   []byte
}

// Hub fans checkout state events out to the browsers watching each session.
// All access to the subscriber map and to client Send channels happens on
// the Run goroutine, so a publish can never race an unregister's close.
type Hub struct {
	Register   chan *ClientConnection
	Unregister chan *ClientConnection

	broadcast chan broadcast
	sessions  map[string][]*ClientConnection
}

func NewHub() *Hub {
	return &Hub{
		Register:   make(chan *ClientConnection),
		Unregister: make(chan *ClientConnection),
		broadcast:  make(chan broadcast, 64),
		sessions:   make(map[string][]*ClientConnection),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.sessions[client.SessionID] = append(h.sessions[client.SessionID], client)

		case client := <-h.Unregister:
			subscribers := h.sessions[client.SessionID]
			for i, subscriber := range subscribers {
				if subscriber == client {
					h.sessions[client.SessionID] = append(subscribers[:i], subscribers[i+1:]...)
					close(client.Send)
					break
				}
			}
			if len(h.sessions[client.SessionID]) == 0 {
				delete(h.sessions, client.SessionID)
			}

		case msg := <-h.broadcast:
			for _, client := range h.sessions[msg.sessionID] {
				select {
				case client.Send <- msg.payload:
				default:
					log.Warn().Str("session_id", msg.sessionID).Msg("dropping slow checkout subscriber")
				}
			}
		}
	}
}

// Publish pushes an event to every subscriber of a session. Delivery is
// best effort: a full hub or a slow client drops the event rather than
// blocking the checkout pipeline.
func (h *Hub) Publish(sessionID string, event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("marshaling checkout event")
		return
	}

	select {
	case h.broadcast <- broadcast{sessionID: sessionID, payload: payload}:
	default:
		log.Warn().Str("session_id", sessionID).Msg("hub backlog full, dropping checkout event")
	}
}

// WritePump drains the send channel onto the websocket connection.
func (c *ClientConnection) WritePump() {
	defer c.Conn.Close()
	for message := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
