package services

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one dashboard connection watching a call's live transcript.
type Client struct {
	ID     string
	Conn   *websocket.Conn
	CallID string
	Send   chan []byte
	Hub    *TranscriptHub
}

// TranscriptHub fans streaming transcript events out to dashboard
// clients subscribed by call ID. It only mirrors what the platform
// streams; partial transcripts never touch the persisted store.
type TranscriptHub struct {
	clients     map[*Client]bool
	callClients map[string][]*Client

	Register   chan *Client
	Unregister chan *Client

	mutex sync.RWMutex
}

func NewTranscriptHub() *TranscriptHub {
	return &TranscriptHub{
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		clients:     make(map[*Client]bool),
		callClients: make(map[string][]*Client),
	}
}

// Run processes subscription churn. Call it once, in its own goroutine.
func (h *TranscriptHub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mutex.Lock()
			h.clients[client] = true
			if client.CallID != "" {
				h.callClients[client.CallID] = append(h.callClients[client.CallID], client)
			}
			h.mutex.Unlock()
		case client := <-h.Unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)

				if client.CallID != "" {
					clients := h.callClients[client.CallID]
					for i, c := range clients {
						if c == client {
							h.callClients[client.CallID] = append(clients[:i], clients[i+1:]...)
							break
						}
					}
					if len(h.callClients[client.CallID]) == 0 {
						delete(h.callClients, client.CallID)
					}
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Broadcast sends a message to every client watching the given call.
func (h *TranscriptHub) Broadcast(callID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling broadcast message: %v", err)
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients, ok := h.callClients[callID]
	if !ok {
		return
	}

	for _, client := range clients {
		select {
		case client.Send <- data:
		default:
			// Slow client; drop the update rather than block the caller.
			log.Printf("Dropping transcript update for slow client %s", client.ID)
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
func (c *Client) WritePump() {
	defer func() {
		c.Conn.Close()
	}()

	for {
		message, ok := <-c.Send
		if !ok {
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}

		err := c.Conn.WriteMessage(websocket.TextMessage, message)
		if err != nil {
			log.Printf("Error writing to WebSocket: %v", err)
			return
		}
	}
}
