// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// Message types for WebSocket communication
const (
	MsgTypeJoin  = "JOIN"
	MsgTypeAck   = "ACK"
	MsgTypeEvent = "EVENT"
	MsgTypeAtBat = "AT_BAT"
	MsgTypeError = "ERROR"
)

// WSMessage is a WebSocket frame in either direction.
type WSMessage struct {
	Type         string          `json:"type"`
	SimulationID string          `json:"simulationId,omitempty"`
	Event        string          `json:"event,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Hub fans engine events out to the spectators of one simulation.
type Hub struct {
	simID string

	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	events     chan WSMessage

	// Closed when the hub shuts down, so a registration racing the idle
	// reaper can detect the dead hub instead of blocking forever.
	done chan struct{}

	hm *HubManager
}

func newHub(simID string, hm *HubManager) *Hub {
	return &Hub{
		simID:      simID,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		events:     make(chan WSMessage, 64), // Buffered so ticks never block on slow spectators
		done:       make(chan struct{}),
		hm:         hm,
	}
}

func (h *Hub) run() {
	idleTimer := time.NewTicker(5 * time.Minute)
	defer idleTimer.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			client.sendJSON(WSMessage{Type: MsgTypeAck, SimulationID: h.simID})
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case msg := <-h.events:
			for client := range h.clients {
				client.sendJSON(msg)
			}
		case <-idleTimer.C:
			if len(h.clients) == 0 {
				// Drop from the manager before signalling done, so a
				// retried registration always finds a fresh hub.
				h.hm.removeHub(h)
				close(h.done)
				return
			}
		}
	}
}

// HubManager manages hubs for all live simulations.
type HubManager struct {
	hubs map[string]*Hub
	mu   sync.Mutex
}

// NewHubManager creates a HubManager.
func NewHubManager() *HubManager {
	return &HubManager{hubs: make(map[string]*Hub)}
}

// GetHub returns the hub for one simulation, starting it if needed.
func (hm *HubManager) GetHub(simID string) *Hub {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if hub, ok := hm.hubs[simID]; ok {
		return hub
	}
	hub := newHub(simID, hm)
	hm.hubs[simID] = hub
	go hub.run()
	return hub
}

// removeHub drops a hub, but only while it is still the registered one for
// its simulation. A replacement created after a teardown stays.
func (hm *HubManager) removeHub(h *Hub) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if hm.hubs[h.simID] == h {
		delete(hm.hubs, h.simID)
	}
}

// join registers a spectator with the live hub for a simulation and returns
// that hub. If the idle reaper tears the hub down between lookup and
// registration, the registration is retried against a fresh hub.
func (hm *HubManager) join(simID string, client *wsClient) *Hub {
	for {
		hub := hm.GetHub(simID)
		select {
		case hub.register <- client:
			return hub
		case <-hub.done:
			hm.removeHub(hub)
		}
	}
}

// BroadcastEvent pushes one payload to a simulation's spectators. A
// simulation nobody is watching has no hub and the call is a no-op.
func (hm *HubManager) BroadcastEvent(simID, msgType, event string, payload any) {
	hm.mu.Lock()
	hub, ok := hm.hubs[simID]
	hm.mu.Unlock()
	if !ok {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("BroadcastEvent: Error marshaling payload for simulation %s: %v", simID, err)
		return
	}

	select {
	case hub.events <- WSMessage{Type: msgType, SimulationID: simID, Event: event, Payload: raw}:
	default:
		log.Printf("Warning: Hub channel full, dropping broadcast for simulation %s", simID)
	}
}

// HubPublisher routes milestone notifications into the websocket hub. Used
// as one sink behind the dedup publisher; the real push transport is an
// external collaborator.
type HubPublisher struct {
	HM *HubManager
}

func (hp *HubPublisher) Notify(userID, eventType, simID string, payload map[string]any) error {
	hp.HM.BroadcastEvent(simID, MsgTypeEvent, eventType, payload)
	return nil
}

// wsClient is a middleman between one websocket connection and a hub.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan WSMessage

	userId string
}

// readPump pumps control messages from the websocket connection to the hub.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		var msg WSMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}

		switch msg.Type {
		case "PING":
			c.sendJSON(WSMessage{Type: "PONG"})
		default:
			c.sendJSON(WSMessage{Type: MsgTypeError, Error: "Unknown message type"})
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) sendJSON(msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		// Channel full; the slow client misses this frame.
	}
}

// serveWS upgrades an HTTP request into a spectator connection for one
// simulation.
func serveWS(hm *HubManager, w http.ResponseWriter, r *http.Request, simID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan WSMessage, 32),
		userId: getUserID(r),
	}
	client.hub = hm.join(simID, client)

	go client.writePump()
	go client.readPump()
}
