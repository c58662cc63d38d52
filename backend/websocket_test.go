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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server, simID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?simulationId=" + simID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestWebSocket_SpectatorReceivesBroadcasts(t *testing.T) {
	env := newServerTestEnv(t, &fakePredictor{})
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	simID := uuid.NewString()
	conn := dialWS(t, srv, simID)

	// 1. The hub acknowledges the join.
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read ack: %v", err)
	}
	if msg.Type != MsgTypeAck || msg.SimulationID != simID {
		t.Fatalf("Unexpected first frame: %+v", msg)
	}

	// 2. Engine broadcasts reach the spectator.
	env.engine.Hub.BroadcastEvent(simID, MsgTypeAtBat, "", map[string]any{"outcome": "single"})
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}
	if msg.Type != MsgTypeAtBat {
		t.Errorf("Expected %s frame, got %+v", MsgTypeAtBat, msg)
	}
	var payload map[string]string
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("Failed to parse payload: %v", err)
	}
	if payload["outcome"] != "single" {
		t.Errorf("Unexpected payload: %v", payload)
	}

	// 3. Milestone notifications arrive as EVENT frames.
	pub := &HubPublisher{HM: env.engine.Hub}
	if err := pub.Notify("fan@example.com", EventGameStarted, simID, nil); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read event: %v", err)
	}
	if msg.Type != MsgTypeEvent || msg.Event != EventGameStarted {
		t.Errorf("Unexpected event frame: %+v", msg)
	}
}

func TestWebSocket_BroadcastWithoutSpectatorsIsNoOp(t *testing.T) {
	env := newServerTestEnv(t, &fakePredictor{})

	// Nobody is watching; there is no hub and nothing blocks.
	env.engine.Hub.BroadcastEvent(uuid.NewString(), MsgTypeAtBat, "", map[string]any{"outcome": "double"})
}

func TestHubManager_JoinAfterIdleTeardown(t *testing.T) {
	hm := NewHubManager()
	simID := uuid.NewString()

	// A hub the idle reaper has already shut down: its run loop is gone and
	// its done channel is closed, but a racing lookup can still see it in
	// the map.
	dead := newHub(simID, hm)
	close(dead.done)
	hm.mu.Lock()
	hm.hubs[simID] = dead
	hm.mu.Unlock()

	client := &wsClient{send: make(chan WSMessage, 32)}
	hub := hm.join(simID, client)
	if hub == dead {
		t.Fatalf("join returned the shut-down hub")
	}

	// The replacement hub is live and acknowledged the registration.
	select {
	case msg := <-client.send:
		if msg.Type != MsgTypeAck || msg.SimulationID != simID {
			t.Errorf("Unexpected ack frame: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("No ack from the replacement hub")
	}
}

func TestWebSocket_RejectsMissingSimulationID(t *testing.T) {
	env := newServerTestEnv(t, &fakePredictor{})

	rr := makeRequest(env, "GET", "/api/ws", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without simulationId, got %d", rr.Code)
	}
	rr = makeRequest(env, "GET", "/api/ws?simulationId=not-a-uuid", "", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed simulationId, got %d", rr.Code)
	}
}
