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
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
)

// Notification is one event routed to a user.
type Notification struct {
	UserID       string         `json:"userId"`
	EventType    string         `json:"eventType"`
	SimulationID string         `json:"simulationId"`
	Payload      map[string]any `json:"payload,omitempty"`
	SentAt       int64          `json:"sentAt"`
}

// NotificationPublisher forwards terminal/milestone events to users. The
// delivery transport is external; implementations here only hand events off.
type NotificationPublisher interface {
	Notify(userID, eventType, simID string, payload map[string]any) error
}

// LogPublisher is the fallback publisher: it just logs the event. Used when
// no downstream transport is configured and in tests.
type LogPublisher struct{}

func (LogPublisher) Notify(userID, eventType, simID string, payload map[string]any) error {
	log.Printf("[NOTIFY] user=%s event=%s sim=%s payload=%v", maskEmail(userID), eventType, simID, payload)
	return nil
}

// MultiPublisher fans one event out to several publishers. The first error
// wins but every publisher is attempted.
type MultiPublisher []NotificationPublisher

func (mp MultiPublisher) Notify(userID, eventType, simID string, payload map[string]any) error {
	var firstErr error
	for _, p := range mp {
		if err := p.Notify(userID, eventType, simID, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// sentLogFile is the on-disk shape of one simulation's sent-notification log.
type sentLogFile struct {
	SimulationID string         `json:"simulationId"`
	Sent         []Notification `json:"sent"`
}

// SentLog is the durable "already sent" record keyed by
// (simulationID, eventType). Retried scheduling consults it so replayed
// reminder/start/end jobs never double-notify.
type SentLog struct {
	storage *storage.Storage
	mu      sync.Map // *sync.Mutex per simulation ID
}

// NewSentLog creates a new SentLog.
func NewSentLog(s *storage.Storage) *SentLog {
	return &SentLog{storage: s}
}

func sentLogFilename(simID string) string {
	return filepath.Join("notifications", fmt.Sprintf("%s.json", url.PathEscape(simID)))
}

// AlreadySent reports whether an event type was recorded for the simulation.
func (sl *SentLog) AlreadySent(simID, eventType string) (bool, error) {
	m, _ := sl.mu.LoadOrStore(simID, &sync.Mutex{})
	mutex := m.(*sync.Mutex)
	mutex.Lock()
	defer mutex.Unlock()

	f, err := sl.load(simID)
	if err != nil {
		return false, err
	}
	for _, n := range f.Sent {
		if n.EventType == eventType {
			return true, nil
		}
	}
	return false, nil
}

// MarkSent records one (simulation, eventType) pair. Returns false without
// writing when the pair was already recorded, so exactly one caller wins.
func (sl *SentLog) MarkSent(n Notification) (bool, error) {
	m, _ := sl.mu.LoadOrStore(n.SimulationID, &sync.Mutex{})
	mutex := m.(*sync.Mutex)
	mutex.Lock()
	defer mutex.Unlock()

	f, err := sl.load(n.SimulationID)
	if err != nil {
		return false, err
	}
	for _, prev := range f.Sent {
		if prev.EventType == n.EventType {
			return false, nil
		}
	}
	if n.SentAt == 0 {
		n.SentAt = time.Now().Unix()
	}
	f.SimulationID = n.SimulationID
	f.Sent = append(f.Sent, n)
	if err := sl.storage.SaveDataFile(sentLogFilename(n.SimulationID), f); err != nil {
		return false, fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	return true, nil
}

func (sl *SentLog) load(simID string) (*sentLogFile, error) {
	var f sentLogFile
	if err := sl.storage.ReadDataFile(sentLogFilename(simID), &f); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	return &f, nil
}

// DedupPublisher wraps a publisher with the SentLog so each
// (simulation, eventType) pair reaches users at most once.
type DedupPublisher struct {
	Inner   NotificationPublisher
	SentLog *SentLog
}

func (dp *DedupPublisher) Notify(userID, eventType, simID string, payload map[string]any) error {
	won, err := dp.SentLog.MarkSent(Notification{
		UserID:       userID,
		EventType:    eventType,
		SimulationID: simID,
		Payload:      payload,
	})
	if err != nil {
		return err
	}
	if !won {
		// Replayed job; the event already went out.
		return nil
	}
	return dp.Inner.Notify(userID, eventType, simID, payload)
}
