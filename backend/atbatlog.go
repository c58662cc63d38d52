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
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/c2FmZQ/storage"
)

// AtBat is one immutable row per resolved plate appearance. Records are only
// ever appended, in tick order, under the simulation's lock.
type AtBat struct {
	ID           string `json:"id"`
	SimulationID string `json:"simulationId"`
	Seq          int    `json:"seq"`

	Inning   int    `json:"inning"`
	Half     string `json:"half"`
	OrderPos int    `json:"orderPos"`

	PitcherID string `json:"pitcherId"`
	BatterID  string `json:"batterId"`

	Before Situation `json:"before"`
	After  Situation `json:"after"`

	Outcome       string             `json:"outcome"`
	OutcomeKorean string             `json:"outcomeKorean,omitempty"`
	RBI           int                `json:"rbi"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`

	CreatedAt int64 `json:"createdAt"`
}

// atBatLogFile is the on-disk shape of one simulation's log.
type atBatLogFile struct {
	SimulationID  string  `json:"simulationId"`
	SchemaVersion int     `json:"schemaVersion"`
	AtBats        []AtBat `json:"atBats"`
}

// AtBatLog manages the per-simulation append-only at-bat history.
type AtBatLog struct {
	DataDir string
	storage *storage.Storage
	mu      sync.Map // *sync.RWMutex per simulation ID
}

// NewAtBatLog creates a new AtBatLog.
func NewAtBatLog(dataDir string, s *storage.Storage) *AtBatLog {
	return &AtBatLog{
		DataDir: dataDir,
		storage: s,
	}
}

func atBatFilename(simID string) string {
	return filepath.Join("atbats", fmt.Sprintf("%s.json", url.PathEscape(simID)))
}

// Append adds one record to the simulation's log and persists it atomically.
// The sequence number is assigned here from the current log length.
func (al *AtBatLog) Append(ab *AtBat) error {
	if ab.SimulationID == "" {
		return fmt.Errorf("at-bat missing simulation ID")
	}
	m, _ := al.mu.LoadOrStore(ab.SimulationID, &sync.RWMutex{})
	mutex := m.(*sync.RWMutex)

	mutex.Lock()
	defer mutex.Unlock()

	var f atBatLogFile
	if err := al.storage.ReadDataFile(atBatFilename(ab.SimulationID), &f); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ReadDataFile: %w", err)
	}
	if f.SimulationID == "" {
		f.SimulationID = ab.SimulationID
		f.SchemaVersion = CurrentSchemaVersion
	}

	ab.Seq = len(f.AtBats)
	f.AtBats = append(f.AtBats, *ab)

	if err := al.storage.SaveDataFile(atBatFilename(ab.SimulationID), &f); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	return nil
}

// List returns the full history for one simulation in append order. A
// simulation without any resolved at-bats yields an empty slice.
func (al *AtBatLog) List(simID string) ([]AtBat, error) {
	m, _ := al.mu.LoadOrStore(simID, &sync.RWMutex{})
	mutex := m.(*sync.RWMutex)

	mutex.RLock()
	defer mutex.RUnlock()

	var f atBatLogFile
	if err := al.storage.ReadDataFile(atBatFilename(simID), &f); err != nil {
		if os.IsNotExist(err) {
			return []AtBat{}, nil
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	return f.AtBats, nil
}

// Count returns the number of resolved at-bats for one simulation.
func (al *AtBatLog) Count(simID string) (int, error) {
	abs, err := al.List(simID)
	if err != nil {
		return 0, err
	}
	return len(abs), nil
}
