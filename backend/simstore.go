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
	"fmt"
	"iter"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/c2FmZQ/storage"
)

// Lineup is one side's batting order: exactly nine batters plus one pitcher.
type Lineup struct {
	BatterIDs []string `json:"batterIds"`
	PitcherID string   `json:"pitcherId"`
}

// Simulation identifies one scheduled or playable game.
type Simulation struct {
	ID            string `json:"id"`
	SchemaVersion int    `json:"schemaVersion"`
	HomeTeamID    string `json:"homeTeamId"`
	AwayTeamID    string `json:"awayTeamId"`
	HomeLineup    Lineup `json:"homeLineup"`
	AwayLineup    Lineup `json:"awayLineup"`

	// StartAt is the scheduled first pitch, Unix seconds.
	StartAt  int64  `json:"startAt"`
	Finished bool   `json:"finished"`
	OwnerID  string `json:"ownerId"`

	// CreatedAt is set once at registration time, Unix seconds.
	CreatedAt int64 `json:"createdAt"`
}

func (s *Simulation) normalize() {
	if s.SchemaVersion == 0 {
		s.SchemaVersion = CurrentSchemaVersion
	}
	if s.HomeLineup.BatterIDs == nil {
		s.HomeLineup.BatterIDs = make([]string, 0)
	}
	if s.AwayLineup.BatterIDs == nil {
		s.AwayLineup.BatterIDs = make([]string, 0)
	}
}

// StartTime returns the scheduled first pitch as a time.Time.
func (s *Simulation) StartTime() time.Time {
	return time.Unix(s.StartAt, 0)
}

// SimulationMetadata contains only the fields needed for indexing and
// recovery scans, stored as a sidecar next to the full record.
type SimulationMetadata struct {
	ID         string `json:"id"`
	HomeTeamID string `json:"homeTeamId"`
	AwayTeamID string `json:"awayTeamId"`
	StartAt    int64  `json:"startAt"`
	Finished   bool   `json:"finished"`
	OwnerID    string `json:"ownerId"`
}

// SimulationStore manages simulation persistence to disk.
type SimulationStore struct {
	DataDir string
	Debug   bool
	storage *storage.Storage
	mu      sync.Map // *sync.RWMutex per simulation ID
	cache   sync.Map // latest []byte (JSON) per simulation ID
}

// NewSimulationStore creates a new SimulationStore.
func NewSimulationStore(dataDir string, s *storage.Storage) *SimulationStore {
	return &SimulationStore{
		DataDir: dataDir,
		storage: s,
	}
}

func simFilename(simID string) string {
	return filepath.Join("simulations", fmt.Sprintf("%s.json", url.PathEscape(simID)))
}

func simMetaFilename(simID string) string {
	return filepath.Join("simulations", fmt.Sprintf("%s.meta.json", url.PathEscape(simID)))
}

// SaveSimulation saves the simulation and its metadata sidecar atomically.
func (ss *SimulationStore) SaveSimulation(sim *Simulation) error {
	m, _ := ss.mu.LoadOrStore(sim.ID, &sync.RWMutex{})
	mutex := m.(*sync.RWMutex)

	mutex.Lock()
	defer mutex.Unlock()

	sim.normalize()
	if err := ss.storage.SaveDataFile(simFilename(sim.ID), sim); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}

	meta := SimulationMetadata{
		ID:         sim.ID,
		HomeTeamID: sim.HomeTeamID,
		AwayTeamID: sim.AwayTeamID,
		StartAt:    sim.StartAt,
		Finished:   sim.Finished,
		OwnerID:    sim.OwnerID,
	}
	if err := ss.storage.SaveDataFile(simMetaFilename(sim.ID), &meta); err != nil {
		log.Printf("Warning: Failed to save metadata sidecar for simulation %s: %v", sim.ID, err)
		// Non-fatal, recovery can fall back to the main file
	}

	if jsonBytes, err := json.Marshal(sim); err == nil {
		ss.cache.Store(sim.ID, jsonBytes)
	}

	return nil
}

// LoadSimulation loads one simulation by ID.
func (ss *SimulationStore) LoadSimulation(simID string) (*Simulation, error) {
	if val, ok := ss.cache.Load(simID); ok {
		var s Simulation
		if err := json.Unmarshal(val.([]byte), &s); err == nil {
			if ss.Debug {
				log.Printf("[CACHE] Hit for simulation %s", simID)
			}
			s.normalize()
			return &s, nil
		}
		ss.cache.Delete(simID)
	}

	m, _ := ss.mu.LoadOrStore(simID, &sync.RWMutex{})
	mutex := m.(*sync.RWMutex)

	mutex.RLock()
	defer mutex.RUnlock()

	var s Simulation
	if err := ss.storage.ReadDataFile(simFilename(simID), &s); err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	s.normalize()

	if jsonBytes, err := json.Marshal(&s); err == nil {
		ss.cache.Store(simID, jsonBytes)
	}
	return &s, nil
}

// MarkFinished flips the finished flag. The flag only ever goes one way.
func (ss *SimulationStore) MarkFinished(simID string) error {
	s, err := ss.LoadSimulation(simID)
	if err != nil {
		return err
	}
	if s.Finished {
		return nil
	}
	s.Finished = true
	return ss.SaveSimulation(s)
}

// ListAllSimulationMetadata returns metadata for every stored simulation
// without loading full lineups. Sidecars are the fast path; records missing a
// sidecar fall back to a full load.
func (ss *SimulationStore) ListAllSimulationMetadata() iter.Seq2[SimulationMetadata, error] {
	return func(yield func(SimulationMetadata, error) bool) {
		simsDir := filepath.Join(ss.DataDir, "simulations")
		files, err := os.ReadDir(simsDir)
		if err != nil && !os.IsNotExist(err) {
			yield(SimulationMetadata{}, fmt.Errorf("could not read simulations directory: %w", err))
			return
		}

		hasMeta := make(map[string]bool)
		hasSim := make(map[string]bool)

		for _, file := range files {
			if file.IsDir() {
				continue
			}
			name := file.Name()
			if strings.HasSuffix(name, ".meta.json") {
				if id, err := url.PathUnescape(strings.TrimSuffix(name, ".meta.json")); err == nil {
					hasMeta[id] = true
				}
			} else if strings.HasSuffix(name, ".json") {
				if id, err := url.PathUnescape(strings.TrimSuffix(name, ".json")); err == nil {
					hasSim[id] = true
				}
			}
		}

		processed := make(map[string]bool)

		for id := range hasMeta {
			processed[id] = true

			var meta SimulationMetadata
			if err := ss.storage.ReadDataFile(simMetaFilename(id), &meta); err != nil {
				log.Printf("Recovery Warning: failed to load metadata for %s: %v. Falling back to main file.", id, err)
				hasSim[id] = true
				processed[id] = false
				continue
			}
			if !yield(meta, nil) {
				return
			}
		}

		for id := range hasSim {
			if processed[id] {
				continue
			}
			processed[id] = true

			s, err := ss.LoadSimulation(id)
			if err != nil {
				log.Printf("Recovery Warning: failed to load simulation %s from disk: %v", id, err)
				continue
			}
			if !yield(SimulationMetadata{
				ID:         s.ID,
				HomeTeamID: s.HomeTeamID,
				AwayTeamID: s.AwayTeamID,
				StartAt:    s.StartAt,
				Finished:   s.Finished,
				OwnerID:    s.OwnerID,
			}, nil) {
				return
			}
		}
	}
}
