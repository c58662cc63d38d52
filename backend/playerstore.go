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

// BattingStats are a batter's published season statistics, forwarded to the
// predictor verbatim.
type BattingStats struct {
	Games   int     `json:"games"`
	AtBats  int     `json:"atBats"`
	Hits    int     `json:"hits"`
	Doubles int     `json:"doubles"`
	Triples int     `json:"triples"`
	HomeRun int     `json:"homeRuns"`
	Walks   int     `json:"walks"`
	SO      int     `json:"strikeouts"`
	AVG     float64 `json:"avg"`
	OBP     float64 `json:"obp"`
	SLG     float64 `json:"slg"`
}

// PitchingStats are a pitcher's published season statistics.
type PitchingStats struct {
	Games   int     `json:"games"`
	Innings float64 `json:"innings"`
	Wins    int     `json:"wins"`
	Losses  int     `json:"losses"`
	SO      int     `json:"strikeouts"`
	Walks   int     `json:"walks"`
	ERA     float64 `json:"era"`
	WHIP    float64 `json:"whip"`
}

// Player is one registered player with display info and stats.
type Player struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	TeamID   string         `json:"teamId,omitempty"`
	Position string         `json:"position,omitempty"`
	Batting  *BattingStats  `json:"battingStats,omitempty"`
	Pitching *PitchingStats `json:"pitchingStats,omitempty"`
}

// PlayerStore manages player persistence to disk.
type PlayerStore struct {
	DataDir string
	storage *storage.Storage
	mu      sync.Map // *sync.RWMutex per player ID
	cache   sync.Map // *Player per player ID
}

// NewPlayerStore creates a new PlayerStore.
func NewPlayerStore(dataDir string, s *storage.Storage) *PlayerStore {
	return &PlayerStore{
		DataDir: dataDir,
		storage: s,
	}
}

func playerFilename(playerID string) string {
	return filepath.Join("players", fmt.Sprintf("%s.json", url.PathEscape(playerID)))
}

// SavePlayer saves a player record atomically.
func (ps *PlayerStore) SavePlayer(p *Player) error {
	if p.ID == "" {
		return fmt.Errorf("player missing ID")
	}
	m, _ := ps.mu.LoadOrStore(p.ID, &sync.RWMutex{})
	mutex := m.(*sync.RWMutex)

	mutex.Lock()
	defer mutex.Unlock()

	if err := ps.storage.SaveDataFile(playerFilename(p.ID), p); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}
	cp := *p
	ps.cache.Store(p.ID, &cp)
	return nil
}

// LoadPlayer loads one player by ID.
func (ps *PlayerStore) LoadPlayer(playerID string) (*Player, error) {
	if val, ok := ps.cache.Load(playerID); ok {
		cp := *val.(*Player)
		return &cp, nil
	}

	m, _ := ps.mu.LoadOrStore(playerID, &sync.RWMutex{})
	mutex := m.(*sync.RWMutex)

	mutex.RLock()
	defer mutex.RUnlock()

	var p Player
	if err := ps.storage.ReadDataFile(playerFilename(playerID), &p); err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	cp := p
	ps.cache.Store(playerID, &cp)
	return &p, nil
}
