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
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/c2FmZQ/storage"
)

// Situation is the on-field snapshot shared by game states, at-bat records
// and predictor payloads: score, outs and base occupancy at one moment.
type Situation struct {
	Inning    int     `json:"inning"`
	Half      string  `json:"half"`
	Outs      int     `json:"outs"`
	Base1     *string `json:"base1"`
	Base2     *string `json:"base2"`
	Base3     *string `json:"base3"`
	HomeScore int     `json:"homeScore"`
	AwayScore int     `json:"awayScore"`
}

// GameState is the single mutable row per simulation. It is only ever
// mutated by the advancer while holding the simulation's lock.
type GameState struct {
	SimulationID  string `json:"simulationId"`
	SchemaVersion int    `json:"schemaVersion"`

	Inning    int     `json:"inning"`
	Half      string  `json:"half"`
	Outs      int     `json:"outs"`
	Base1     *string `json:"base1"`
	Base2     *string `json:"base2"`
	Base3     *string `json:"base3"`
	HomeScore int     `json:"homeScore"`
	AwayScore int     `json:"awayScore"`

	// Batting order positions, each cycling mod 9 independently.
	HomeBatterIdx int `json:"homeBatterIdx"`
	AwayBatterIdx int `json:"awayBatterIdx"`

	CurrentPitcherID string `json:"currentPitcherId,omitempty"`
	NextBatterID     string `json:"nextBatterId,omitempty"`

	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`

	// UpdatedAt is the Unix timestamp of the last applied tick.
	UpdatedAt int64 `json:"updatedAt"`
}

// Situation returns the current on-field snapshot.
func (g *GameState) Situation() Situation {
	return Situation{
		Inning:    g.Inning,
		Half:      g.Half,
		Outs:      g.Outs,
		Base1:     g.Base1,
		Base2:     g.Base2,
		Base3:     g.Base3,
		HomeScore: g.HomeScore,
		AwayScore: g.AwayScore,
	}
}

// ApplySituation overwrites the on-field fields from a post-at-bat situation,
// normalizing a third out into a half-inning transition before anything is
// stored. Scores never go backwards; a regressive predictor response is an
// error rather than a silent overwrite.
func (g *GameState) ApplySituation(s Situation) error {
	if s.HomeScore < g.HomeScore || s.AwayScore < g.AwayScore {
		return fmt.Errorf("regressive score %d-%d -> %d-%d for simulation %s",
			g.HomeScore, g.AwayScore, s.HomeScore, s.AwayScore, g.SimulationID)
	}
	if s.Outs < 0 || s.Outs > 3 {
		return fmt.Errorf("invalid outs value %d for simulation %s", s.Outs, g.SimulationID)
	}
	if s.Half != HalfTop && s.Half != HalfBottom {
		return fmt.Errorf("invalid half %q for simulation %s", s.Half, g.SimulationID)
	}
	if s.Inning < g.Inning {
		return fmt.Errorf("regressive inning %d -> %d for simulation %s", g.Inning, s.Inning, g.SimulationID)
	}

	g.Inning = s.Inning
	g.Half = s.Half
	g.Outs = s.Outs
	g.Base1 = s.Base1
	g.Base2 = s.Base2
	g.Base3 = s.Base3
	g.HomeScore = s.HomeScore
	g.AwayScore = s.AwayScore

	if g.Outs >= 3 {
		g.rollHalfInning()
	}
	return nil
}

// rollHalfInning resets outs, clears the bases and flips the half, advancing
// the inning when the bottom half just ended.
func (g *GameState) rollHalfInning() {
	g.Outs = 0
	g.Base1 = nil
	g.Base2 = nil
	g.Base3 = nil
	if g.Half == HalfTop {
		g.Half = HalfBottom
	} else {
		g.Half = HalfTop
		g.Inning++
	}
}

// AttackingIsHome reports whether the home side is currently batting.
func (g *GameState) AttackingIsHome() bool {
	return g.Half == HalfBottom
}

// Terminal reports whether no further ticks may mutate this state.
func (g *GameState) Terminal() bool {
	return g.Status == StatusFinished || g.Status == StatusStalled
}

// Validate checks the stored-state invariants. Every state returned by the
// store and every state about to be persisted must pass.
func (g *GameState) Validate() error {
	if g.SimulationID == "" {
		return fmt.Errorf("game state missing simulation ID")
	}
	if g.Inning < 1 {
		return fmt.Errorf("inning %d < 1 for simulation %s", g.Inning, g.SimulationID)
	}
	if g.Half != HalfTop && g.Half != HalfBottom {
		return fmt.Errorf("invalid half %q for simulation %s", g.Half, g.SimulationID)
	}
	if g.Status == StatusPlaying && (g.Outs < 0 || g.Outs > 2) {
		return fmt.Errorf("outs %d out of range for playing simulation %s", g.Outs, g.SimulationID)
	}
	if g.HomeScore < 0 || g.AwayScore < 0 {
		return fmt.Errorf("negative score for simulation %s", g.SimulationID)
	}
	if g.HomeBatterIdx < 0 || g.HomeBatterIdx >= LineupBatters ||
		g.AwayBatterIdx < 0 || g.AwayBatterIdx >= LineupBatters {
		return fmt.Errorf("batter index out of range for simulation %s", g.SimulationID)
	}
	switch g.Status {
	case StatusReady, StatusPlaying, StatusFinished, StatusStalled:
	default:
		return fmt.Errorf("unknown status %q for simulation %s", g.Status, g.SimulationID)
	}
	if g.Status == StatusFinished {
		switch g.Winner {
		case WinnerHome, WinnerAway, WinnerTie:
		default:
			return fmt.Errorf("finished simulation %s has no winner", g.SimulationID)
		}
	}
	return nil
}

func (g *GameState) normalize() {
	if g.SchemaVersion == 0 {
		g.SchemaVersion = CurrentSchemaVersion
	}
	if g.Inning == 0 {
		g.Inning = 1
	}
	if g.Half == "" {
		g.Half = HalfTop
	}
}

// statusRank orders statuses so transitions can be checked for monotonicity.
func statusRank(status string) int {
	switch status {
	case StatusReady:
		return 0
	case StatusPlaying:
		return 1
	case StatusFinished, StatusStalled:
		return 2
	}
	return -1
}

// GameStateStore manages game state persistence to disk.
type GameStateStore struct {
	DataDir string
	Debug   bool
	storage *storage.Storage
	mu      sync.Map // *sync.RWMutex per simulation ID
	cache   sync.Map // latest []byte (JSON) per simulation ID
}

// NewGameStateStore creates a new GameStateStore.
func NewGameStateStore(dataDir string, s *storage.Storage) *GameStateStore {
	return &GameStateStore{
		DataDir: dataDir,
		storage: s,
	}
}

func stateFilename(simID string) string {
	return filepath.Join("states", fmt.Sprintf("%s.json", url.PathEscape(simID)))
}

// SaveGameState persists a state atomically. The status transition is
// checked against the previous stored value so it can never move backwards.
func (gs *GameStateStore) SaveGameState(state *GameState) error {
	state.normalize()
	if err := state.Validate(); err != nil {
		return err
	}

	m, _ := gs.mu.LoadOrStore(state.SimulationID, &sync.RWMutex{})
	mutex := m.(*sync.RWMutex)

	mutex.Lock()
	defer mutex.Unlock()

	var prev GameState
	if err := gs.storage.ReadDataFile(stateFilename(state.SimulationID), &prev); err == nil {
		if prev.Terminal() {
			return fmt.Errorf("simulation %s already terminal (%s)", state.SimulationID, prev.Status)
		}
		if statusRank(state.Status) < statusRank(prev.Status) {
			return fmt.Errorf("status transition %s -> %s not allowed for simulation %s",
				prev.Status, state.Status, state.SimulationID)
		}
	}

	if err := gs.storage.SaveDataFile(stateFilename(state.SimulationID), state); err != nil {
		return fmt.Errorf("storage.SaveDataFile: %w", err)
	}

	if jsonBytes, err := json.Marshal(state); err == nil {
		gs.cache.Store(state.SimulationID, jsonBytes)
	}
	return nil
}

// LoadGameState loads the state for one simulation.
func (gs *GameStateStore) LoadGameState(simID string) (*GameState, error) {
	if val, ok := gs.cache.Load(simID); ok {
		var g GameState
		if err := json.Unmarshal(val.([]byte), &g); err == nil {
			g.normalize()
			return &g, nil
		}
		gs.cache.Delete(simID)
	}

	m, _ := gs.mu.LoadOrStore(simID, &sync.RWMutex{})
	mutex := m.(*sync.RWMutex)

	mutex.RLock()
	defer mutex.RUnlock()

	var g GameState
	if err := gs.storage.ReadDataFile(stateFilename(simID), &g); err != nil {
		if os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("ReadDataFile: %w", err)
	}
	g.normalize()

	if jsonBytes, err := json.Marshal(&g); err == nil {
		gs.cache.Store(simID, jsonBytes)
	}
	return &g, nil
}

// Exists reports whether a state row exists for the simulation.
func (gs *GameStateStore) Exists(simID string) bool {
	if _, ok := gs.cache.Load(simID); ok {
		return true
	}
	_, err := os.Stat(filepath.Join(gs.DataDir, stateFilename(simID)))
	return err == nil
}
