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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSimulationStore_SaveAndLoad(t *testing.T) {
	env := newTestEnv(t)
	home, away := seedLineups(t, env)

	sim := newTestSimulation(env, home, away, time.Now().Add(time.Hour))
	if err := env.sims.SaveSimulation(sim); err != nil {
		t.Fatalf("SaveSimulation failed: %v", err)
	}

	got, err := env.sims.LoadSimulation(sim.ID)
	if err != nil {
		t.Fatalf("LoadSimulation failed: %v", err)
	}
	if got.ID != sim.ID || got.HomeTeamID != sim.HomeTeamID || got.AwayTeamID != sim.AwayTeamID {
		t.Errorf("Loaded simulation does not match saved one: %+v", got)
	}
	if got.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion, got.SchemaVersion)
	}
	if len(got.HomeLineup.BatterIDs) != LineupBatters {
		t.Errorf("Expected %d home batters, got %d", LineupBatters, len(got.HomeLineup.BatterIDs))
	}

	if _, err := env.sims.LoadSimulation("no-such-sim"); !os.IsNotExist(err) {
		t.Errorf("Expected os.ErrNotExist for missing simulation, got %v", err)
	}
}

func TestSimulationStore_MarkFinishedIsOneWay(t *testing.T) {
	env := newTestEnv(t)
	home, away := seedLineups(t, env)

	sim := newTestSimulation(env, home, away, time.Now())
	if err := env.sims.SaveSimulation(sim); err != nil {
		t.Fatalf("SaveSimulation failed: %v", err)
	}

	if err := env.sims.MarkFinished(sim.ID); err != nil {
		t.Fatalf("MarkFinished failed: %v", err)
	}
	// Marking twice is a no-op, not an error.
	if err := env.sims.MarkFinished(sim.ID); err != nil {
		t.Fatalf("Second MarkFinished failed: %v", err)
	}

	got, err := env.sims.LoadSimulation(sim.ID)
	if err != nil {
		t.Fatalf("LoadSimulation failed: %v", err)
	}
	if !got.Finished {
		t.Errorf("Expected simulation to be finished")
	}

	if err := env.sims.MarkFinished("no-such-sim"); !os.IsNotExist(err) {
		t.Errorf("Expected os.ErrNotExist, got %v", err)
	}
}

func TestSimulationStore_ListAllSimulationMetadata(t *testing.T) {
	env := newTestEnv(t)
	home, away := seedLineups(t, env)

	var saved []*Simulation
	for i := 0; i < 3; i++ {
		sim := newTestSimulation(env, home, away, time.Now().Add(time.Duration(i)*time.Hour))
		if err := env.sims.SaveSimulation(sim); err != nil {
			t.Fatalf("SaveSimulation failed: %v", err)
		}
		saved = append(saved, sim)
	}

	// 1. Sidecar fast path: every saved simulation shows up once.
	seen := make(map[string]SimulationMetadata)
	for meta, err := range env.sims.ListAllSimulationMetadata() {
		if err != nil {
			t.Fatalf("Metadata scan failed: %v", err)
		}
		seen[meta.ID] = meta
	}
	if len(seen) != len(saved) {
		t.Fatalf("Expected %d metadata records, got %d", len(saved), len(seen))
	}
	for _, sim := range saved {
		meta, ok := seen[sim.ID]
		if !ok {
			t.Errorf("Simulation %s missing from scan", sim.ID)
			continue
		}
		if meta.StartAt != sim.StartAt || meta.OwnerID != sim.OwnerID {
			t.Errorf("Metadata mismatch for %s: %+v", sim.ID, meta)
		}
	}

	// 2. A missing sidecar falls back to the full record.
	victim := saved[0]
	if err := os.Remove(filepath.Join(env.tmpDir, "simulations", victim.ID+".meta.json")); err != nil {
		t.Fatalf("Failed to remove sidecar: %v", err)
	}

	// A fresh store over the same directory, as on restart.
	fresh := NewSimulationStore(env.tmpDir, env.storage)
	seen = make(map[string]SimulationMetadata)
	for meta, err := range fresh.ListAllSimulationMetadata() {
		if err != nil {
			t.Fatalf("Metadata scan failed: %v", err)
		}
		seen[meta.ID] = meta
	}
	if len(seen) != len(saved) {
		t.Fatalf("Expected %d metadata records after sidecar loss, got %d", len(saved), len(seen))
	}
	if meta, ok := seen[victim.ID]; !ok || meta.StartAt != victim.StartAt {
		t.Errorf("Fallback metadata wrong for %s: %+v", victim.ID, meta)
	}
}
