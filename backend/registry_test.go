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
	"testing"
	"time"
)

// saveMeta persists a minimal simulation and returns its metadata.
func saveMeta(t *testing.T, env *testEnv, id, owner string, startAt time.Time) SimulationMetadata {
	t.Helper()
	sim := &Simulation{
		ID:         id,
		HomeTeamID: "LIONS",
		AwayTeamID: "BEARS",
		StartAt:    startAt.Unix(),
		OwnerID:    owner,
	}
	if err := env.sims.SaveSimulation(sim); err != nil {
		t.Fatalf("SaveSimulation %s: %v", id, err)
	}
	return SimulationMetadata{
		ID:         sim.ID,
		HomeTeamID: sim.HomeTeamID,
		AwayTeamID: sim.AwayTeamID,
		StartAt:    sim.StartAt,
		OwnerID:    sim.OwnerID,
	}
}

func TestRegistry_ListDayOrdersByStartTime(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry(env.sims)

	day := time.Date(2026, 5, 14, 0, 0, 0, 0, time.Local)

	// Add out of chronological order; ListDay must sort by first pitch.
	reg.Add(saveMeta(t, env, "sim-evening", "a@example.com", day.Add(18*time.Hour)))
	reg.Add(saveMeta(t, env, "sim-morning", "a@example.com", day.Add(10*time.Hour)))
	reg.Add(saveMeta(t, env, "sim-noon", "b@example.com", day.Add(13*time.Hour)))

	// A different day must not leak into the listing.
	reg.Add(saveMeta(t, env, "sim-next-day", "a@example.com", day.AddDate(0, 0, 1).Add(10*time.Hour)))

	got := reg.ListDay(day.Add(15 * time.Hour))
	want := []string{"sim-morning", "sim-noon", "sim-evening"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d simulations, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("ListDay[%d] = %s, want %s", i, got[i].ID, id)
		}
	}

	if reg.Count() != 4 {
		t.Errorf("Expected 4 indexed simulations, got %d", reg.Count())
	}
}

func TestRegistry_ListOwnerNormalizesAndSortsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry(env.sims)

	base := time.Date(2026, 5, 14, 18, 0, 0, 0, time.Local)
	reg.Add(saveMeta(t, env, "sim-old", "Fan@Example.COM", base.Add(-48*time.Hour)))
	reg.Add(saveMeta(t, env, "sim-new", "fan@example.com", base))
	reg.Add(saveMeta(t, env, "sim-other", "someone@example.com", base))

	// The owner index is case- and whitespace-insensitive.
	got := reg.ListOwner("  FAN@example.com ")
	if len(got) != 2 {
		t.Fatalf("Expected 2 simulations for owner, got %d", len(got))
	}
	if got[0].ID != "sim-new" || got[1].ID != "sim-old" {
		t.Errorf("Expected newest first [sim-new sim-old], got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestRegistry_AddIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry(env.sims)

	meta := saveMeta(t, env, "sim-1", "fan@example.com", time.Now())
	reg.Add(meta)
	reg.Add(meta)

	if reg.Count() != 1 {
		t.Errorf("Expected 1 indexed simulation after duplicate Add, got %d", reg.Count())
	}
	if got := reg.ListOwner("fan@example.com"); len(got) != 1 {
		t.Errorf("Expected 1 listing, got %d", len(got))
	}
}

func TestRegistry_MarkFinished(t *testing.T) {
	env := newTestEnv(t)
	reg := NewRegistry(env.sims)

	day := time.Date(2026, 5, 14, 18, 30, 0, 0, time.Local)
	reg.Add(saveMeta(t, env, "sim-1", "fan@example.com", day))

	reg.MarkFinished("sim-1")
	got := reg.ListDay(day)
	if len(got) != 1 {
		t.Fatalf("Expected 1 simulation, got %d", len(got))
	}
	if !got[0].Finished {
		t.Errorf("Expected simulation to be marked finished")
	}

	// Unknown IDs are ignored.
	reg.MarkFinished("no-such-sim")
}

func TestRegistry_RebuildsFromStore(t *testing.T) {
	env := newTestEnv(t)

	day := time.Date(2026, 5, 14, 0, 0, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		saveMeta(t, env, fmt.Sprintf("sim-%d", i), "fan@example.com", day.Add(time.Duration(10+i)*time.Hour))
	}

	// A fresh Registry over the same store re-indexes every simulation,
	// the way process restart does.
	reg := NewRegistry(env.sims)
	if reg.Count() != 5 {
		t.Fatalf("Expected 5 indexed simulations after rebuild, got %d", reg.Count())
	}
	got := reg.ListDay(day)
	if len(got) != 5 {
		t.Fatalf("Expected 5 simulations on the day, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].StartAt > got[i].StartAt {
			t.Errorf("ListDay out of order at %d: %d > %d", i, got[i-1].StartAt, got[i].StartAt)
		}
	}
}
