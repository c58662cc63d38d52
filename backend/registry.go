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
	"log"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const registryMetadataCacheSize = 4096

// Registry is the in-memory index of simulations: by owner and by calendar
// day. It lets list queries and the daily schedule view avoid scanning all
// files. The metadata LRU keeps hot entries; misses fall back to the store.
type Registry struct {
	sims *SimulationStore

	mu sync.RWMutex

	// Indexes: day key ("2026-05-14") and owner -> simulation IDs.
	byDay   map[string][]string
	byOwner map[string][]string

	metadata *lru.Cache[string, SimulationMetadata]

	simCount int
}

// NewRegistry builds the Registry by scanning the store's metadata.
func NewRegistry(sims *SimulationStore) *Registry {
	cache, _ := lru.New[string, SimulationMetadata](registryMetadataCacheSize)
	r := &Registry{
		sims:     sims,
		byDay:    make(map[string][]string),
		byOwner:  make(map[string][]string),
		metadata: cache,
	}
	r.rebuild()
	return r
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func (r *Registry) rebuild() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byDay = make(map[string][]string)
	r.byOwner = make(map[string][]string)
	r.simCount = 0

	for meta, err := range r.sims.ListAllSimulationMetadata() {
		if err != nil {
			log.Printf("Registry Warning: metadata scan failed: %v", err)
			return
		}
		r.indexLocked(meta)
	}
	log.Printf("Registry: indexed %d simulations", r.simCount)
}

func (r *Registry) indexLocked(meta SimulationMetadata) {
	day := dayKey(time.Unix(meta.StartAt, 0))
	owner := normalizeEmail(meta.OwnerID)

	for _, id := range r.byDay[day] {
		if id == meta.ID {
			r.metadata.Add(meta.ID, meta)
			return
		}
	}
	r.byDay[day] = append(r.byDay[day], meta.ID)
	r.byOwner[owner] = append(r.byOwner[owner], meta.ID)
	r.metadata.Add(meta.ID, meta)
	r.simCount++
}

// Add indexes a newly registered or updated simulation.
func (r *Registry) Add(meta SimulationMetadata) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexLocked(meta)
}

// MarkFinished updates the cached metadata for a finished simulation.
func (r *Registry) MarkFinished(simID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if meta, ok := r.metadata.Get(simID); ok {
		meta.Finished = true
		r.metadata.Add(simID, meta)
	}
}

// get returns metadata, consulting the cache first.
func (r *Registry) get(simID string) (SimulationMetadata, bool) {
	if meta, ok := r.metadata.Get(simID); ok {
		return meta, true
	}
	sim, err := r.sims.LoadSimulation(simID)
	if err != nil {
		return SimulationMetadata{}, false
	}
	meta := SimulationMetadata{
		ID:         sim.ID,
		HomeTeamID: sim.HomeTeamID,
		AwayTeamID: sim.AwayTeamID,
		StartAt:    sim.StartAt,
		Finished:   sim.Finished,
		OwnerID:    sim.OwnerID,
	}
	r.metadata.Add(simID, meta)
	return meta, true
}

// ListDay returns all simulations scheduled on one calendar day, ordered by
// start time.
func (r *Registry) ListDay(t time.Time) []SimulationMetadata {
	r.mu.RLock()
	ids := append([]string(nil), r.byDay[dayKey(t)]...)
	r.mu.RUnlock()

	out := make([]SimulationMetadata, 0, len(ids))
	for _, id := range ids {
		if meta, ok := r.get(id); ok {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt < out[j].StartAt })
	return out
}

// ListOwner returns all simulations registered by one owner, newest first.
func (r *Registry) ListOwner(owner string) []SimulationMetadata {
	r.mu.RLock()
	ids := append([]string(nil), r.byOwner[normalizeEmail(owner)]...)
	r.mu.RUnlock()

	out := make([]SimulationMetadata, 0, len(ids))
	for _, id := range ids {
		if meta, ok := r.get(id); ok {
			out = append(out, meta)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt > out[j].StartAt })
	return out
}

// Count returns the number of indexed simulations.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.simCount
}
