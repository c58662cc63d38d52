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
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine ties the stores, scheduler, predictor and publisher into the
// simulation engine. One Engine serves every simulation in the process;
// per-simulation serialization happens through the LockRegistry.
type Engine struct {
	Sims    *SimulationStore
	States  *GameStateStore
	Players *PlayerStore
	AtBats  *AtBatLog
	Locks   *LockRegistry

	Scheduler *Scheduler
	Predictor OutcomePredictor
	Publisher NotificationPublisher
	Metrics   *EngineMetrics

	// Hub receives at-bat broadcasts for spectators. Optional.
	Hub *HubManager

	// Registry is kept in sync with registered/finished simulations. Optional.
	Registry *Registry

	TickInterval time.Duration
	Debug        bool

	failMu    sync.Mutex
	hardFails map[string]int
}

// EngineConfig carries the collaborators for NewEngine. Nil optional fields
// get safe defaults.
type EngineConfig struct {
	Sims    *SimulationStore
	States  *GameStateStore
	Players *PlayerStore
	AtBats  *AtBatLog
	Locks   *LockRegistry

	Scheduler *Scheduler
	Predictor OutcomePredictor
	Publisher NotificationPublisher
	Metrics   *EngineMetrics
	Hub       *HubManager
	Registry  *Registry

	TickInterval time.Duration
	Debug        bool
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Locks == nil {
		cfg.Locks = NewLockRegistry()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = LogPublisher{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewEngineMetrics()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	return &Engine{
		Sims:         cfg.Sims,
		States:       cfg.States,
		Players:      cfg.Players,
		AtBats:       cfg.AtBats,
		Locks:        cfg.Locks,
		Scheduler:    cfg.Scheduler,
		Predictor:    cfg.Predictor,
		Publisher:    cfg.Publisher,
		Metrics:      cfg.Metrics,
		Hub:          cfg.Hub,
		Registry:     cfg.Registry,
		TickInterval: cfg.TickInterval,
		Debug:        cfg.Debug,
		hardFails:    make(map[string]int),
	}
}

// RegisterSimulation validates and stores a new simulation, then registers
// its start and reminder jobs. The request-approved notification goes out
// once, via the dedup publisher.
func (e *Engine) RegisterSimulation(sim *Simulation) error {
	if sim.ID == "" {
		sim.ID = uuid.NewString()
	}
	if sim.CreatedAt == 0 {
		sim.CreatedAt = time.Now().Unix()
	}
	if err := ValidateSimulation(sim); err != nil {
		return err
	}
	if err := e.validateLineupPlayers(sim); err != nil {
		return err
	}
	if err := e.Sims.SaveSimulation(sim); err != nil {
		return fmt.Errorf("save simulation: %w", err)
	}

	if e.Registry != nil {
		e.Registry.Add(SimulationMetadata{
			ID:         sim.ID,
			HomeTeamID: sim.HomeTeamID,
			AwayTeamID: sim.AwayTeamID,
			StartAt:    sim.StartAt,
			Finished:   sim.Finished,
			OwnerID:    sim.OwnerID,
		})
	}

	e.ScheduleSimulationJobs(sim)

	if err := e.Publisher.Notify(sim.OwnerID, EventRequestApproved, sim.ID, map[string]any{
		"startAt": sim.StartAt,
	}); err != nil {
		log.Printf("[NOTIFY] Failed to send %s for simulation %s: %v", EventRequestApproved, sim.ID, err)
	}
	return nil
}

// validateLineupPlayers checks that every lineup slot resolves to a stored
// player with the stats the predictor will need.
func (e *Engine) validateLineupPlayers(sim *Simulation) error {
	check := func(side string, lu Lineup) error {
		for i, id := range lu.BatterIDs {
			p, err := e.Players.LoadPlayer(id)
			if err != nil {
				return fmt.Errorf("%s batter %d (%s): %w", side, i+1, id, err)
			}
			if p.Batting == nil {
				return fmt.Errorf("%s batter %d (%s) has no batting stats", side, i+1, id)
			}
		}
		p, err := e.Players.LoadPlayer(lu.PitcherID)
		if err != nil {
			return fmt.Errorf("%s pitcher (%s): %w", side, lu.PitcherID, err)
		}
		if p.Pitching == nil {
			return fmt.Errorf("%s pitcher (%s) has no pitching stats", side, lu.PitcherID)
		}
		return nil
	}
	if err := check("home", sim.HomeLineup); err != nil {
		return err
	}
	return check("away", sim.AwayLineup)
}

// ScheduleSimulationJobs registers the start job and both reminder jobs for
// a simulation, skipping any whose firing time has already passed. Job keys
// are stable, so calling this again (creation path plus recovery) is
// harmless.
func (e *Engine) ScheduleSimulationJobs(sim *Simulation) {
	simID := sim.ID
	start := sim.StartTime()

	register := func(prefix string, at time.Time, fn func()) {
		err := e.Scheduler.ScheduleOneShot(JobKey(prefix, simID), at, fn)
		if err != nil {
			if e.Debug {
				log.Printf("[SCHED] Not registering %s for simulation %s: %v", prefix, simID, err)
			}
			return
		}
	}

	register(JobPrefixStart, start, func() {
		if err := e.StartGame(simID); err != nil {
			log.Printf("[TICK] Failed to start game for simulation %s: %v", simID, err)
		}
	})
	register(JobPrefixReminder10, start.Add(-Reminder10Offset), func() {
		e.sendReminder(simID, EventReminder10)
	})
	register(JobPrefixReminder5, start.Add(-Reminder5Offset), func() {
		e.sendReminder(simID, EventReminder5)
	})
}

func (e *Engine) sendReminder(simID, eventType string) {
	sim, err := e.Sims.LoadSimulation(simID)
	if err != nil {
		log.Printf("[NOTIFY] Reminder %s: cannot load simulation %s: %v", eventType, simID, err)
		return
	}
	if sim.Finished {
		return
	}
	if err := e.Publisher.Notify(sim.OwnerID, eventType, simID, map[string]any{
		"startAt": sim.StartAt,
	}); err != nil {
		log.Printf("[NOTIFY] Failed to send %s for simulation %s: %v", eventType, simID, err)
	}
}

// registerTickJob puts the recurring advance job on the schedule. Idempotent
// via the stable tick job key.
func (e *Engine) registerTickJob(simID string) {
	err := e.Scheduler.ScheduleRecurring(JobKey(JobPrefixTick, simID), e.TickInterval, func() {
		if err := e.AdvanceAtBat(simID); err != nil {
			log.Printf("[TICK] Simulation %s: %v", simID, err)
		}
	})
	if err != nil {
		log.Printf("[SCHED] Failed to register tick job for simulation %s: %v", simID, err)
	}
}

// noteHardFailure counts consecutive hard (data) failures for one
// simulation. Crossing the threshold marks the game STALLED and cancels its
// recurring job so a poisoned tick cannot retry forever.
func (e *Engine) noteHardFailure(simID string) {
	e.failMu.Lock()
	e.hardFails[simID]++
	n := e.hardFails[simID]
	e.failMu.Unlock()

	e.Metrics.TickFailures.Add(1)
	if n < PoisonTickThreshold {
		return
	}

	log.Printf("[TICK] Simulation %s hit %d consecutive hard failures, marking STALLED", simID, n)
	state, err := e.States.LoadGameState(simID)
	if err == nil && state.Status == StatusPlaying {
		state.Status = StatusStalled
		state.NextBatterID = ""
		state.CurrentPitcherID = ""
		state.UpdatedAt = time.Now().Unix()
		if err := e.States.SaveGameState(state); err != nil {
			log.Printf("[TICK] Failed to persist STALLED state for simulation %s: %v", simID, err)
		}
	}
	e.Scheduler.Cancel(JobKey(JobPrefixTick, simID))

	if sim, err := e.Sims.LoadSimulation(simID); err == nil {
		if err := e.Publisher.Notify(sim.OwnerID, EventSimStalled, simID, nil); err != nil {
			log.Printf("[NOTIFY] Failed to send %s for simulation %s: %v", EventSimStalled, simID, err)
		}
	}
}

func (e *Engine) clearHardFailures(simID string) {
	e.failMu.Lock()
	delete(e.hardFails, simID)
	e.failMu.Unlock()
}
