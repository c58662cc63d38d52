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
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
)

// StartGame transitions a simulation into play: it validates that no game
// state exists yet, derives the first batter and pitcher from the lineups,
// creates the PLAYING state and registers the recurring tick job.
func (e *Engine) StartGame(simID string) error {
	lock := e.Locks.Acquire(simID)
	lock.Lock()
	defer lock.Unlock()

	sim, err := e.Sims.LoadSimulation(simID)
	if err != nil {
		return fmt.Errorf("load simulation: %w", err)
	}
	if sim.Finished {
		return fmt.Errorf("simulation %s already finished", simID)
	}
	if e.States.Exists(simID) {
		// Already started; make sure the tick job is on the schedule and
		// treat the call as a replay.
		if state, err := e.States.LoadGameState(simID); err == nil && state.Status == StatusPlaying {
			e.registerTickJob(simID)
		}
		return nil
	}

	state := &GameState{
		SimulationID:     simID,
		SchemaVersion:    CurrentSchemaVersion,
		Inning:           1,
		Half:             HalfTop,
		Status:           StatusPlaying,
		NextBatterID:     sim.AwayLineup.BatterIDs[0],
		CurrentPitcherID: sim.HomeLineup.PitcherID,
		UpdatedAt:        time.Now().Unix(),
	}
	if err := e.States.SaveGameState(state); err != nil {
		return fmt.Errorf("create game state: %w", err)
	}

	e.registerTickJob(simID)
	e.Metrics.GamesStarted.Add(1)
	log.Printf("[TICK] Simulation %s started: %s vs %s", simID, sim.AwayTeamID, sim.HomeTeamID)

	if err := e.Publisher.Notify(sim.OwnerID, EventGameStarted, simID, map[string]any{
		"homeTeam": sim.HomeTeamID,
		"awayTeam": sim.AwayTeamID,
	}); err != nil {
		log.Printf("[NOTIFY] Failed to send %s for simulation %s: %v", EventGameStarted, simID, err)
	}
	return nil
}

// AdvanceAtBat advances one simulation by exactly one at-bat. It is the body
// of the recurring tick job. The whole read-predict-apply-append sequence
// runs under the simulation's lock; the lock is released only after the
// updated state and the at-bat record are durably written.
//
// A failed predictor call aborts the tick without touching state; the next
// scheduled firing retries. Data inconsistencies (missing players, malformed
// situations) count toward the poison-tick threshold.
func (e *Engine) AdvanceAtBat(simID string) error {
	lock := e.Locks.Acquire(simID)
	lock.Lock()
	defer lock.Unlock()

	started := time.Now()

	state, err := e.States.LoadGameState(simID)
	if err != nil {
		if os.IsNotExist(err) {
			e.noteHardFailure(simID)
			return fmt.Errorf("no game state for simulation %s", simID)
		}
		return fmt.Errorf("load game state: %w", err)
	}

	if state.Terminal() {
		// Normal completion path: the job may fire once more after the
		// finishing tick cancelled it. Cancel again; it is idempotent.
		e.Scheduler.Cancel(JobKey(JobPrefixTick, simID))
		return nil
	}
	if state.Status != StatusPlaying {
		// Defensive; should not occur under correct scheduling.
		log.Printf("[TICK] Simulation %s tick fired with status %s, skipping", simID, state.Status)
		return nil
	}

	sim, err := e.Sims.LoadSimulation(simID)
	if err != nil {
		e.noteHardFailure(simID)
		return fmt.Errorf("load simulation: %w", err)
	}

	batter, pitcher, orderPos, err := e.resolveMatchup(sim, state)
	if err != nil {
		e.noteHardFailure(simID)
		return err
	}

	req := &PredictorRequest{
		SimulationID: simID,
		HomeTeam:     sim.HomeTeamID,
		AwayTeam:     sim.AwayTeamID,
		Inning:       state.Inning,
		Half:         state.Half,
		Outs:         state.Outs,
		Base1:        state.Base1,
		Base2:        state.Base2,
		Base3:        state.Base3,
		HomeScore:    state.HomeScore,
		AwayScore:    state.AwayScore,
		Batter:       PredictorPlayer{ID: batter.ID, Type: PlayerTypeBatter, Batting: batter.Batting},
		Pitcher:      PredictorPlayer{ID: pitcher.ID, Type: PlayerTypePitcher, Pitching: pitcher.Pitching},
	}

	predictStart := time.Now()
	resp, err := e.Predictor.Predict(context.Background(), req)
	e.Metrics.PredictorLatency.Observe(time.Since(predictStart))
	if err != nil {
		// Transient external failure: abort without mutating anything. The
		// recurring job retries at its next firing.
		e.Metrics.PredictorErrors.Add(1)
		return fmt.Errorf("predict: %w", err)
	}

	before := state.Situation()
	attackingHome := state.AttackingIsHome()

	if err := state.ApplySituation(resp.Situation()); err != nil {
		e.noteHardFailure(simID)
		return fmt.Errorf("apply outcome: %w", err)
	}

	// Exactly one side's batting order advances: the side that just batted.
	if attackingHome {
		state.HomeBatterIdx = (state.HomeBatterIdx + 1) % LineupBatters
	} else {
		state.AwayBatterIdx = (state.AwayBatterIdx + 1) % LineupBatters
	}
	state.UpdatedAt = time.Now().Unix()

	record := &AtBat{
		ID:            uuid.NewString(),
		SimulationID:  simID,
		Inning:        before.Inning,
		Half:          before.Half,
		OrderPos:      orderPos,
		PitcherID:     pitcher.ID,
		BatterID:      batter.ID,
		Before:        before,
		Outcome:       resp.Result,
		OutcomeKorean: resp.ResultKorean,
		RBI:           resp.RBI,
		Probabilities: resp.Probabilities,
		CreatedAt:     time.Now().Unix(),
	}
	if record.OutcomeKorean == "" {
		record.OutcomeKorean = outcomeKorean[resp.Result]
	}

	if resp.GameEnded {
		state.Status = StatusFinished
		state.Winner = resp.Winner
		if state.Winner == "" {
			state.Winner = deriveWinner(state.HomeScore, state.AwayScore)
		}
		state.NextBatterID = ""
		state.CurrentPitcherID = ""
	} else if err := e.setOnDeck(sim, state); err != nil {
		e.noteHardFailure(simID)
		return err
	}

	record.After = state.Situation()

	if err := e.States.SaveGameState(state); err != nil {
		e.noteHardFailure(simID)
		return fmt.Errorf("persist game state: %w", err)
	}
	if err := e.AtBats.Append(record); err != nil {
		// State is already durable; the at-bat row is the audit trail and
		// losing it is a hard error worth surfacing loudly.
		e.noteHardFailure(simID)
		return fmt.Errorf("append at-bat: %w", err)
	}

	e.clearHardFailures(simID)
	e.Metrics.TicksApplied.Add(1)
	e.Metrics.TickLatency.Observe(time.Since(started))

	if e.Hub != nil {
		e.Hub.BroadcastEvent(simID, MsgTypeAtBat, resp.Result, record)
	}

	if e.Debug {
		log.Printf("[TICK] Simulation %s: %s (%s) inning %d %s, %d-%d",
			simID, resp.Result, batter.ID, state.Inning, state.Half, state.AwayScore, state.HomeScore)
	}

	if resp.GameEnded {
		e.finishGame(sim, state)
	}
	return nil
}

// resolveMatchup returns the current batter, the defending pitcher and the
// batting-order position implied by the half.
func (e *Engine) resolveMatchup(sim *Simulation, state *GameState) (*Player, *Player, int, error) {
	attacking, defending := sim.AwayLineup, sim.HomeLineup
	orderPos := state.AwayBatterIdx
	if state.AttackingIsHome() {
		attacking, defending = sim.HomeLineup, sim.AwayLineup
		orderPos = state.HomeBatterIdx
	}
	if len(attacking.BatterIDs) != LineupBatters {
		return nil, nil, 0, fmt.Errorf("simulation %s lineup has %d batters", sim.ID, len(attacking.BatterIDs))
	}

	batterID := attacking.BatterIDs[orderPos%LineupBatters]
	batter, err := e.Players.LoadPlayer(batterID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("resolve batter %s: %w", batterID, err)
	}
	pitcher, err := e.Players.LoadPlayer(defending.PitcherID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("resolve pitcher %s: %w", defending.PitcherID, err)
	}
	return batter, pitcher, orderPos, nil
}

// setOnDeck recomputes NextBatterID and CurrentPitcherID for the next
// at-bat, so consumers of the state can display on-deck information.
func (e *Engine) setOnDeck(sim *Simulation, state *GameState) error {
	attacking, defending := sim.AwayLineup, sim.HomeLineup
	idx := state.AwayBatterIdx
	if state.AttackingIsHome() {
		attacking, defending = sim.HomeLineup, sim.AwayLineup
		idx = state.HomeBatterIdx
	}
	if len(attacking.BatterIDs) != LineupBatters {
		return fmt.Errorf("simulation %s lineup has %d batters", sim.ID, len(attacking.BatterIDs))
	}
	state.NextBatterID = attacking.BatterIDs[idx%LineupBatters]
	state.CurrentPitcherID = defending.PitcherID
	return nil
}

// finishGame handles the terminal bookkeeping after the finishing state is
// durable: flip the simulation's finished flag, cancel the recurring job and
// route the game-ended event.
func (e *Engine) finishGame(sim *Simulation, state *GameState) {
	if err := e.Sims.MarkFinished(sim.ID); err != nil {
		log.Printf("[TICK] Failed to mark simulation %s finished: %v", sim.ID, err)
	}
	if e.Registry != nil {
		e.Registry.MarkFinished(sim.ID)
	}
	e.Scheduler.Cancel(JobKey(JobPrefixTick, sim.ID))
	e.clearHardFailures(sim.ID)
	e.Metrics.GamesFinished.Add(1)

	log.Printf("[TICK] Simulation %s finished: winner=%s, %d-%d",
		sim.ID, state.Winner, state.AwayScore, state.HomeScore)

	if err := e.Publisher.Notify(sim.OwnerID, EventGameEnded, sim.ID, map[string]any{
		"winner":    state.Winner,
		"homeScore": state.HomeScore,
		"awayScore": state.AwayScore,
	}); err != nil {
		log.Printf("[NOTIFY] Failed to send %s for simulation %s: %v", EventGameEnded, sim.ID, err)
	}
}

func deriveWinner(homeScore, awayScore int) string {
	switch {
	case homeScore > awayScore:
		return WinnerHome
	case awayScore > homeScore:
		return WinnerAway
	}
	return WinnerTie
}
