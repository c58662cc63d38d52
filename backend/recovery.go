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
	"os"
	"time"
)

// Recover re-registers jobs after a process restart:
//
//   - games still PLAYING whose simulation is scheduled today get their
//     recurring tick job back;
//   - simulations scheduled today whose start is still in the future get
//     their start/reminder one-shots back.
//
// All registrations are idempotent via the stable job keys, so running
// Recover twice (or racing the creation path) is harmless. Simulations on
// other days are not recovered; the creation path owns them.
func (e *Engine) Recover(now time.Time) {
	recoveredTicks := 0
	recoveredStarts := 0

	for meta, err := range e.Sims.ListAllSimulationMetadata() {
		if err != nil {
			log.Printf("[RECOVER] Metadata scan failed: %v", err)
			return
		}
		if meta.Finished {
			continue
		}
		if !sameDay(time.Unix(meta.StartAt, 0), now) {
			continue
		}

		state, err := e.States.LoadGameState(meta.ID)
		switch {
		case err == nil && state.Status == StatusPlaying:
			e.registerTickJob(meta.ID)
			recoveredTicks++
		case err == nil:
			// READY or terminal; nothing to re-register.
		case os.IsNotExist(err):
			// No state yet: the game has not started. Re-register the
			// one-shots still in the future.
			sim, err := e.Sims.LoadSimulation(meta.ID)
			if err != nil {
				log.Printf("[RECOVER] Cannot load simulation %s: %v", meta.ID, err)
				continue
			}
			if sim.StartTime().After(now) {
				e.ScheduleSimulationJobs(sim)
				recoveredStarts++
			}
		default:
			// Unreadable state. The game may be mid-play; re-registering
			// its start job would restart it, so leave it alone.
			log.Printf("[RECOVER] Cannot read game state for %s: %v", meta.ID, err)
		}
	}

	log.Printf("[RECOVER] Re-registered %d tick jobs and %d pending starts", recoveredTicks, recoveredStarts)
}

// sameDay reports whether two instants fall on the same calendar day in
// local time.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
