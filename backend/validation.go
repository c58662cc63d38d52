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
	"net/mail"
	"regexp"
)

// uuidRegex is a regex for standard UUIDs (8-4-4-4-12 hex digits)
var uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)

// isValidUUID checks if the string is a valid UUID.
func isValidUUID(id string) bool {
	return uuidRegex.MatchString(id)
}

func isValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

const maxIDLen = 128

// ValidateLineup checks one side's batting order: exactly nine distinct
// batters and a pitcher. The pitcher may also appear as a batter (DH-less
// rules), so only batter slots are checked for duplicates.
func ValidateLineup(side string, lu Lineup) error {
	if len(lu.BatterIDs) != LineupBatters {
		return fmt.Errorf("%s lineup must have exactly %d batters, got %d", side, LineupBatters, len(lu.BatterIDs))
	}
	seen := make(map[string]bool, LineupBatters)
	for i, id := range lu.BatterIDs {
		if id == "" {
			return fmt.Errorf("%s lineup slot %d is empty", side, i+1)
		}
		if len(id) > maxIDLen {
			return fmt.Errorf("%s lineup slot %d: player ID too long", side, i+1)
		}
		if seen[id] {
			return fmt.Errorf("%s lineup lists player %s twice", side, id)
		}
		seen[id] = true
	}
	if lu.PitcherID == "" {
		return fmt.Errorf("%s lineup is missing a pitcher", side)
	}
	if len(lu.PitcherID) > maxIDLen {
		return fmt.Errorf("%s pitcher ID too long", side)
	}
	return nil
}

// ValidateSimulation checks a simulation record before it is stored.
func ValidateSimulation(sim *Simulation) error {
	if !isValidUUID(sim.ID) {
		return fmt.Errorf("invalid simulation ID format: %s", sim.ID)
	}
	if sim.HomeTeamID == "" || sim.AwayTeamID == "" {
		return fmt.Errorf("simulation must name both teams")
	}
	if sim.HomeTeamID == sim.AwayTeamID {
		return fmt.Errorf("a team cannot play itself")
	}
	if sim.StartAt <= 0 {
		return fmt.Errorf("simulation missing start time")
	}
	if sim.OwnerID == "" {
		return fmt.Errorf("simulation missing owner")
	}
	if err := ValidateLineup("home", sim.HomeLineup); err != nil {
		return err
	}
	return ValidateLineup("away", sim.AwayLineup)
}
