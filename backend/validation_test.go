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
	"strings"
	"testing"

	"github.com/google/uuid"
)

func validLineup(prefix string) Lineup {
	batters := make([]string, 0, LineupBatters)
	for i := 1; i <= LineupBatters; i++ {
		batters = append(batters, prefix+"-"+string(rune('0'+i)))
	}
	return Lineup{BatterIDs: batters, PitcherID: prefix + "-p"}
}

func TestValidateLineup(t *testing.T) {
	if err := ValidateLineup("home", validLineup("h")); err != nil {
		t.Errorf("Valid lineup rejected: %v", err)
	}

	// The pitcher batting for himself is legal.
	lu := validLineup("h")
	lu.BatterIDs[8] = lu.PitcherID
	if err := ValidateLineup("home", lu); err != nil {
		t.Errorf("Pitcher in the batting order rejected: %v", err)
	}

	for _, tc := range []struct {
		name   string
		mutate func(*Lineup)
	}{
		{"eight batters", func(lu *Lineup) { lu.BatterIDs = lu.BatterIDs[:8] }},
		{"ten batters", func(lu *Lineup) { lu.BatterIDs = append(lu.BatterIDs, "h-10") }},
		{"duplicate batter", func(lu *Lineup) { lu.BatterIDs[3] = lu.BatterIDs[0] }},
		{"empty slot", func(lu *Lineup) { lu.BatterIDs[5] = "" }},
		{"missing pitcher", func(lu *Lineup) { lu.PitcherID = "" }},
		{"oversized ID", func(lu *Lineup) { lu.BatterIDs[0] = strings.Repeat("x", 200) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lu := validLineup("h")
			tc.mutate(&lu)
			if err := ValidateLineup("home", lu); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestValidateSimulation(t *testing.T) {
	valid := func() *Simulation {
		return &Simulation{
			ID:         uuid.NewString(),
			HomeTeamID: "LIONS",
			AwayTeamID: "BEARS",
			HomeLineup: validLineup("h"),
			AwayLineup: validLineup("a"),
			StartAt:    1777000000,
			OwnerID:    "fan@example.com",
		}
	}

	if err := ValidateSimulation(valid()); err != nil {
		t.Errorf("Valid simulation rejected: %v", err)
	}

	for _, tc := range []struct {
		name   string
		mutate func(*Simulation)
	}{
		{"malformed ID", func(s *Simulation) { s.ID = "not-a-uuid" }},
		{"missing home team", func(s *Simulation) { s.HomeTeamID = "" }},
		{"team plays itself", func(s *Simulation) { s.AwayTeamID = s.HomeTeamID }},
		{"missing start time", func(s *Simulation) { s.StartAt = 0 }},
		{"missing owner", func(s *Simulation) { s.OwnerID = "" }},
		{"broken away lineup", func(s *Simulation) { s.AwayLineup.PitcherID = "" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			sim := valid()
			tc.mutate(sim)
			if err := ValidateSimulation(sim); err == nil {
				t.Errorf("Expected validation error")
			}
		})
	}
}

func TestAuthHelpers(t *testing.T) {
	if got := normalizeEmail("  Fan@Example.COM "); got != "fan@example.com" {
		t.Errorf("normalizeEmail: got %q", got)
	}
	if got := maskEmail("fan@example.com"); got != "f***@example.com" {
		t.Errorf("maskEmail: got %q", got)
	}
	if got := maskEmail("garbage"); got != "****" {
		t.Errorf("maskEmail on junk: got %q", got)
	}
	if got := maskEmail(""); got != "<empty>" {
		t.Errorf("maskEmail on empty: got %q", got)
	}

	sim := &Simulation{OwnerID: "fan@example.com"}
	if !isOwner("FAN@example.com", sim) {
		t.Errorf("Owner check should be case-insensitive")
	}
	if isOwner("other@example.com", sim) {
		t.Errorf("Non-owner passed the owner check")
	}
	if isOwner("", sim) {
		t.Errorf("Empty user must never own anything")
	}

	if !isValidEmail("fan@example.com") {
		t.Errorf("Valid email rejected")
	}
	if isValidEmail("not-an-email") {
		t.Errorf("Junk accepted as email")
	}
}
