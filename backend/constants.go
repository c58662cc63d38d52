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

import "time"

// Schema Versions
const (
	SchemaVersionV1 = 1

	CurrentSchemaVersion = SchemaVersionV1
)

// Inning halves. TOP means the away side is batting, BOTTOM the home side.
const (
	HalfTop    = "TOP"
	HalfBottom = "BOTTOM"
)

// Game state statuses. Transitions only move forward: READY -> PLAYING -> FINISHED.
const (
	StatusReady    = "READY"
	StatusPlaying  = "PLAYING"
	StatusFinished = "FINISHED"
	// StatusStalled marks a game whose ticks kept failing hard and was taken
	// off the schedule. Terminal like FINISHED, but reached through the
	// poison-tick path rather than a predictor result.
	StatusStalled = "STALLED"
)

// Winner values for a finished game.
const (
	WinnerHome = "HOME"
	WinnerAway = "AWAY"
	WinnerTie  = "TIE"
)

// At-bat outcome codes as returned by the predictor.
const (
	OutcomeSingle     = "single"
	OutcomeDouble     = "double"
	OutcomeTriple     = "triple"
	OutcomeHomeRun    = "home_run"
	OutcomeWalk       = "walk"
	OutcomeHitByPitch = "hit_by_pitch"
	OutcomeStrikeout  = "strikeout"
	OutcomeGroundOut  = "ground_out"
	OutcomeFlyOut     = "fly_out"
	OutcomeLineOut    = "line_out"
	OutcomeDoublePlay = "double_play"
	OutcomeSacFly     = "sacrifice_fly"
	OutcomeFieldError = "error"
)

// outcomeKorean maps outcome codes to the localized text stored on at-bat
// records when the predictor does not provide its own.
var outcomeKorean = map[string]string{
	OutcomeSingle:     "안타",
	OutcomeDouble:     "2루타",
	OutcomeTriple:     "3루타",
	OutcomeHomeRun:    "홈런",
	OutcomeWalk:       "볼넷",
	OutcomeHitByPitch: "몸에 맞는 공",
	OutcomeStrikeout:  "삼진",
	OutcomeGroundOut:  "땅볼 아웃",
	OutcomeFlyOut:     "뜬공 아웃",
	OutcomeLineOut:    "직선타 아웃",
	OutcomeDoublePlay: "병살타",
	OutcomeSacFly:     "희생 플라이",
	OutcomeFieldError: "실책",
}

// Notification event types. Each type is sent at most once per simulation,
// enforced by the sent-notification log.
const (
	EventRequestApproved = "REQUEST_APPROVED"
	EventReminder10      = "REMINDER_10"
	EventReminder5       = "REMINDER_5"
	EventGameStarted     = "GAME_STARTED"
	EventGameEnded       = "GAME_ENDED"
	EventSimStalled      = "SIM_STALLED"
)

// Job key prefixes. A job key is prefix + ":" + simulation ID, so the same
// logical job can never be registered twice.
const (
	JobPrefixStart      = "start"
	JobPrefixReminder10 = "remind10"
	JobPrefixReminder5  = "remind5"
	JobPrefixTick       = "tick"
)

// Player types carried on predictor requests.
const (
	PlayerTypeBatter  = "batter"
	PlayerTypePitcher = "pitcher"
)

const (
	// LineupBatters is the number of batters each side must register.
	LineupBatters = 9

	// DefaultTickInterval is the cadence of the recurring advance job.
	DefaultTickInterval = 20 * time.Second

	// DefaultPredictorTimeout bounds one outbound predictor call.
	DefaultPredictorTimeout = 10 * time.Second

	// Reminder offsets before the scheduled first pitch.
	Reminder10Offset = 10 * time.Minute
	Reminder5Offset  = 5 * time.Minute

	// PoisonTickThreshold is the number of consecutive hard tick failures
	// after which a game is marked STALLED and taken off the schedule.
	PoisonTickThreshold = 5
)
