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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PredictorPlayer is the player block sent to the predictor: the batter
// carries batting stats, the pitcher pitching stats.
type PredictorPlayer struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Batting  *BattingStats  `json:"battingStats,omitempty"`
	Pitching *PitchingStats `json:"pitchingStats,omitempty"`
}

// PredictorRequest is the situation+players payload for one at-bat.
type PredictorRequest struct {
	SimulationID string          `json:"simulation_id"`
	HomeTeam     string          `json:"home_team"`
	AwayTeam     string          `json:"away_team"`
	Inning       int             `json:"inning"`
	Half         string          `json:"half"`
	Outs         int             `json:"outs"`
	Base1        *string         `json:"base1"`
	Base2        *string         `json:"base2"`
	Base3        *string         `json:"base3"`
	HomeScore    int             `json:"homeScore"`
	AwayScore    int             `json:"awayScore"`
	Batter       PredictorPlayer `json:"batter"`
	Pitcher      PredictorPlayer `json:"pitcher"`
}

// PredictorGameState is the post-at-bat situation returned by the predictor.
type PredictorGameState struct {
	Inning    int     `json:"inning"`
	Half      string  `json:"half"`
	Outs      int     `json:"outs"`
	Base1     *string `json:"base1"`
	Base2     *string `json:"base2"`
	Base3     *string `json:"base3"`
	HomeScore int     `json:"homeScore"`
	AwayScore int     `json:"awayScore"`
}

// PredictorResponse is one resolved at-bat outcome.
type PredictorResponse struct {
	BatterPNo     int                `json:"batter_p_no"`
	PitcherPNo    int                `json:"pitcher_p_no"`
	Result        string             `json:"result"`
	ResultKorean  string             `json:"result_korean"`
	RBI           int                `json:"rbi"`
	Probabilities map[string]float64 `json:"probabilities,omitempty"`
	GameEnded     bool               `json:"game_ended"`
	Winner        string             `json:"winner,omitempty"`
	NewGameState  PredictorGameState `json:"new_game_state"`
}

// Situation converts the predictor's post-at-bat state into a Situation.
func (r *PredictorResponse) Situation() Situation {
	return Situation{
		Inning:    r.NewGameState.Inning,
		Half:      r.NewGameState.Half,
		Outs:      r.NewGameState.Outs,
		Base1:     r.NewGameState.Base1,
		Base2:     r.NewGameState.Base2,
		Base3:     r.NewGameState.Base3,
		HomeScore: r.NewGameState.HomeScore,
		AwayScore: r.NewGameState.AwayScore,
	}
}

// OutcomePredictor resolves one at-bat. Implementations must be safe for
// concurrent use; ticks for distinct simulations call it in parallel.
type OutcomePredictor interface {
	Predict(ctx context.Context, req *PredictorRequest) (*PredictorResponse, error)
}

// HTTPPredictor talks to the remote prediction model over HTTP.
type HTTPPredictor struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPPredictor creates an HTTPPredictor with the given endpoint and
// per-call timeout. timeout <= 0 selects the default.
func NewHTTPPredictor(url string, timeout time.Duration) *HTTPPredictor {
	if timeout <= 0 {
		timeout = DefaultPredictorTimeout
	}
	return &HTTPPredictor{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Predict posts the request and decodes the resolved outcome. Any transport
// error, non-200 status or malformed body is returned as an error; the
// caller treats it as a failed tick and leaves state untouched.
func (p *HTTPPredictor) Predict(ctx context.Context, req *PredictorRequest) (*PredictorResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal predictor request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build predictor request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("predictor call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a little of the body for the log; predictors tend to put the
		// reason there.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("predictor returned %d: %s", resp.StatusCode, snippet)
	}

	var out PredictorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode predictor response: %w", err)
	}
	if out.Result == "" {
		return nil, fmt.Errorf("predictor response missing result")
	}
	return &out, nil
}
