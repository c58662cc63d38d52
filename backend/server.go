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
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
	"github.com/google/uuid"
)

func generateETag(data []byte) string {
	return fmt.Sprintf("\"%x\"", sha256.Sum256(data))
}

func parsePagination(r *http.Request) (int, int) {
	limit := 50
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if val, err := strconv.Atoi(o); err == nil {
			offset = val
		}
	}

	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// Options represent server options.
type Options struct {
	Addr      string
	DataDir   string
	Debug     bool
	Storage   *storage.Storage
	MasterKey crypto.MasterKey
	Listener  net.Listener

	// Injected collaborators. Nil fields get defaults built from DataDir.
	SimStore   *SimulationStore
	StateStore *GameStateStore
	PlayerStor *PlayerStore
	AtBatLog   *AtBatLog
	Registry   *Registry
	Engine     *Engine
	Predictor  OutcomePredictor

	// Predictor Options
	PredictorURL     string
	PredictorTimeout time.Duration

	// Scheduling Options
	TickInterval     time.Duration
	SchedulerWorkers int

	// Auth Options
	UseMockAuth    bool
	AuthCookieName string
	AuthJWKSURL    string
}

// Server represents the running server instance.
type Server struct {
	httpServer *http.Server
	engine     *Engine
	sampleQuit chan struct{}
}

// Engine returns the simulation engine backing this server.
func (s *Server) Engine() *Engine {
	return s.engine
}

// Shutdown gracefully shuts down the HTTP server and the scheduler.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []string

	close(s.sampleQuit)
	if s.engine != nil && s.engine.Scheduler != nil {
		s.engine.Scheduler.Shutdown()
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Sprintf("http: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %s", strings.Join(errs, ", "))
	}
	return nil
}

// StartServer starts the web server and registers the API handlers.
func StartServer(opts Options) (*Server, error) {
	engine, handler := NewServerHandler(opts)

	httpServer := &http.Server{
		Addr:    opts.Addr,
		Handler: handler,
	}

	srv := &Server{
		httpServer: httpServer,
		engine:     engine,
		sampleQuit: make(chan struct{}),
	}

	// Periodic metric roll-up for the time-series buffers.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				engine.Metrics.Sample(now)
			case <-srv.sampleQuit:
				return
			}
		}
	}()

	go func() {
		var err error
		if opts.Listener != nil {
			log.Printf("Starting HTTP server on provided listener %s...", opts.Listener.Addr())
			err = httpServer.Serve(opts.Listener)
		} else {
			log.Printf("Server starting on port %s...\n", opts.Addr)
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, net.ErrClosed) && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	return srv, nil
}

// NewServerHandler creates and configures the HTTP handler for the server,
// building any collaborators not supplied in opts.
func NewServerHandler(opts Options) (*Engine, http.Handler) {
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}

	if opts.Storage == nil {
		opts.Storage = storage.New(opts.DataDir, opts.MasterKey)
	}

	sims := opts.SimStore
	if sims == nil {
		sims = NewSimulationStore(opts.DataDir, opts.Storage)
	}
	states := opts.StateStore
	if states == nil {
		states = NewGameStateStore(opts.DataDir, opts.Storage)
	}
	players := opts.PlayerStor
	if players == nil {
		players = NewPlayerStore(opts.DataDir, opts.Storage)
	}
	atbats := opts.AtBatLog
	if atbats == nil {
		atbats = NewAtBatLog(opts.DataDir, opts.Storage)
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry(sims)
	}

	hm := NewHubManager()

	engine := opts.Engine
	if engine == nil {
		predictor := opts.Predictor
		if predictor == nil && opts.PredictorURL != "" {
			timeout := opts.PredictorTimeout
			if timeout <= 0 {
				timeout = DefaultPredictorTimeout
			}
			predictor = NewHTTPPredictor(opts.PredictorURL, timeout)
		}
		workers := opts.SchedulerWorkers
		if workers <= 0 {
			workers = 8
		}
		engine = NewEngine(EngineConfig{
			Sims:      sims,
			States:    states,
			Players:   players,
			AtBats:    atbats,
			Scheduler: NewScheduler(workers),
			Predictor: predictor,
			Publisher: &DedupPublisher{
				Inner:   MultiPublisher{LogPublisher{}, &HubPublisher{HM: hm}},
				SentLog: NewSentLog(opts.Storage),
			},
			Hub:          hm,
			Registry:     registry,
			TickInterval: opts.TickInterval,
			Debug:        opts.Debug,
		})
	} else if engine.Hub == nil {
		engine.Hub = hm
	}

	debugf := func(string, ...any) {}
	if opts.Debug {
		debugf = func(f string, a ...any) {
			log.Printf("[DEBUG BACKEND] "+f, a...)
		}
	}
	mux := http.NewServeMux()

	// Register a new simulation and its start/reminder jobs.
	mux.HandleFunc("/api/simulations", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			userId := getUserID(r)
			if userId == "" || !isValidEmail(userId) {
				http.Error(w, "Forbidden: Invalid User ID", http.StatusForbidden)
				return
			}

			var req struct {
				HomeTeamID string `json:"homeTeamId"`
				AwayTeamID string `json:"awayTeamId"`
				HomeLineup Lineup `json:"homeLineup"`
				AwayLineup Lineup `json:"awayLineup"`
				StartAt    int64  `json:"startAt"`
			}
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1048576)).Decode(&req); err != nil {
				http.Error(w, "Bad Request: Malformed JSON", http.StatusBadRequest)
				return
			}

			sim := &Simulation{
				ID:         uuid.NewString(),
				HomeTeamID: req.HomeTeamID,
				AwayTeamID: req.AwayTeamID,
				HomeLineup: req.HomeLineup,
				AwayLineup: req.AwayLineup,
				StartAt:    req.StartAt,
				OwnerID:    userId,
			}
			if err := engine.RegisterSimulation(sim); err != nil {
				debugf("RegisterSimulation: %v", err)
				http.Error(w, fmt.Sprintf("Bad Request: %v", err), http.StatusBadRequest)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(sim)

		case http.MethodGet:
			listSimulations(registry, w, r)

		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})

	// Simulation sub-resources: /api/simulations/{id}[/start|/state|/atbats]
	mux.HandleFunc("/api/simulations/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/simulations/")
		simId, action, _ := strings.Cut(rest, "/")
		if simId == "" || !isValidUUID(simId) {
			http.Error(w, "Bad Request: simulationId is missing or invalid", http.StatusBadRequest)
			return
		}

		switch action {
		case "":
			if r.Method != http.MethodGet {
				http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
				return
			}
			sim, err := sims.LoadSimulation(simId)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					http.Error(w, "Not Found: Simulation not found", http.StatusNotFound)
				} else {
					log.Printf("Error loading simulation %s: %v", simId, err)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sim)

		case "start":
			if r.Method != http.MethodPost {
				http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
				return
			}
			userId := getUserID(r)
			sim, err := sims.LoadSimulation(simId)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					http.Error(w, "Not Found: Simulation not found", http.StatusNotFound)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}
			if !isOwner(userId, sim) {
				http.Error(w, "Forbidden: Only the owner may start the game", http.StatusForbidden)
				return
			}
			if err := engine.StartGame(simId); err != nil {
				log.Printf("StartGame %s: %v", simId, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, "Simulation %s started", simId)

		case "state":
			if r.Method != http.MethodGet {
				http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
				return
			}
			serveGameState(states, players, simId, w, r)

		case "atbats":
			if r.Method != http.MethodGet {
				http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
				return
			}
			serveAtBats(atbats, simId, w, r)

		default:
			http.Error(w, "Not Found", http.StatusNotFound)
		}
	})

	// Player records used for lineup validation and on-deck display.
	mux.HandleFunc("/api/players", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Forbidden: Invalid User ID", http.StatusForbidden)
			return
		}
		var p Player
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1048576)).Decode(&p); err != nil {
			http.Error(w, "Bad Request: Malformed JSON", http.StatusBadRequest)
			return
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if err := players.SavePlayer(&p); err != nil {
			log.Printf("Error saving player %s: %v", p.ID, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	})

	mux.HandleFunc("/api/players/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		playerId := strings.TrimPrefix(r.URL.Path, "/api/players/")
		if playerId == "" || len(playerId) > maxIDLen {
			http.Error(w, "Bad Request: playerId is missing or invalid", http.StatusBadRequest)
			return
		}
		p, err := players.LoadPlayer(playerId)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				http.Error(w, "Not Found: Player not found", http.StatusNotFound)
			} else {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	})

	// Live at-bat feed for spectators.
	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		simId := r.URL.Query().Get("simulationId")
		if simId == "" || !isValidUUID(simId) {
			http.Error(w, "Bad Request: simulationId is missing or invalid", http.StatusBadRequest)
			return
		}
		serveWS(hm, w, r, simId)
	})

	mux.HandleFunc("/api/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		snap := engine.Metrics.Snapshot()
		snap["simulations"] = registry.Count()
		snap["activeJobs"] = engine.Scheduler.ActiveJobs()
		snap["activeLocks"] = engine.Locks.Len()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	})

	// User status endpoint.
	mux.HandleFunc("/api/me", func(w http.ResponseWriter, r *http.Request) {
		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Unauthenticated", http.StatusForbidden)
			return
		}
		owned := registry.ListOwner(userId)
		resp := map[string]any{
			"id":          userId,
			"simulations": len(owned),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	handler := http.Handler(mux)
	if opts.UseMockAuth {
		handler = mockAuthMiddleware(opts, handler)
	} else {
		handler = jwtAuthMiddleware(opts, handler)
	}
	handler = loggingMiddleware(handler)
	handler = securityMiddleware(handler)

	return engine, handler
}

// listSimulations serves GET /api/simulations. Default is today's slate;
// ?day=YYYY-MM-DD selects another day and ?mine=true lists the caller's own.
func listSimulations(registry *Registry, w http.ResponseWriter, r *http.Request) {
	var metas []SimulationMetadata
	if r.URL.Query().Get("mine") == "true" {
		userId := getUserID(r)
		if userId == "" || !isValidEmail(userId) {
			http.Error(w, "Forbidden: Invalid User ID", http.StatusForbidden)
			return
		}
		metas = registry.ListOwner(userId)
	} else {
		day := time.Now()
		if d := r.URL.Query().Get("day"); d != "" {
			parsed, err := time.ParseInLocation("2006-01-02", d, time.Local)
			if err != nil {
				http.Error(w, "Bad Request: invalid day format, want YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			day = parsed
		}
		metas = registry.ListDay(day)
	}

	limit, offset := parsePagination(r)
	total := len(metas)
	var page []SimulationMetadata
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = metas[offset:end]
	}
	if page == nil {
		page = []SimulationMetadata{}
	}

	respData := struct {
		Data []SimulationMetadata `json:"data"`
		Meta struct {
			Total  int `json:"total"`
			Offset int `json:"offset"`
			Limit  int `json:"limit"`
		} `json:"meta"`
	}{
		Data: page,
	}
	respData.Meta.Total = total
	respData.Meta.Offset = offset
	respData.Meta.Limit = limit

	response, err := json.Marshal(respData)
	if err != nil {
		log.Printf("Internal Server Error during JSON Marshal: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	etag := generateETag(response)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.Write(response)
}

// onDeckView is the resolved player info attached to a game state response.
type onDeckView struct {
	ID      string        `json:"id"`
	Name    string        `json:"name,omitempty"`
	Batting *BattingStats `json:"batting,omitempty"`
}

type pitcherView struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Pitching *PitchingStats `json:"pitching,omitempty"`
}

// serveGameState returns the current game state with the on-deck batter and
// current pitcher resolved to player records where they exist.
func serveGameState(states *GameStateStore, players *PlayerStore, simId string, w http.ResponseWriter, r *http.Request) {
	state, err := states.LoadGameState(simId)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			http.Error(w, "Not Found: Game has not started", http.StatusNotFound)
		} else {
			log.Printf("Error loading game state %s: %v", simId, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	resp := struct {
		*GameState
		NextBatter     *onDeckView  `json:"nextBatter,omitempty"`
		CurrentPitcher *pitcherView `json:"currentPitcher,omitempty"`
	}{GameState: state}

	if state.NextBatterID != "" {
		v := &onDeckView{ID: state.NextBatterID}
		if p, err := players.LoadPlayer(state.NextBatterID); err == nil {
			v.Name = p.Name
			v.Batting = p.Batting
		}
		resp.NextBatter = v
	}
	if state.CurrentPitcherID != "" {
		v := &pitcherView{ID: state.CurrentPitcherID}
		if p, err := players.LoadPlayer(state.CurrentPitcherID); err == nil {
			v.Name = p.Name
			v.Pitching = p.Pitching
		}
		resp.CurrentPitcher = v
	}

	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	etag := generateETag(data)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// serveAtBats returns the recorded at-bats for a simulation, oldest first.
func serveAtBats(atbats *AtBatLog, simId string, w http.ResponseWriter, r *http.Request) {
	all, err := atbats.List(simId)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Error loading at-bats for %s: %v", simId, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	limit, offset := parsePagination(r)
	total := len(all)
	var page []AtBat
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = all[offset:end]
	}
	if page == nil {
		page = []AtBat{}
	}

	respData := struct {
		Data []AtBat `json:"data"`
		Meta struct {
			Total  int `json:"total"`
			Offset int `json:"offset"`
			Limit  int `json:"limit"`
		} `json:"meta"`
	}{
		Data: page,
	}
	respData.Meta.Total = total
	respData.Meta.Offset = offset
	respData.Meta.Limit = limit

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(respData)
}

// securityMiddleware adds HTTP security headers to responses.
func securityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs the method and URL path of every incoming HTTP request.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("Received request: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
