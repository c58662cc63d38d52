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

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ballpark-io/simball/backend"
	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"
)

var (
	addr             = flag.String("addr", ":8080", "The TCP address to listen to")
	useMockAuth      = flag.Bool("use-mock-auth", false, "Use Mock Authentication. For testing purposes only.")
	debugMode        = flag.Bool("debug", false, "Enable debug mode")
	dataDir          = flag.String("data-dir", "data", "Directory for simulation and game state data")
	predictorURL     = flag.String("predictor-url", "", "Base URL of the outcome predictor service (REQUIRED)")
	predictorTimeout = flag.Duration("predictor-timeout", 10*time.Second, "Per-call timeout for predictor requests")
	tickInterval     = flag.Duration("tick-interval", 20*time.Second, "Interval between at-bat ticks")
	schedWorkers     = flag.Int("scheduler-workers", 8, "Number of scheduler worker goroutines")
	authCookieName   = flag.String("auth-cookie-name", "simball_auth", "Name of the cookie containing the JWT")
	authJWKSURL      = flag.String("auth-jwks-url", "", "Comma-separated list of [ISSUER=]URL for JWKS endpoints")
)

// main starts the web server, recovers today's simulations and waits for a
// shutdown signal.
func main() {
	flag.Parse()

	if *predictorURL == "" {
		log.Fatal("--predictor-url is required")
	}

	// Initialize Encryption Key and Storage
	var masterKey crypto.MasterKey
	if passphrase := os.Getenv("SIMBALL_MASTER_KEY"); passphrase != "" {
		keyFile := filepath.Join(*dataDir, "master.key")
		// Ensure data dir exists for key file
		os.MkdirAll(*dataDir, 0755)

		var err error
		masterKey, err = crypto.ReadMasterKey([]byte(passphrase), keyFile)
		if err != nil {
			if os.IsNotExist(err) {
				log.Println("Initializing new master encryption key...")
				masterKey, err = crypto.CreateMasterKey()
				if err != nil {
					log.Fatalf("Failed to create master key: %v", err)
				}
				if err := masterKey.Save([]byte(passphrase), keyFile); err != nil {
					log.Fatalf("Failed to save master key: %v", err)
				}
			} else {
				log.Fatalf("Failed to read master key: %v", err)
			}
		} else {
			log.Println("Loaded master encryption key.")
		}
	} else {
		keyFile := filepath.Join(*dataDir, "master.key")
		if _, err := os.Stat(keyFile); err == nil {
			log.Fatalf("Critical Security Error: %s exists but SIMBALL_MASTER_KEY is not set. Refusing to start in unencrypted mode to prevent data corruption or exposure.", keyFile)
		}
		log.Println("Warning: No SIMBALL_MASTER_KEY provided. Data will be stored UNENCRYPTED.")
	}

	store := storage.New(*dataDir, masterKey)
	store.EnableCompression(true)

	server, err := backend.StartServer(backend.Options{
		Addr:             *addr,
		DataDir:          *dataDir,
		UseMockAuth:      *useMockAuth,
		Debug:            *debugMode,
		Storage:          store,
		MasterKey:        masterKey,
		PredictorURL:     *predictorURL,
		PredictorTimeout: *predictorTimeout,
		TickInterval:     *tickInterval,
		SchedulerWorkers: *schedWorkers,
		AuthCookieName:   *authCookieName,
		AuthJWKSURL:      *authJWKSURL,
	})
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Re-register jobs for any of today's simulations that were in flight
	// when the previous process stopped.
	server.Engine().Recover(time.Now())

	// Wait for interrupt signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Shutdown error: %v", err)
	} else {
		log.Println("Gracefully stopped.")
	}
}
