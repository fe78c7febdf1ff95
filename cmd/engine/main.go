package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/parcelworks/zipnet-engine/internal/api"
	"github.com/parcelworks/zipnet-engine/internal/coordinator"
	"github.com/parcelworks/zipnet-engine/internal/db"
	"github.com/parcelworks/zipnet-engine/internal/scraper"
	"github.com/parcelworks/zipnet-engine/internal/storage"
	"github.com/parcelworks/zipnet-engine/internal/validator"
)

func main() {
	log.Println("Starting Zipnet Subnet Engine (coordinator + validator)...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	dbUrl := requireEnv("DATABASE_URL")

	dbConn, err := db.Connect(dbUrl)
	if err != nil {
		log.Printf("Warning: Failed to connect to PostgreSQL, continuing without epoch persistence. Error: %v", err)
		dbConn = nil
	} else {
		defer dbConn.Close()
		if err := dbConn.InitSchema(); err != nil {
			log.Printf("Warning: DB schema init failed: %v", err)
		}
	}

	storageRoot := getEnvOrDefault("STORAGE_ROOT", "./data")
	store, err := storage.NewFSStore(storageRoot)
	if err != nil {
		log.Fatalf("FATAL: storage root %s unusable: %v", storageRoot, err)
	}

	validatorID := getEnvOrDefault("VALIDATOR_ID", "validator-1")

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	// Epoch scheduler on the 4-hour UTC grid
	selectorCfg := coordinator.DefaultSelectorConfig()
	if raw := os.Getenv("EPOCH_TARGET_LISTINGS"); raw != "" {
		target, err := strconv.Atoi(raw)
		if err != nil || target <= 0 {
			log.Fatalf("FATAL: EPOCH_TARGET_LISTINGS must be a positive integer, got %q", raw)
		}
		selectorCfg.TargetListings = target
	}
	coord := coordinator.New(dbConn, wsHub, selectorCfg, time.Now().UnixNano())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	// Validation loop: fires after each epoch closes, publishes consensus
	// outcomes to the stream.
	runner := validator.NewRunner(validatorID, store, scraper.NewSynthetic(), dbConn)
	runner.OnConsensus = api.BroadcastConsensus(wsHub)
	runner.OnHoneypot = api.BroadcastHoneypotAlert(wsHub)
	go runner.Watch(ctx)

	// Setup the Gin Router
	r := api.SetupRouter(coord, dbConn, wsHub)

	port := getEnvOrDefault("PORT", "5339")

	// Start the server
	log.Printf("Engine running on :%s (validator id: %s)\n", port, validatorID)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not set.
// This prevents the binary from starting with missing critical configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
