package main

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/parcelworks/zipnet-engine/internal/miner"
	"github.com/parcelworks/zipnet-engine/internal/scraper"
	"github.com/parcelworks/zipnet-engine/internal/storage"
)

func main() {
	log.Println("Starting Zipnet miner...")

	minerID := requireEnv("MINER_ID")
	coordinatorURL := getEnvOrDefault("COORDINATOR_URL", "http://localhost:5339")
	storageRoot := getEnvOrDefault("STORAGE_ROOT", "./data")

	// MINER_KEY is the hex HMAC key registered with the coordinator. Empty
	// means dev mode: requests go unsigned and only a dev-mode coordinator
	// accepts them.
	var key []byte
	if raw := os.Getenv("MINER_KEY"); raw != "" {
		var err error
		key, err = hex.DecodeString(raw)
		if err != nil {
			log.Fatalf("FATAL: MINER_KEY is not valid hex: %v", err)
		}
	} else {
		log.Println("Warning: MINER_KEY not set, requests will be unsigned")
	}

	if !scraper.SyntheticEnabled() {
		log.Fatalf("FATAL: no scraper configured. This reference miner only ships the " +
			"deterministic synthetic scraper; set ENABLE_SYNTHETIC=true to use it, or " +
			"wire a real source implementation")
	}

	store, err := storage.NewFSStore(storageRoot)
	if err != nil {
		log.Fatalf("FATAL: storage root %s unusable: %v", storageRoot, err)
	}

	client := miner.NewClient(coordinatorURL, minerID, key)
	loop := miner.NewLoop(client, scraper.NewSynthetic(), store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Println("Shutdown signal received")
		cancel()
	}()

	loop.Run(ctx)
}

// requireEnv reads a required environment variable and exits if it is not set.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set", key)
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
