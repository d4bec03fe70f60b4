// Package main implements the entry point for the Forge API server, which
// admits generation and refinement tasks, enforces per-owner rate limits,
// dispatches accepted tasks to the worker pool, and reaps tasks that have
// been stuck too long.
package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
)

func main() {
	// Missing .env is fine; real deployments configure via environment.
	_ = godotenv.Load()

	app, err := newApplication(context.Background())
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	if err := app.run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
