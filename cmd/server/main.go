/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the roster engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Create API handler, metrics, and router
  4. Start the cron roller (if configured)
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags override environment variables. Environment (or .env):
    PORT                HTTP server port (default: 8080)
    LOOM_DB             SQLite database path (default: roster.db)
    LOOM_WINDOW_WEEKS   Overrides the persisted window size at startup (0 = keep)
    LOOM_ROLL_CRON      Cron spec for automatic window rolling (default: off)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the roller
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ./server -db="./data/roster.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Roll the window nightly at 2am
  LOOM_ROLL_CRON="0 2 * * *" ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/roller.go: Scheduled window rolling
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rabs/roster-engine/api"
	"github.com/rabs/roster-engine/loom"
	"github.com/rabs/roster-engine/store/sqlite"
)

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("LOOM_DB", "roster.db"), "SQLite database path")
	windowWeeks := flag.Int("window-weeks", envInt("LOOM_WINDOW_WEEKS", 0), "override the persisted rolling window size in weeks (0 = keep)")
	rollCron := flag.String("roll-cron", envStr("LOOM_ROLL_CRON", ""), "cron spec for automatic window rolling (empty = off)")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	if *windowWeeks != 0 {
		if *windowWeeks < loom.MinWindowWeeks || *windowWeeks > loom.MaxWindowWeeks {
			log.Fatalf("Window size %d weeks out of range [%d, %d]", *windowWeeks, loom.MinWindowWeeks, loom.MaxWindowWeeks)
		}
		if err := store.SaveSettings(context.Background(), loom.Settings{WindowWeeks: *windowWeeks}); err != nil {
			log.Fatalf("Failed to persist window size: %v", err)
		}
	}

	metrics := api.NewMetrics(prometheus.DefaultRegisterer)
	handler := api.NewHandler(store, metrics)
	router := api.NewRouter(handler)

	roller := api.NewRoller(handler, *rollCron)
	if err := roller.Start(); err != nil {
		log.Fatalf("Failed to start roller: %v", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Roster engine listening on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	roller.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
