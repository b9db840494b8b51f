/*
roller.go - Scheduled window rolling

PURPOSE:
  Advances the rolling window automatically. Each tick re-runs generation
  with the persisted window size: yesterday's window start has passed, so
  the pass materializes the new tail dates and skips everything that
  already exists (generation is idempotent).

CONFIGURATION:
  The cron spec comes from LOOM_ROLL_CRON (standard 5-field cron, e.g.
  "0 2 * * *" for 2am daily). An empty spec disables the roller; manual
  POST /api/loom/generate keeps working either way.

USAGE:
  roller := api.NewRoller(handler, "0 2 * * *")
  roller.Start()
  // ... on shutdown
  roller.Stop()

SEE ALSO:
  - handlers.go: GenerateWindow endpoint (manual roll)
  - loom/generate.go: the generation pass the roller triggers
*/
package api

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Roller periodically re-generates the rolling window.
type Roller struct {
	Handler *Handler
	Spec    string

	cron *cron.Cron
}

// NewRoller creates a roller with the given cron spec. Empty spec = disabled.
func NewRoller(h *Handler, spec string) *Roller {
	return &Roller{Handler: h, Spec: spec}
}

// Start schedules the roll. Returns the error from cron spec parsing.
func (r *Roller) Start() error {
	if r.Spec == "" {
		log.Println("[Roller] No cron spec configured, not starting")
		return nil
	}

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.Spec, r.roll); err != nil {
		return err
	}
	r.cron.Start()

	log.Printf("[Roller] Started with spec %q", r.Spec)
	return nil
}

// Stop stops the roller and waits for an in-flight roll to finish.
func (r *Roller) Stop() {
	if r.cron != nil {
		ctx := r.cron.Stop()
		<-ctx.Done()
		log.Println("[Roller] Stopped")
	}
}

func (r *Roller) roll() {
	ctx := context.Background()

	settings, err := r.Handler.Store.GetSettings(ctx)
	if err != nil {
		log.Printf("[Roller] Error loading settings: %v", err)
		return
	}

	res := r.Handler.Engine.GenerateWindow(ctx, settings.WindowWeeks)
	if !res.Success {
		log.Printf("[Roller] Generation failed: %s (%s)", res.Message, res.Error)
		return
	}
	log.Printf("[Roller] %s", res.Message)
}
