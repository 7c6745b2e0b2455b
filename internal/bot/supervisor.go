package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"langtrader-core/internal/events"
	"langtrader-core/pkg/db"
	"langtrader-core/pkg/exchanges/common"
)

// stopDrainDeadline bounds how long Stop waits for graceful drain before
// force-abandoning the worker (spec §4.1 stop(); §8 P8 cancellation bound).
const stopDrainDeadline = 10 * time.Second

// DepsBuilder constructs the per-bot dependency bundle (exchange gateway,
// LLM chains, etc. resolved from the bot's own exchange_id/llm_id), kept
// as an injected function rather than a package-level global per spec §9
// ("model process-wide singletons as explicit values injected at startup").
type DepsBuilder func(botID string) (Deps, error)

// Supervisor maintains a registry of (bot_id -> worker handle) and
// mediates start/stop/restart/status control-plane commands (spec §4.1),
// grounded on the teacher's internal/risk.MultiUserManager registry shape
// and internal/gateway.Manager's pooled-handle lifecycle.
type Supervisor struct {
	db          *db.Database
	buildDeps   DepsBuilder
	bus         *events.Bus

	mu      sync.Mutex
	workers map[string]*Worker
}

// NewSupervisor wires a Supervisor; EnsureSchema is the caller's
// responsibility to have run once at process startup.
func NewSupervisor(database *db.Database, buildDeps DepsBuilder, bus *events.Bus) *Supervisor {
	return &Supervisor{db: database, buildDeps: buildDeps, bus: bus, workers: make(map[string]*Worker)}
}

// Start allocates a worker for botID and runs its one-time initialisation
// before signalling READY (spec §4.1). Starting a bot that is already
// running is a no-op that returns nil.
func (s *Supervisor) Start(ctx context.Context, botID string) error {
	s.mu.Lock()
	if existing, ok := s.workers[botID]; ok && existing.State() == StateRunning {
		s.mu.Unlock()
		return nil // idempotent on repeated start, per spec §6.3
	}
	s.mu.Unlock()

	deps, err := s.buildDeps(botID)
	if err != nil {
		return fmt.Errorf("build deps for bot %s: %w", botID, err)
	}
	if deps.Bus == nil {
		deps.Bus = s.bus
	}

	w := NewWorker(botID, deps)

	s.mu.Lock()
	s.workers[botID] = w
	s.mu.Unlock()

	go w.Run(ctx)
	return nil
}

// Stop signals graceful cancellation and awaits drain up to
// stopDrainDeadline, after which it force-abandons the worker (the
// goroutine keeps running until its current suspension point yields, but
// the supervisor no longer waits on it). Idempotent on an already-stopped
// bot (spec §6.3, §8 round-trip property).
func (s *Supervisor) Stop(botID string) error {
	s.mu.Lock()
	w, ok := s.workers[botID]
	s.mu.Unlock()
	if !ok {
		return nil // no-op success
	}

	w.Stop()
	select {
	case <-w.Done():
	case <-time.After(stopDrainDeadline):
		w.setError("stop: drain deadline exceeded, force-abandoned")
	}

	s.mu.Lock()
	delete(s.workers, botID)
	s.mu.Unlock()
	return nil
}

// Restart stops then starts botID, preserving cycle-counter continuity
// via the durable store's last_cycle_id column (spec §4.1).
func (s *Supervisor) Restart(ctx context.Context, botID string) error {
	if err := s.Stop(botID); err != nil {
		return err
	}
	return s.Start(ctx, botID)
}

// Status returns a BotStatus built from the registered worker's live
// state (not the published status file), or a stopped status when no
// worker is registered for the bot.
func (s *Supervisor) Status(botID string) (Status, error) {
	s.mu.Lock()
	w, ok := s.workers[botID]
	s.mu.Unlock()
	if ok {
		return Status{
			BotID: botID, IsRunning: w.State() == StateRunning, State: w.State(),
			CurrentCycle: w.cycleCounter, LastError: w.lastErrorMsg(),
		}, nil
	}
	return Status{BotID: botID, State: StateStopped}, nil
}

// EnsureSchema runs the one-shot process-wide schema bootstrap (spec
// §4.1/§6.4) before any bot is started.
func (s *Supervisor) EnsureSchema() error {
	return s.db.EnsureSchema()
}

// Gateway returns the live exchange gateway bound to a running bot, for
// the control plane's get_positions/get_balance proxy reads (spec
// §6.3). Returns false if the bot isn't currently running.
func (s *Supervisor) Gateway(botID string) (common.Gateway, bool) {
	s.mu.Lock()
	w, ok := s.workers[botID]
	s.mu.Unlock()
	if !ok || w.State() != StateRunning {
		return nil, false
	}
	return w.deps.Gateway, true
}
