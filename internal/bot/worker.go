package bot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"langtrader-core/internal/events"
	"langtrader-core/internal/persistence"
	"langtrader-core/internal/pipeline"
	"langtrader-core/pkg/cache"
	"langtrader-core/pkg/checkpoint"
	"langtrader-core/pkg/exchanges/common"
	"langtrader-core/pkg/llm"
	"langtrader-core/pkg/ratelimit"
)

// configCacheTTL is the default TTL for the worker's in-memory BotConfig
// cache (spec §4.2 step 1: "cheap, cached with configurable TTL").
const configCacheTTL = 60 * time.Second

// maintenanceEvery runs the side-effect hook every N cycles (spec §4.2
// step 7 default).
const maintenanceEvery = 50

// Deps bundles everything a Worker needs to drive one bot's cycles.
type Deps struct {
	BotStore      *Store
	WorkflowStore *pipeline.Store
	Registry      *pipeline.Registry
	Checkpoints   *checkpoint.Store
	Cache         *cache.NamespacedCache
	DB            *sql.DB
	Gateway       common.Gateway
	Limiter       *ratelimit.Limiter
	DefaultChain  llm.Chain
	RoleChains    map[string]llm.Chain
	Bus           *events.Bus
	Status        *StatusPublisher
	TradeWriter   *persistence.BatchWriter
}

// Worker is the cycle scheduler for one bot (spec §4.2): a state machine
// READY -> LOOP(cycle_n) -> CHECKPOINT -> SLEEP(Δ) -> LOOP(cycle_n+1) |
// STOPPING -> STOPPED | ERROR.
type Worker struct {
	BotID string
	deps  Deps
	bus   *events.Bus

	mu           sync.Mutex
	state        BotState
	lastError    string
	cycleCounter int64

	cachedCfg    *Config
	cfgCachedAt  time.Time

	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWorker builds a worker for one bot, not yet started.
func NewWorker(botID string, deps Deps) *Worker {
	return &Worker{BotID: botID, deps: deps, bus: deps.Bus, state: StateIdle, done: make(chan struct{})}
}

// Run drives the cycle loop until ctx is cancelled. It is meant to be
// invoked in its own goroutine by the Supervisor, wrapped in a recover()
// for fault isolation (spec §4.1: "a fatal exception in one bot must not
// affect others").
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.setError(fmt.Sprintf("panic: %v", r))
			log.Printf("bot %s: recovered from panic: %v", w.BotID, r)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	cfg, err := w.loadConfig()
	if err != nil {
		w.setError("initial config load: " + err.Error())
		return
	}

	// One-time initialisation: exchange handshake, market catalogue load,
	// balance probe (spec §4.1 start()).
	if _, err := w.deps.Gateway.LoadMarkets(runCtx); err != nil {
		w.setError("exchange handshake failed: " + err.Error())
		return
	}
	if _, err := w.deps.Gateway.FetchBalance(runCtx); err != nil {
		w.setError("balance probe failed: " + err.Error())
		return
	}

	w.setState(StateRunning)
	w.bus.Publish(events.EventBotStarted, w.BotID)

	w.cycleCounter = cfg.LastCycleID

	for {
		select {
		case <-runCtx.Done():
			w.setState(StateStopped)
			w.bus.Publish(events.EventBotStopped, w.BotID)
			return
		default:
		}

		start := time.Now()
		cfg, err := w.loadConfig()
		if err != nil {
			w.recordCycleFailure(err)
		} else {
			w.cycleCounter++
			if err := w.runCycle(runCtx, cfg, w.cycleCounter); err != nil {
				if runCtx.Err() != nil {
					w.setState(StateStopped)
					w.bus.Publish(events.EventBotStopped, w.BotID)
					return
				}
				w.fatalOrRecord(err)
				if w.State() == StateError {
					return
				}
			}
			_ = w.deps.BotStore.SetLastCycleID(w.BotID, w.cycleCounter)
		}

		if w.cycleCounter%maintenanceEvery == 0 {
			w.maintenance(runCtx)
		}

		elapsed := time.Since(start)
		sleepFor := time.Duration(cfg.CycleIntervalS)*time.Second - elapsed
		if sleepFor < 0 {
			sleepFor = 0 // cycle overran; next cycle starts immediately (spec §5 backpressure)
		}
		select {
		case <-runCtx.Done():
			w.setState(StateStopped)
			w.bus.Publish(events.EventBotStopped, w.BotID)
			return
		case <-time.After(sleepFor):
		}
	}
}

func (w *Worker) runCycle(ctx context.Context, cfg *Config, cycleID int64) error {
	w.bus.Publish(events.EventCycleStarted, w.BotID)

	wf, err := w.deps.WorkflowStore.Load(cfg.WorkflowID)
	if err != nil {
		return pipeline.Fail(pipeline.Fatal, "load_workflow", "", err)
	}
	snapshot := wf.Snapshot()

	// coins_pick (the workflow's first node) populates the symbol set; the
	// cycle starts with none.
	state := pipeline.NewCycleState(w.BotID, cycleID, nil)
	riskMap, err := toMap(cfg.RiskLimits)
	if err != nil {
		return err
	}

	pc := &pipeline.PluginContext{
		Ctx:         ctx,
		Gateway:     w.deps.Gateway,
		Limiter:     w.deps.Limiter,
		LLM:         w.deps.DefaultChain,
		RoleLLM:     w.roleChains(),
		Cache:       w.deps.Cache,
		DB:          w.deps.DB,
		Checkpoints: w.deps.Checkpoints,
		Bus:         w.deps.Bus,
		Bot:         w.configView(cfg, riskMap),
		TradeWriter: w.deps.TradeWriter,
	}

	runner := pipeline.NewRunner(w.deps.Registry, w.deps.Checkpoints, w.deps.Bus)
	_, err = runner.Run(ctx, pc, snapshot, state)
	if err != nil {
		w.bus.Publish(events.EventCycleFailed, w.BotID)
		return err
	}

	w.publishStatus(cfg, state)
	w.bus.Publish(events.EventCycleFinished, w.BotID)
	return nil
}

func (w *Worker) roleChains() map[string]llm.Chain {
	out := map[string]llm.Chain{"": w.deps.DefaultChain}
	for role, chain := range w.deps.RoleChains {
		out[role] = chain
	}
	return out
}

func (w *Worker) configView(cfg *Config, riskMap map[string]any) pipeline.BotConfigView {
	weights, _ := toMap(cfg.QuantWeights)
	qw := map[string]float64{}
	for k, v := range weights {
		if f, ok := v.(float64); ok {
			qw[k] = f
		}
	}
	return pipeline.BotConfigView{
		BotID:                cfg.ID,
		TradingMode:          pipeline.TradingMode(cfg.TradingMode),
		Timeframes:           cfg.Timeframes,
		OHLCVLimits:          cfg.OHLCVLimits,
		IndicatorConfigs:     cfg.IndicatorConfigs,
		QuantWeights:         qw,
		QuantThreshold:       cfg.QuantThreshold,
		MaxConcurrentSymbols: cfg.MaxConcurrentSymbols,
		LLMID:                cfg.LLMID,
		RiskLimits:           riskMap,
	}
}

// loadConfig rereads BotConfig, cached with a TTL (spec §4.2 step 1).
func (w *Worker) loadConfig() (*Config, error) {
	w.mu.Lock()
	if w.cachedCfg != nil && time.Since(w.cfgCachedAt) < configCacheTTL {
		cfg := w.cachedCfg
		w.mu.Unlock()
		return cfg, nil
	}
	w.mu.Unlock()

	cfg, err := w.deps.BotStore.Load(w.BotID)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.cachedCfg = cfg
	w.cfgCachedAt = time.Now()
	w.mu.Unlock()
	return cfg, nil
}

// maintenance is the every-N-cycles side effect (spec §4.2 step 7): it
// sweeps expired cache entries and pings the store connection. Stream
// subscriptions are not reconciled here (the caller's
// market.StreamManager does that on each cycle-finished event), and
// status is not written here (runCycle publishes it after every cycle).
func (w *Worker) maintenance(ctx context.Context) {
	if w.deps.Cache != nil {
		removed := w.deps.Cache.SweepExpired()
		if removed > 0 {
			log.Printf("bot %s: maintenance swept %d expired cache entries", w.BotID, removed)
		}
	}
	if w.deps.DB != nil {
		if err := w.deps.DB.PingContext(ctx); err != nil {
			log.Printf("bot %s: maintenance db ping failed: %v", w.BotID, err)
		}
	}
}

func (w *Worker) recordCycleFailure(err error) {
	log.Printf("bot %s: cycle setup failed: %v", w.BotID, err)
}

// fatalOrRecord classifies the error: a *pipeline.NodeError of kind Fatal
// parks the bot in StateError without auto-restart; everything else,
// including an invalid (cyclic) workflow, is logged and the loop
// continues. There is no separate Configuration kind: an unknown plugin
// is recorded in CycleState by the runner and never reaches here.
func (w *Worker) fatalOrRecord(err error) {
	var ne *pipeline.NodeError
	if asErr, ok := err.(*pipeline.NodeError); ok {
		ne = asErr
	}
	if ne != nil && ne.Kind == pipeline.Fatal {
		w.setError(err.Error())
		w.bus.Publish(events.EventBotCrashed, w.BotID)
		return
	}
	log.Printf("bot %s: cycle error recorded, continuing: %v", w.BotID, err)
}

func (w *Worker) publishStatus(cfg *Config, state *pipeline.CycleState) {
	if w.deps.Status == nil {
		return
	}
	var lastDecision string
	openPositions := 0
	var symbolsTrading []string
	for sym, run := range state.Symbols {
		if run.Decision != nil {
			lastDecision = fmt.Sprintf("%s: %s", sym, run.Decision.Action)
			if run.Decision.Action != "wait" && run.Decision.SkipReason == "" {
				symbolsTrading = append(symbolsTrading, sym)
			}
			if run.Decision.SkipReason != "" {
				lastDecision = fmt.Sprintf("%s: skipped: %s", sym, run.Decision.SkipReason)
			}
		}
		if run.Execution != nil && run.Execution.Submitted {
			openPositions++
		}
	}
	s := Status{
		BotID: w.BotID, IsRunning: w.State() == StateRunning, CurrentCycle: state.CycleID,
		LastCycleAt: time.Now(), OpenPositions: openPositions, SymbolsTrading: symbolsTrading,
		Balance: state.Balance.Total, LastDecision: lastDecision, State: w.State(), LastError: w.lastErrorMsg(),
	}
	if err := w.deps.Status.Publish(s); err != nil {
		log.Printf("bot %s: publish status failed: %v", w.BotID, err)
	}
}

// Stop requests graceful cancellation; Supervisor.stop waits on w.done.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done signals when Run has fully exited.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) State() BotState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s BotState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) setError(msg string) {
	w.mu.Lock()
	w.state = StateError
	w.lastError = msg
	w.mu.Unlock()
}

func (w *Worker) lastErrorMsg() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastError
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal config value: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal config value: %w", err)
	}
	return out, nil
}
