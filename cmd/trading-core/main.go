package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"langtrader-core/internal/api/botapi"
	"langtrader-core/internal/bot"
	"langtrader-core/internal/events"
	"langtrader-core/internal/gateway"
	"langtrader-core/internal/market"
	"langtrader-core/internal/persistence"
	"langtrader-core/internal/pipeline"
	"langtrader-core/internal/pipeline/nodes"
	"langtrader-core/pkg/cache"
	"langtrader-core/pkg/checkpoint"
	"langtrader-core/pkg/config"
	"langtrader-core/pkg/crypto"
	"langtrader-core/pkg/db"
	"langtrader-core/pkg/i18n"
	"langtrader-core/pkg/license"
	"langtrader-core/pkg/llm"
	"langtrader-core/pkg/ratelimit"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	if cfg.LicenseToken != "" {
		if err := license.NewManager(cfg.JWTSecret).Validate(cfg.LicenseToken); err != nil {
			log.Fatalf("license validation failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if km, err := crypto.NewKeyManager(); err != nil {
		log.Printf("credential encryption disabled, MASTER_ENCRYPTION_KEY not configured: %v", err)
	} else {
		database.WithCrypto(km)
	}

	bus := events.NewBus()

	registry := pipeline.NewRegistry()
	nodes.RegisterAll(registry)

	checkpoints := checkpoint.New(database.DB)
	sharedCache := cache.NewNamespacedCache(nil)
	botStore := bot.NewStore(database.DB)
	workflowStore := pipeline.NewStore(database.DB)
	statusPub := &bot.StatusPublisher{Dir: cfg.StatusDir}
	tradeWriter := persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond)
	defer tradeWriter.Close()

	var streamMu sync.Mutex
	streamMgrs := make(map[string]*market.StreamManager)

	buildDeps := func(botID string) (bot.Deps, error) {
		botCfg, err := botStore.Load(botID)
		if err != nil {
			return bot.Deps{}, fmt.Errorf("load bot %s: %w", botID, err)
		}

		exCfg, err := database.LoadExchange(botCfg.ExchangeID)
		if err != nil {
			return bot.Deps{}, fmt.Errorf("load exchange for bot %s: %w", botID, err)
		}
		factory := gateway.DefaultFactory
		if exCfg.Testnet {
			factory = gateway.TestnetFactory
		}
		gw, err := factory(exCfg.ExchangeType, exCfg.APIKey, exCfg.APISecret)
		if err != nil {
			return bot.Deps{}, fmt.Errorf("build gateway for bot %s: %w", botID, err)
		}

		defaultChain, err := chainFor(database, botCfg.LLMID, cfg)
		if err != nil {
			return bot.Deps{}, fmt.Errorf("build default llm chain for bot %s: %w", botID, err)
		}

		limiter := ratelimit.New(ratelimit.PolicyFor(exchangeFamily(exCfg.ExchangeType)))

		deps := bot.Deps{
			BotStore:      botStore,
			WorkflowStore: workflowStore,
			Registry:      registry,
			Checkpoints:   checkpoints,
			Cache:         sharedCache,
			DB:            database.DB,
			Gateway:       gw,
			Limiter:       limiter,
			DefaultChain:  defaultChain,
			RoleChains:    map[string]llm.Chain{},
			Bus:           bus,
			Status:        statusPub,
			TradeWriter:   tradeWriter,
		}

		streamMu.Lock()
		streamMgrs[botID] = market.NewStreamManager(gw, bus)
		streamMu.Unlock()
		return deps, nil
	}

	supervisor := bot.NewSupervisor(database, buildDeps, bus)
	if err := supervisor.EnsureSchema(); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}

	// Reconcile each bot's market subscriptions after every finished cycle,
	// reading the symbol set it just published to its status file rather
	// than reaching into worker internals (spec §6.3's no-shared-memory rule).
	cycleDone, unsubCycle := bus.Subscribe(events.EventCycleFinished, 64)
	defer unsubCycle()
	go func() {
		for msg := range cycleDone {
			botID, ok := msg.(string)
			if !ok {
				continue
			}
			streamMu.Lock()
			sm, ok := streamMgrs[botID]
			streamMu.Unlock()
			if !ok {
				continue
			}
			st, err := statusPub.Read(botID)
			if err != nil {
				continue
			}
			sm.Reconcile(ctx, market.DesiredSet(st.SymbolsTrading, nil))
		}
	}()

	for _, botID := range cfg.AutoStartBots {
		if err := supervisor.Start(ctx, botID); err != nil {
			log.Printf(i18n.Get("BotAutoStartFailed"), botID, err)
		} else {
			log.Printf(i18n.Get("BotAutoStarted"), botID)
		}
	}

	server := botapi.NewServer(supervisor, botStore, workflowStore, statusPub, bus, cfg.JWTSecret).WithCheckpoints(checkpoints).WithDB(database)
	go func() {
		if err := server.Start(cfg.APIAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))

	ids, _ := botStore.List()
	for _, id := range ids {
		if err := supervisor.Stop(id); err != nil {
			log.Printf(i18n.Get("BotStopFailed"), id, err)
		}
	}
}

// exchangeFamily maps a concrete exchange_type ("binance-spot",
// "binance-usdtfut", ...) to the venue family ratelimit.DefaultPolicies
// is keyed by, since the rate budget is shared per venue, not per market.
func exchangeFamily(exchangeType string) string {
	switch {
	case strings.HasPrefix(exchangeType, "binance"):
		return "binance"
	case strings.HasPrefix(exchangeType, "bybit"):
		return "bybit"
	case strings.HasPrefix(exchangeType, "hyperliquid"):
		return "hyperliquid"
	default:
		return exchangeType
	}
}

// chainFor resolves a bot's default LLM chain from its llm_id, falling
// back to an empty adapter-less chain if the bot has none configured
// (every call on it then fails with an ErrKindAuth CallError rather than
// silently returning an empty result).
func chainFor(database *db.Database, llmID string, cfg *config.Config) (llm.Chain, error) {
	if llmID == "" {
		return llm.NewChain(), nil
	}
	row, err := database.LoadLLMConfig(llmID)
	if err != nil {
		return nil, err
	}
	baseURL := row.BaseURL
	if baseURL == "" {
		switch row.Provider {
		case "openai":
			baseURL = cfg.OpenAIBaseURL
		case "anthropic":
			baseURL = cfg.AnthropicBaseURL
		case "ollama":
			baseURL = cfg.OllamaBaseURL
		}
	}
	adapter, err := llm.New(llm.Config{
		ID: row.ID, Provider: row.Provider, BaseURL: baseURL,
		APIKey: row.APIKey, ModelName: row.ModelName,
	}, nil)
	if err != nil {
		return nil, err
	}
	return llm.NewChain(adapter), nil
}
