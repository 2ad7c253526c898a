// Mirai Gateway - local conversational assistant backend
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/miraihub/mirai-gateway/internal/agent"
	"github.com/miraihub/mirai-gateway/internal/augment"
	"github.com/miraihub/mirai-gateway/internal/bridge"
	"github.com/miraihub/mirai-gateway/internal/classify"
	"github.com/miraihub/mirai-gateway/internal/config"
	"github.com/miraihub/mirai-gateway/internal/llm"
	"github.com/miraihub/mirai-gateway/internal/logging"
	"github.com/miraihub/mirai-gateway/internal/orchestrator"
	"github.com/miraihub/mirai-gateway/internal/pubsub"
	"github.com/miraihub/mirai-gateway/internal/scheduler"
	"github.com/miraihub/mirai-gateway/internal/search"
	"github.com/miraihub/mirai-gateway/internal/server"
	"github.com/miraihub/mirai-gateway/internal/store"
	"github.com/miraihub/mirai-gateway/internal/trigger"
	"github.com/miraihub/mirai-gateway/internal/tts"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Mirai Gateway v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewWithConfig(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logger.Close()
	logger.Info("starting mirai gateway", "version", version)

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func run(cfg *config.Config, logger *logging.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down...")
		cancel()
	}()

	st, err := store.Open(cfg.Storage.Path, logger.WithComponent("store"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.EnsureGlobalConversation(ctx); err != nil {
		return err
	}

	hub := pubsub.NewHub(cfg.PubSub.ReplayBufferSize, logger.WithComponent("pubsub"))

	analyzer := classify.NewAnalyzer(logger.WithComponent("classify"))
	gateway := search.NewGateway(search.Config{
		BaseURL:         cfg.Search.URL,
		MaxResults:      cfg.Search.MaxResults,
		Timeout:         cfg.Search.SearchTimeout(),
		MaxAttempts:     cfg.Search.MaxAttempts,
		Backoff:         cfg.Search.Backoff(),
		CacheTTL:        cfg.Search.CacheTTL(),
		Engines:         cfg.Search.Engines,
		FallbackEngines: cfg.Search.FallbackEngines,
		Categories:      cfg.Search.Categories,
	}, logger.WithComponent("search"))

	registry := trigger.NewRegistry(logger.WithComponent("trigger"))
	if cfg.Modules.Path != "" {
		if err := loadModules(cfg.Modules.Path, registry); err != nil {
			logger.Warn("failed to load api modules", "path", cfg.Modules.Path, "error", err)
		}
	}
	executor := trigger.NewExecutor(cfg.Search.SearchTimeout(), logger.WithComponent("trigger"))

	augmenter := augment.NewAugmenter(
		analyzer, registry, executor, gateway,
		augment.NewTermStore(), cfg.Search.MaxResults,
		logger.WithComponent("augment"))

	roster := agent.NewRoster(logger.WithComponent("agent"))
	if cfg.Agents.Path != "" {
		if err := loadPersonas(cfg.Agents.Path, roster); err != nil {
			logger.Warn("failed to load personas", "path", cfg.Agents.Path, "error", err)
		}
	}

	generator := llm.NewClient(cfg.LLM, logger.WithComponent("llm"))
	synth := tts.NewClient(cfg.TTS, logger.WithComponent("tts"))

	orch := orchestrator.New(st, augmenter, generator, synth, roster, hub,
		cfg.Workers.QueueDepth, logger.WithComponent("orchestrator"))
	defer orch.Close()

	if cfg.Bridge.Enabled {
		b, err := bridge.New(cfg.Bridge, logger.WithComponent("bridge"))
		if err != nil {
			logger.Warn("bridge disabled, redis unreachable", "error", err)
		} else {
			b.Attach(hub)
			defer b.Close()
		}
	}

	sched := scheduler.New(gateway, hub, logger.WithComponent("scheduler"))
	sched.Start()
	defer sched.Stop()

	srv := server.New(cfg, st, orch, hub, logger.WithComponent("server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Search.SearchTimeout())
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// loadModules reads API module definitions from a JSON file.
func loadModules(path string, registry *trigger.Registry) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var modules []*trigger.Module
	if err := json.Unmarshal(data, &modules); err != nil {
		return fmt.Errorf("invalid module definitions: %w", err)
	}
	for _, m := range modules {
		registry.Register(m)
	}
	return nil
}

// loadPersonas reads persona records from a JSON file.
func loadPersonas(path string, roster *agent.Roster) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var personas []*agent.Persona
	if err := json.Unmarshal(data, &personas); err != nil {
		return fmt.Errorf("invalid persona definitions: %w", err)
	}
	for _, p := range personas {
		roster.Register(p)
	}
	return nil
}
