// Copyright (c) 2025-2026 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command llmgate runs the routing gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/morganforge/llmgate/internal/cascade"
	"github.com/morganforge/llmgate/internal/catalog"
	"github.com/morganforge/llmgate/internal/classify"
	"github.com/morganforge/llmgate/internal/config"
	"github.com/morganforge/llmgate/internal/gateway"
	"github.com/morganforge/llmgate/internal/outcome"
	"github.com/morganforge/llmgate/internal/provider"
	"github.com/morganforge/llmgate/internal/score"
	"github.com/morganforge/llmgate/internal/server"
	"github.com/morganforge/llmgate/internal/telemetry"
)

// trimInterval is how often the outcome retention policy runs.
const trimInterval = time.Hour

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "llmgate:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "config file path (.toml or .json)")
		addr       = flag.String("addr", "", "listen address override")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	stateDir := filepath.Join(home, ".llmgate")

	// Outcome store.
	outcomePath := cfg.Outcomes.Path
	if outcomePath == "" {
		outcomePath = filepath.Join(stateDir, "outcomes.db")
	}
	store, err := outcome.Open(outcomePath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Catalog with discovery and disk cache.
	cachePath := cfg.Catalog.CachePath
	if cachePath == "" {
		cachePath = filepath.Join(stateDir, "models.json")
	}
	source := catalog.NewHTTPSource(
		cfg.Catalog.DiscoveryURL,
		os.Getenv(cfg.Catalog.APIKeyEnv),
		primaryProvider(cfg),
		cfg.Catalog.MaxInputCostPer1M,
		log.With().Str("component", "discovery").Logger(),
	)
	cat := catalog.New(source, tierRules(cfg),
		catalog.WithCachePath(cachePath),
		catalog.WithLogger(log.With().Str("component", "catalog").Logger()))

	// Classification and scoring.
	classifier, err := classify.New(cfg.Classifier)
	if err != nil {
		return err
	}
	scorer := score.New(cfg.Scoring)

	// Provider backends.
	registry, err := provider.NewRegistry(cfg.Providers, log)
	if err != nil {
		return err
	}

	// Metrics and cost tracking.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(promReg)
	costs := telemetry.NewCostTracker()

	executor := cascade.New(cat, store, scorer, registry, cfg.Cascade,
		log.With().Str("component", "cascade").Logger())
	executor.OnOutcome(func(model string, success bool, failure outcome.FailureKind) {
		result := "success"
		if !success {
			result = string(failure)
		}
		metrics.OutcomesTotal.WithLabelValues(model, result).Inc()
	})
	gw := gateway.New(classifier, executor, cat, store, costs, metrics,
		log.With().Str("component", "gateway").Logger())

	// First refresh is best effort; the cache or a later refresh can
	// still bring the catalog up.
	refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cat.Refresh(refreshCtx); err != nil {
		metrics.CatalogRefreshes.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("initial catalog refresh failed")
	} else {
		metrics.CatalogRefreshes.WithLabelValues("ok").Inc()
	}
	cancel()

	go cat.RunRefresher(ctx, time.Duration(cfg.Catalog.RefreshIntervalSecs)*time.Second, nil)
	go trimLoop(ctx, store, cfg.Outcomes.Retain, log)

	if *configPath != "" {
		go watchConfig(ctx, *configPath, log)
	}

	srv := server.New(gw, cat, cfg.Server, promReg,
		log.With().Str("component", "server").Logger())
	return srv.ListenAndServe(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// primaryProvider names the provider that discovered models belong to.
func primaryProvider(cfg *config.Config) string {
	if len(cfg.Providers) > 0 {
		return cfg.Providers[0].Name
	}
	return "openrouter"
}

// tierRules converts the configured tier table to catalog rules.
func tierRules(cfg *config.Config) map[catalog.Tier]catalog.TierRule {
	rules := make(map[catalog.Tier]catalog.TierRule, len(cfg.Tiers))
	for name, rule := range cfg.Tiers {
		tier, err := catalog.ParseTier(name)
		if err != nil {
			continue
		}
		require := make([]catalog.Capability, 0, len(rule.Require))
		for _, c := range rule.Require {
			require = append(require, catalog.Capability(c))
		}
		rules[tier] = catalog.TierRule{
			MaxInputCostPer1M: rule.MaxInputCostPer1M,
			Require:           require,
		}
	}
	return rules
}

// trimLoop applies the outcome retention policy periodically.
func trimLoop(ctx context.Context, store *outcome.Store, retain int, log zerolog.Logger) {
	if retain <= 0 {
		return
	}
	ticker := time.NewTicker(trimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Trim(ctx, retain); err != nil {
				log.Warn().Err(err).Msg("outcome trim failed")
			}
		}
	}
}

// watchConfig logs config file changes. Routing parameters need a
// restart; watching here surfaces edits early instead of silently
// ignoring them.
func watchConfig(ctx context.Context, path string, log zerolog.Logger) {
	err := config.Watch(ctx, path,
		func(cfg *config.Config) {
			log.Info().Str("path", path).Msg("config file changed, restart to apply")
		},
		func(err error) {
			log.Warn().Err(err).Msg("config reload failed")
		})
	if err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("config watcher stopped")
	}
}
