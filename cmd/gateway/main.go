// SPDX-License-Identifier: Apache-2.0
// Command gateway runs the read-only TWS HTTP gateway: the /tws/* proxy,
// the dependency graph service, the plan poller and the health surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/netover/hwav5-sub002/internal/gateway"
	"github.com/netover/hwav5-sub002/pkg/backend"
	"github.com/netover/hwav5-sub002/pkg/cache"
	"github.com/netover/hwav5-sub002/pkg/config"
	"github.com/netover/hwav5-sub002/pkg/graph"
	"github.com/netover/hwav5-sub002/pkg/health"
	"github.com/netover/hwav5-sub002/pkg/llm"
	"github.com/netover/hwav5-sub002/pkg/metrics"
	"github.com/netover/hwav5-sub002/pkg/poller"
	"github.com/netover/hwav5-sub002/pkg/resilience"
	"github.com/netover/hwav5-sub002/pkg/telemetry"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := telemetry.ConfigureSlog(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.InitWithConfig("tws-gateway", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		Environment:  cfg.Telemetry.Environment,
		EngineName:   cfg.TWS.EngineName,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	reg := metrics.NewRegistry()

	breakers := resilience.NewRegistry(resilience.DefaultBreakerConfig())
	for name, b := range cfg.Breakers {
		breakers.Configure(name, resilience.CircuitBreakerConfig{
			FailureThreshold: b.FailureThreshold,
			RecoveryTimeout:  config.Seconds(b.RecoveryTimeoutSec),
		})
	}

	gm, err := telemetry.NewGatewayMetrics()
	if err != nil {
		return err
	}
	breakers.SetStateChangeHook(func(name string, from, to resilience.CircuitBreakerState) {
		logger.Warn("circuit breaker transition", "breaker", name,
			"from", string(from), "to", string(to))
		gm.RecordBreakers(context.Background(), breakers.Snapshot())
	})

	client, err := backend.NewClient(backend.Config{
		BaseURL:     cfg.TWS.BaseURL,
		Username:    cfg.TWS.Username,
		Password:    cfg.TWS.Password,
		EngineName:  cfg.TWS.EngineName,
		EngineOwner: cfg.TWS.EngineOwner,
		TrustEnv:    cfg.TWS.TrustEnv,
		Timeout:     config.Seconds(cfg.TWS.TimeoutSec),
		PoolSize:    cfg.TWS.PoolSize,
	}, reg)
	if err != nil {
		return err
	}
	defer client.Close()

	hier, err := cache.NewHierarchy(cache.HierarchyConfig{
		L1MaxSize:         cfg.Cache.L1MaxSize,
		L1NumShards:       cfg.Cache.L1NumShards,
		L2DefaultTTL:      config.Seconds(cfg.Cache.L2TTLSeconds),
		L2CleanupInterval: config.Seconds(cfg.Cache.L2CleanupSeconds),
		KeyPrefix:         cfg.Cache.KeyPrefix,
		EnvelopeEnabled:   cfg.Cache.EncryptionEnabled,
	})
	if err != nil {
		return err
	}
	hier.Start()
	defer hier.Stop()

	graphs := graph.NewService(client, graph.ServiceConfig{
		TTL:              config.Seconds(cfg.Graph.TTLSeconds),
		MaxDepth:         cfg.Graph.MaxDepth,
		TemporalRingSize: cfg.Graph.TemporalRingSize,
	}, reg, logger)

	pollLoop := poller.New(client, graphs.Temporal(), poller.Config{
		Interval:         config.Seconds(cfg.Poller.IntervalSec),
		FailureThreshold: cfg.Poller.FailureThreshold,
		BackoffStep:      config.Seconds(cfg.Poller.BackoffStepSec),
		BackoffCap:       config.Seconds(cfg.Poller.BackoffCapSec),
	}, reg, logger)
	go func() {
		if err := pollLoop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("poller stopped", "error", err)
		}
	}()

	orch := newOrchestrator(cfg, client, hier, reg, logger)

	recovery := health.NewRecoveryManager(health.RecoveryDeps{
		Cache:      hier,
		ClearCache: hier.Clear,
		Connectivity: func(ctx context.Context, component string) error {
			if component == health.ComponentTWSMonitor {
				_, err := client.EngineInfo(ctx)
				return err
			}
			return nil
		},
		Breakers: breakers,
	}, logger)

	go selfHealLoop(ctx, orch, recovery, gm, config.Seconds(cfg.Poller.IntervalSec), logger)

	srv := gateway.New(gateway.Config{
		ProxyTimeout: config.Seconds(cfg.TWS.TimeoutSec),
		CacheTTL:     config.Seconds(cfg.Cache.L2TTLSeconds),
	}, client, hier, breakers, reg, orch, graphs, logger)

	if llmService, err := newLLMService(cfg, breakers, reg, logger); err != nil {
		return err
	} else if llmService != nil {
		srv.WithLLM(llmService)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  config.Seconds(cfg.Server.ReadTimeoutSec),
		WriteTimeout: config.Seconds(cfg.Server.WriteTimeoutSec),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Server.Addr, "version", version)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		config.Seconds(cfg.Server.ShutdownSec))
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newOrchestrator registers the probe set. Components without a backing
// dependency stay unregistered and report UNKNOWN.
func newOrchestrator(cfg *config.Config, client *backend.Client, hier *cache.Hierarchy,
	reg *metrics.Registry, logger *slog.Logger) *health.Orchestrator {

	orch := health.NewOrchestrator(health.OrchestratorConfig{
		ComponentTimeout:  config.Seconds(cfg.Health.ComponentTimeoutSec),
		GlobalTimeout:     config.Seconds(cfg.Health.TimeoutSec),
		MaxHistoryEntries: cfg.Health.MaxHistoryEntries,
		RetentionDays:     cfg.Health.RetentionDays,
	}, reg, logger)

	thresholds := health.Thresholds{
		DiskWarning:    cfg.Health.DiskWarningPercent,
		DiskCritical:   cfg.Health.DiskCriticalPercent,
		MemoryWarning:  cfg.Health.MemoryWarningPercent,
		MemoryCritical: cfg.Health.MemoryCriticalPercent,
		CPUWarning:     cfg.Health.CPUWarningPercent,
		CPUCritical:    cfg.Health.CPUCriticalPercent,
		PoolWarning:    cfg.Health.PoolWarningPercent,
		PoolCritical:   cfg.Health.PoolCriticalPercent,
	}

	orch.Register(health.ComponentCacheHierarchy, health.CacheProbe(hier))
	orch.Register(health.ComponentFileSystem, health.FileSystemProbe("/", thresholds))
	orch.Register(health.ComponentMemory, health.MemoryProbe(thresholds))
	orch.Register(health.ComponentCPU, health.CPUProbe(thresholds))
	orch.Register(health.ComponentTWSMonitor, health.TWSMonitorProbe(
		func(ctx context.Context) error {
			_, err := client.EngineInfo(ctx)
			return err
		}))

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		orch.Register(health.ComponentRedis, health.RedisProbe(rdb))
	}

	return orch
}

// newLLMService builds the provider chain from config, or nil when no
// primary endpoint is configured.
func newLLMService(cfg *config.Config, breakers *resilience.Registry,
	reg *metrics.Registry, logger *slog.Logger) (*llm.FallbackService, error) {

	if cfg.LLM.Primary.Endpoint == "" {
		return nil, nil
	}

	entry := func(p config.LLMProviderConfig) llm.ChainEntry {
		return llm.ChainEntry{
			Provider: llm.NewHTTPProvider(p.Name, p.Model, p.Endpoint, p.APIKey,
				config.Seconds(p.TimeoutSec)),
			Timeout: config.Seconds(p.TimeoutSec),
		}
	}

	fc := llm.FallbackConfig{
		Primary:               entry(cfg.LLM.Primary),
		DefaultTimeout:        config.Seconds(cfg.LLM.DefaultTimeout),
		MaxRetriesPerProvider: cfg.LLM.MaxRetries,
		RetryBaseDelay:        time.Duration(cfg.LLM.RetryBaseMsec) * time.Millisecond,
	}
	for _, p := range cfg.LLM.FallbackChain {
		fc.FallbackChain = append(fc.FallbackChain, entry(p))
	}
	return llm.NewFallbackService(fc, breakers, reg, logger)
}

// selfHealLoop periodically runs the comprehensive check, mirrors it to
// telemetry and attempts recovery of unhealthy components.
func selfHealLoop(ctx context.Context, orch *health.Orchestrator,
	recovery *health.RecoveryManager, gm *telemetry.GatewayMetrics,
	interval time.Duration, logger *slog.Logger) {

	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report := orch.PerformComprehensiveHealthCheck(ctx)
		gm.RecordHealth(ctx, report)

		for name, c := range report.Components {
			if c.Status != health.StatusUnhealthy {
				continue
			}
			result := recovery.AttemptComponentRecovery(ctx, name)
			gm.RecordRecovery(ctx, result)
			logger.Info("component recovery attempted",
				"component", name, "success", result.Success,
				"actions", result.Actions)
		}
	}
}
