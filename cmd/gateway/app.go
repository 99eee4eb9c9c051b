package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nlsql/gateway/internal/confidence"
	"github.com/nlsql/gateway/internal/config"
	"github.com/nlsql/gateway/internal/dbpool"
	mysqldriver "github.com/nlsql/gateway/internal/dbpool/mysql"
	postgresdriver "github.com/nlsql/gateway/internal/dbpool/postgres"
	"github.com/nlsql/gateway/internal/executor"
	"github.com/nlsql/gateway/internal/history"
	"github.com/nlsql/gateway/internal/llm"
	"github.com/nlsql/gateway/internal/observability"
	"github.com/nlsql/gateway/internal/orchestrator"
	"github.com/nlsql/gateway/internal/prompt"
	"github.com/nlsql/gateway/internal/registry"
	"github.com/nlsql/gateway/internal/schema"
	"github.com/nlsql/gateway/pkg/logger"
)

// app holds the process-wide singletons, composed once at startup and torn
// down in reverse order (spec §9 Global state).
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	metrics     *observability.Metrics
	registry    *registry.Registry
	manager     *dbpool.Manager
	schemaCache *schema.Cache
	llmClient   llm.Client
	historyLog  *history.Store
	orc         *orchestrator.Orchestrator
}

// buildApp wires every component from a loaded configuration, grounded on
// the teacher's cmd/migrate/main.go bootstrap sequence generalized across
// this gateway's component set.
func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config_error: %w", err)
	}

	log := logger.NewLogger(logger.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
		Output: "stdout",
	})
	metrics := observability.New()

	reg := registry.New()
	for _, d := range cfg.Databases {
		if err := reg.Register(registry.Descriptor{
			Name:             d.Name,
			Dialect:          registry.Dialect(d.Dialect),
			URI:              d.URI,
			PoolMin:          d.PoolMin,
			PoolMax:          d.PoolMax,
			StatementTimeout: time.Duration(d.StatementTimeoutS) * time.Second,
			RowCap:           d.RowCap,
			AllowedTables:    d.AllowedTables,
		}); err != nil {
			return nil, fmt.Errorf("config_error: %w", err)
		}
	}

	manager := dbpool.NewManager(reg, log, metrics)
	manager.RegisterDriver(postgresdriver.Driver{})
	manager.RegisterDriver(mysqldriver.Driver{})

	schemaCache := schema.NewCache(manager, reg, cfg.Cache.TTL(), log, metrics)
	if cfg.Cache.RefreshBackground {
		schemaCache.StartBackgroundRefresh(cfg.Cache.TTL() / 2)
	}

	assembler := prompt.NewAssembler(0)

	llmClient, err := llm.NewHTTPClient(llm.Config{
		BaseURL:    cfg.LLM.BaseURL,
		APIKey:     cfg.LLM.APIKey,
		Model:      cfg.LLM.Model,
		Timeout:    cfg.LLM.Timeout(),
		MaxRetries: cfg.Resilience.MaxRetries,
		RateLimit:  cfg.Resilience.RateLimitRPS,
		RateBurst:  cfg.Resilience.RateLimitBurst,
		CircuitBreaker: llm.CircuitBreakerConfig{
			MaxFailures:      cfg.Resilience.BreakerThreshold,
			ResetTimeout:     cfg.Resilience.BreakerCooldown(),
			FailureThreshold: 0.5,
			TimeWindow:       time.Minute,
			SlowCallDuration: 5 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}, log, metrics)
	if err != nil {
		return nil, fmt.Errorf("config_error: %w", err)
	}

	exec := executor.NewExecutor(manager, log, metrics)
	judge := confidence.NewJudge(llmClient, log)

	historyLog, err := history.Open(ctx, cfg.History.Path, log)
	if err != nil {
		return nil, fmt.Errorf("config_error: %w", err)
	}

	orcCfg := orchestrator.DefaultConfig()
	orcCfg.OverallTimeout = cfg.Server.OverallTimeout()
	orcCfg.AllowWrite = cfg.Security.AllowWrite
	orcCfg.BlockedFunctions = cfg.Security.BlockedFunctions
	orcCfg.MaxRows = cfg.Security.MaxRows
	orcCfg.AllowExplain = cfg.Security.AllowExplain

	orc := orchestrator.New(reg, schemaCache, assembler, llmClient, exec, judge, orcCfg, log, metrics)

	return &app{
		cfg:         cfg,
		logger:      log,
		metrics:     metrics,
		registry:    reg,
		manager:     manager,
		schemaCache: schemaCache,
		llmClient:   llmClient,
		historyLog:  historyLog,
		orc:         orc,
	}, nil
}

// shutdown tears down singletons in reverse order with an enforced deadline
// (spec §5 Shutdown, §9 Global state).
func (a *app) shutdown(ctx context.Context, deadline time.Duration) {
	a.schemaCache.Stop(deadline)
	a.manager.CloseAll(ctx, deadline)
	if a.historyLog != nil {
		_ = a.historyLog.Close()
	}
}
