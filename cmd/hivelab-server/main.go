package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/campushive/hivelab/internal/automation"
	"github.com/campushive/hivelab/internal/composition"
	"github.com/campushive/hivelab/internal/deployment"
	"github.com/campushive/hivelab/internal/elements"
	"github.com/campushive/hivelab/internal/execution"
	"github.com/campushive/hivelab/internal/genbridge"
	"github.com/campushive/hivelab/internal/notify"
	"github.com/campushive/hivelab/internal/permission"
	"github.com/campushive/hivelab/internal/profile"
	"github.com/campushive/hivelab/internal/runlog"
	"github.com/campushive/hivelab/internal/server"
	"github.com/campushive/hivelab/internal/state"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("HIVELAB_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("HIVELAB_PORT", "8086")
	actionTimeoutMs := envOrDefaultInt("HIVELAB_ACTION_TIMEOUT_MS", 5000)
	maxDepth := envOrDefaultInt("HIVELAB_MAX_CASCADE_DEPTH", 5)
	authCacheTTL := envOrDefaultInt("HIVELAB_AUTH_CACHE_TTL_S", 30)
	permCacheTTL := envOrDefaultInt("HIVELAB_PERM_CACHE_TTL_S", 30)
	tickEvery := envOrDefaultInt("HIVELAB_SCHEDULE_TICK_S", 60)
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	generateURL := os.Getenv("HIVELAB_GENERATE_URL")
	generateKey := os.Getenv("HIVELAB_GENERATE_API_KEY")
	devCampus := envOrDefault("HIVELAB_DEV_CAMPUS_ID", "campus-dev")

	logger.Info("starting hivelab server",
		zap.String("port", port),
		zap.Int("action_timeout_ms", actionTimeoutMs),
		zap.Int("max_cascade_depth", maxDepth),
	)

	// Element registry — fails fast on a bad catalog schema
	registry, err := elements.NewRegistry()
	if err != nil {
		logger.Fatal("failed to build element registry", zap.Error(err))
	}

	// Run log — ClickHouse or LogWriter fallback
	var runs runlog.Writer
	if clickhouseDSN != "" {
		chWriter, err := runlog.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			runs = runlog.NewLogWriter(logger)
		} else {
			runs = chWriter
			logger.Info("clickhouse run log connected")
		}
	} else {
		runs = runlog.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer runs.Close()

	// Stores and collaborators — Postgres if DSN provided, otherwise in-memory
	// dev mode with static auth
	var (
		tools         composition.Store
		deployments   deployment.Store
		states        state.Store
		automations   automation.Store
		checker       permission.Checker
		authenticator permission.Authenticator
		profiles      profile.Service
	)
	if postgresDSN != "" {
		db, err := sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}

		tools = composition.NewPostgresStore(db, logger)
		deployments = deployment.NewPostgresStore(db)
		states = state.NewPostgresStore(db, logger)
		automations = automation.NewPostgresStore(db, logger)
		checker = permission.NewPostgresChecker(permission.PostgresCheckerConfig{
			DB:       db,
			CacheTTL: time.Duration(permCacheTTL) * time.Second,
			Logger:   logger,
		})
		authenticator = permission.NewPostgresAuthenticator(permission.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			Logger:   logger,
		})
		profiles = profile.NewPostgresService(profile.Config{DB: db, Logger: logger})
		logger.Info("postgres stores connected")
	} else {
		tools = composition.NewMemoryStore()
		deployments = deployment.NewMemoryStore()
		states = state.NewMemoryStore()
		automations = automation.NewMemoryStore()
		checker = permission.NewStaticChecker()
		authenticator = permission.NewStaticAuthenticator(devCampus)
		profiles = profile.NewStaticService()
		logger.Info("no POSTGRES_DSN set, using in-memory stores and static auth")
	}

	notifier := notify.NewLogNotifier(logger)

	// Automation engine and executor reference each other through interfaces;
	// the executor applies trigger_tool events, the engine hooks element events.
	engine := automation.NewEngine(automations, states, notifier, runs, automation.Config{
		ActionTimeout: time.Duration(actionTimeoutMs) * time.Millisecond,
		MaxDepth:      maxDepth,
	}, logger)
	resolver := deployment.NewResolver(deployments, tools)
	executor := execution.NewExecutor(registry, resolver, states, notifier, engine, logger)
	engine.SetApplier(executor)

	deploySvc := deployment.NewService(deployments, tools, states, automations, checker, logger)

	var generator *genbridge.Service
	if generateURL != "" {
		generator = genbridge.NewService(genbridge.NewHTTPGenerator(genbridge.HTTPGeneratorConfig{
			Endpoint: generateURL,
			APIKey:   generateKey,
		}), registry, logger)
		logger.Info("generation bridge configured", zap.String("endpoint", generateURL))
	} else {
		logger.Info("no HIVELAB_GENERATE_URL set, generation disabled")
	}

	srv := server.New(server.Config{
		Registry:    registry,
		Tools:       tools,
		Deployments: deploySvc,
		Executor:    executor,
		Engine:      engine,
		Automations: automations,
		Generator:   generator,
		Profiles:    profiles,
		Auth:        authenticator,
		Logger:      logger,
	})

	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Schedule tick loop
	tickCtx, stopTick := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Duration(tickEvery) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case now := <-ticker.C:
				ran := engine.RunDue(tickCtx, now)
				if ran > 0 {
					logger.Info("schedule tick", zap.Int("ran", ran))
				}
			}
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		stopTick()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("hivelab server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
