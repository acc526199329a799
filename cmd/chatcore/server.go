package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/xpio/chatcore/api/handlers"
	"github.com/xpio/chatcore/config"
	"github.com/xpio/chatcore/engine"
	"github.com/xpio/chatcore/experiment"
	"github.com/xpio/chatcore/handoff"
	"github.com/xpio/chatcore/internal/metrics"
	"github.com/xpio/chatcore/internal/server"
	"github.com/xpio/chatcore/internal/telemetry"
	"github.com/xpio/chatcore/llm"
	"github.com/xpio/chatcore/operator"
	"github.com/xpio/chatcore/persistence"
	"github.com/xpio/chatcore/providers/openai"
	"github.com/xpio/chatcore/schedule"
	"github.com/xpio/chatcore/session"
	"github.com/xpio/chatcore/tools"
	"github.com/xpio/chatcore/types"
)

// Server wires the engine and its collaborators from configuration and owns
// their lifecycle.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	telemetry *telemetry.Provider
	writer    *persistence.Writer
	gateway   *persistence.GormGateway
	sessions  *session.Store
	redis     *redis.Client
	engine    *engine.Engine
	provider  *openai.Provider

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer builds every component. Nothing is listening yet; Run starts the
// listeners.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	s.collector = metrics.NewCollector("chatcore", logger)

	tel, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.telemetry = tel

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.gateway, err = persistence.NewGormGateway(db, logger)
	if err != nil {
		return nil, fmt.Errorf("init persistence gateway: %w", err)
	}

	s.writer = persistence.NewWriter(s.gateway, persistence.Config{
		MaxRetries:   cfg.Persistence.MaxRetries,
		RetryBackoff: cfg.Persistence.RetryBackoff,
		QueueSize:    cfg.Persistence.QueueSize,
		WriteTimeout: cfg.Persistence.WriteTimeout,
	}, logger)
	s.writer.SetObserver(s.collector)

	selector, err := s.buildSelector()
	if err != nil {
		return nil, fmt.Errorf("init experiment selector: %w", err)
	}

	// Evicted conversations get one final durable flush.
	s.sessions = session.NewStore(session.Config{
		IdleTTL:      cfg.Session.IdleTTL,
		ReapInterval: cfg.Session.ReapInterval,
	}, nil, func(conv *types.Conversation) {
		s.writer.EnqueueUpdate(conv)
		s.collector.RecordSessionReaped()
	}, logger)

	s.provider = openai.New(openai.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	}, logger)
	client := llm.NewClient(s.provider, llm.NewTokenCounter(cfg.LLM.Model, logger), logger)

	var channel operator.Channel
	if cfg.Handoff.OperatorWebhookURL != "" {
		channel = operator.NewHTTPChannel(operator.Config{
			WebhookURL: cfg.Handoff.OperatorWebhookURL,
			Timeout:    cfg.Handoff.OperatorTimeout,
		}, logger)
	} else {
		logger.Warn("operator webhook not configured, handoffs disabled")
	}

	registry, err := s.buildRegistry(channel, logger)
	if err != nil {
		return nil, fmt.Errorf("init tool registry: %w", err)
	}

	s.engine = engine.New(engine.Config{
		SystemPrompt: cfg.Engine.SystemPrompt,
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  float32(cfg.LLM.Temperature),
		MaxToolChain: cfg.Engine.MaxToolChain,
		TurnTimeout:  cfg.Engine.TurnTimeout,
	}, engine.Options{
		Sessions: s.sessions,
		Writer:   s.writer,
		Gateway:  s.gateway,
		Selector: selector,
		Client:   client,
		Registry: registry,
		Executor: tools.NewExecutor(registry, logger),
		Arbiter:  handoff.NewArbiter(cfg.Handoff.InactivityThreshold, nil, logger),
		Channel:  channel,
		Metrics:  s.collector,
		Logger:   logger,
	})

	s.buildManagers()
	return s, nil
}

// buildSelector converts configured experiments and picks the assignment
// store backend.
func (s *Server) buildSelector() (*experiment.Selector, error) {
	var exps []*experiment.Experiment
	for _, ec := range s.cfg.Experiments.Experiments {
		exp := &experiment.Experiment{Name: ec.Name}
		for _, vc := range ec.Variants {
			exp.Variants = append(exp.Variants, experiment.Variant{
				Name:         vc.Name,
				Weight:       vc.Weight,
				Model:        vc.Model,
				SystemPrompt: vc.SystemPrompt,
				Temperature:  vc.Temperature,
			})
		}
		exps = append(exps, exp)
	}

	var store experiment.AssignmentStore
	if s.cfg.Experiments.Store == "redis" && s.cfg.Redis.Enabled {
		s.redis = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
		store = experiment.NewRedisAssignmentStore(s.redis, 0)
		s.logger.Info("assignment store: redis", zap.String("addr", s.cfg.Redis.Addr))
	} else {
		store = experiment.NewMemoryAssignmentStore()
		s.logger.Info("assignment store: memory")
	}

	return experiment.NewSelector(exps, store, nil, s.logger)
}

func (s *Server) buildRegistry(channel operator.Channel, logger *zap.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(logger)
	meta := tools.Metadata{Timeout: s.cfg.Engine.ToolTimeout}

	if err := registry.Register(tools.NewCaptureLead(s.writer, s.gateway, logger), meta); err != nil {
		return nil, err
	}
	if s.cfg.Schedule.BaseURL != "" {
		scheduleClient := schedule.NewClient(schedule.Config{
			BaseURL: s.cfg.Schedule.BaseURL,
			APIKey:  s.cfg.Schedule.APIKey,
			Timeout: s.cfg.Schedule.Timeout,
		}, logger)
		if err := registry.Register(tools.NewCheckSchedule(scheduleClient), meta); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("schedule service not configured, availability tool disabled")
	}
	if channel != nil {
		if err := registry.Register(tools.NewRequestHandoff(channel), meta); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (s *Server) buildManagers() {
	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("database", s.gateway.Ping))
	health.RegisterCheck(handlers.NewPingCheck("provider", func(ctx context.Context) error {
		_, err := s.provider.HealthCheck(ctx)
		return err
	}))
	if s.redis != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}

	router := server.NewRouter(server.RouterOptions{
		Engine:        s.engine,
		Health:        health,
		WebhookSecret: s.cfg.Server.WebhookSecret,
		Version:       Version,
		BuildTime:     BuildTime,
		GitCommit:     GitCommit,
		Logger:        s.logger,
	})

	// WriteTimeout stays zero on the API server: SSE turns outlive any fixed
	// deadline.
	s.httpManager = server.NewManager(router, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    0,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	s.metricsManager = server.NewManager(metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
}

// Run starts the listeners and the session reaper and blocks until a shutdown
// signal or a fatal serve error.
func (s *Server) Run() error {
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}
	if err := s.metricsManager.Start(); err != nil {
		return fmt.Errorf("start metrics server: %w", err)
	}
	s.logger.Info("chatcore serving",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-s.httpManager.Errors():
			return err
		case <-gctx.Done():
			return nil
		}
	})
	g.Go(func() error {
		select {
		case err := <-s.metricsManager.Errors():
			return err
		case <-gctx.Done():
			return nil
		}
	})

	err := g.Wait()
	s.shutdown()
	return err
}

// shutdown stops components in dependency order: listeners first, then the
// write queue so every mirrored event drains.
func (s *Server) shutdown() {
	s.logger.Info("starting graceful shutdown")
	ctx := context.Background()

	if err := s.httpManager.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := s.metricsManager.Shutdown(ctx); err != nil {
		s.logger.Error("metrics server shutdown error", zap.Error(err))
	}

	s.sessions.Stop()
	s.writer.Close()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown error", zap.Error(err))
	}
	s.logger.Info("graceful shutdown completed")
}

// openDatabase opens the configured relational backend.
func openDatabase(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = gormpostgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, sqlite)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	logger.Info("database connected", zap.String("driver", cfg.Driver))
	return db, nil
}
