package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muchaco/council/agent/circuitbreaker"
	"github.com/muchaco/council/agent/conductor"
	"github.com/muchaco/council/agent/persistence"
	"github.com/muchaco/council/agent/selector"
	"github.com/muchaco/council/api"
	"github.com/muchaco/council/api/handlers"
	"github.com/muchaco/council/config"
	"github.com/muchaco/council/internal/archive"
	"github.com/muchaco/council/internal/cache"
	"github.com/muchaco/council/internal/database"
	"github.com/muchaco/council/internal/metrics"
	"github.com/muchaco/council/internal/migration"
	"github.com/muchaco/council/internal/server"
	"github.com/muchaco/council/internal/telemetry"
	"github.com/muchaco/council/llm"
	"github.com/muchaco/council/llm/gemini"
	"github.com/muchaco/council/llm/retry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 Council 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	collector *metrics.Collector
	telemetry *telemetry.Providers
	db        *database.PoolManager
	cache     *cache.Manager
	archive   *archive.MongoSink
	conductor *conductor.Conductor
	health    *handlers.HealthHandler
	reloader  *config.Reloader

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
	}
}

// Run wires every component, serves until ctx is done and then shuts
// everything down.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	if err := s.init(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}
	g.Go(func() error {
		s.watchHub(gctx)
		return nil
	})
	if s.reloader != nil {
		if err := s.reloader.Start(gctx); err != nil {
			s.logger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.reloader != nil),
	)
	return g.Wait()
}

// =============================================================================
// 🔧 初始化
// =============================================================================

func (s *Server) init(ctx context.Context) error {
	s.collector = metrics.NewCollector("council", s.logger)

	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	s.health = handlers.NewHealthHandler(handlers.BuildInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	}, s.logger)

	store, err := s.initStore(ctx)
	if err != nil {
		return err
	}
	states, err := s.initCache()
	if err != nil {
		return err
	}
	gateway := s.initGateway()

	deps := conductor.Deps{
		Store:    store,
		Gateway:  gateway,
		States:   states,
		Recorder: s.collector,
	}
	if s.cfg.Archive.Enabled {
		sink, err := archive.NewMongoSink(ctx, s.cfg.Archive, s.logger)
		if err != nil {
			return fmt.Errorf("init archive: %w", err)
		}
		s.archive = sink
		deps.Archive = sink
		s.health.RegisterCheck(handlers.NewCheck("archive", sink.Ping))
	}

	s.conductor, err = conductor.New(deps, conductorConfig(s.cfg.Conductor), s.logger)
	if err != nil {
		return fmt.Errorf("init conductor: %w", err)
	}

	if s.configPath != "" {
		s.initReloader()
	}

	if err := s.initHTTPServer(ctx, gateway); err != nil {
		return err
	}
	s.initMetricsServer()
	return nil
}

// initStore 打开数据库、按需执行迁移并创建存储
func (s *Server) initStore(ctx context.Context) (persistence.Store, error) {
	if s.cfg.Database.Driver == "memory" {
		s.logger.Warn("using in-memory store, sessions are lost on restart")
		return persistence.NewMemoryStore(), nil
	}

	if s.cfg.Database.AutoMigrate {
		if err := s.migrateUp(ctx); err != nil {
			return nil, err
		}
	}

	db, err := database.Open(s.cfg.Database, s.logger, database.WithStatsRecorder(s.collector))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.db = db
	s.health.RegisterCheck(handlers.NewCheck("database", db.Ping))

	return persistence.NewStore(ctx, persistence.StoreConfig{Type: persistence.StoreTypeGorm}, db.DB(), s.logger)
}

func (s *Server) migrateUp(ctx context.Context) error {
	m, err := migration.NewMigratorFromDatabaseConfig(s.cfg.Database, s.logger)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, dirty, err := m.Version(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("database schema up to date", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// initCache connects Redis when enabled. Without it conductor states live
// in process memory.
func (s *Server) initCache() (conductor.StateStore, error) {
	if !s.cfg.Redis.Enabled {
		return conductor.NewMemoryStateStore(), nil
	}
	cc := cache.DefaultConfig()
	cc.Addr = s.cfg.Redis.Addr
	cc.Password = s.cfg.Redis.Password
	cc.DB = s.cfg.Redis.DB
	cc.TLS = s.cfg.Redis.TLS
	if s.cfg.Redis.KeyPrefix != "" {
		cc.KeyPrefix = s.cfg.Redis.KeyPrefix
	}
	if s.cfg.Redis.PoolSize > 0 {
		cc.PoolSize = s.cfg.Redis.PoolSize
	}
	if s.cfg.Redis.MinIdleConns > 0 {
		cc.MinIdleConns = s.cfg.Redis.MinIdleConns
	}

	mgr, err := cache.NewManager(cc, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	s.cache = mgr
	s.health.RegisterCheck(handlers.NewCheck("redis", mgr.Ping))
	return conductor.NewRedisStateStore(mgr, s.cfg.Redis.StateTTL), nil
}

// initGateway builds gemini → observed → cached.
func (s *Server) initGateway() llm.Gateway {
	var secrets llm.ChainSecret
	if s.cfg.LLM.APIKey != "" {
		secrets = append(secrets, llm.StaticSecret(s.cfg.LLM.APIKey))
	}
	if s.cfg.LLM.APIKeyEnv != "" {
		secrets = append(secrets, llm.EnvSecret{Var: s.cfg.LLM.APIKeyEnv})
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = s.cfg.LLM.MaxRetries

	base := gemini.New(gemini.Config{
		BaseURL: s.cfg.LLM.BaseURL,
		Timeout: s.cfg.LLM.Timeout,
		Retry:   policy,
	}, secrets, s.logger)
	observed := llm.NewObservedGateway(base, s.collector, s.logger)

	var modelCache llm.ModelCache
	if s.cache != nil {
		modelCache = s.cache
	}
	return llm.NewCachedGateway(observed, modelCache, s.cfg.LLM.ModelCacheTTL, s.logger).WithRecorder(s.collector)
}

// initReloader 热更新 conductor 配置与日志级别
func (s *Server) initReloader() {
	s.reloader = config.NewReloader(s.cfg,
		config.WithReloaderLogger(s.logger),
		config.WithReloadPath(s.configPath),
	)
	s.reloader.OnReload(func(_, newConfig *config.Config) error {
		s.conductor.ApplyConfig(conductorConfig(newConfig.Conductor))
		s.level.SetLevel(parseLevel(newConfig.Log.Level))
		s.logger.Info("Configuration reloaded",
			zap.Int("max_auto_replies", newConfig.Conductor.MaxAutoReplies),
			zap.String("log_level", newConfig.Log.Level))
		return nil
	})
}

// conductorConfig maps the config file section onto the conductor.
func conductorConfig(c config.ConductorConfig) conductor.Config {
	return conductor.Config{
		Limits: circuitbreaker.Limits{
			MaxAutoReplies:   c.MaxAutoReplies,
			TokenBudget:      c.TokenBudgetDefault,
			WarningThreshold: c.TokenWarningThreshold,
		},
		Selector: selector.Config{
			Temperature:  c.SelectorTemperature,
			MaxTokens:    c.SelectorMaxTokens,
			RecentWindow: c.RecentWindow,
		},
		HushPresets: append([]int(nil), c.HushPresets...),
	}
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) initHTTPServer(ctx context.Context, gateway llm.Gateway) error {
	mux := api.NewMux(
		s.health,
		handlers.NewSessionHandler(s.conductor, s.logger),
		handlers.NewConductorHandler(s.conductor, s.logger),
		handlers.NewModelHandler(gateway, s.logger),
		handlers.NewEventsHandler(s.conductor, handlers.EventsConfig{
			OriginPatterns: originPatterns(s.cfg.Server.CORSAllowedOrigins),
		}, s.logger),
	)

	chain := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	}
	if s.cfg.Auth.Enabled {
		chain = append(chain, JWTAuth(s.cfg.Auth.JWT, s.cfg.Auth.SkipPaths, s.logger))
	}

	sc := server.DefaultConfig()
	sc.Addr = fmt.Sprintf(":%d", s.cfg.Server.HTTPPort)
	if s.cfg.Server.ReadTimeout > 0 {
		sc.ReadTimeout = s.cfg.Server.ReadTimeout
		sc.IdleTimeout = 2 * s.cfg.Server.ReadTimeout
	}
	if s.cfg.Server.WriteTimeout > 0 {
		sc.WriteTimeout = s.cfg.Server.WriteTimeout
	}
	if s.cfg.Server.ShutdownTimeout > 0 {
		sc.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	}
	sc.TLSCertFile = s.cfg.Server.TLSCertFile
	sc.TLSKeyFile = s.cfg.Server.TLSKeyFile

	s.httpManager = server.NewManager(Chain(mux, chain...), sc, s.logger)
	return s.httpManager.Listen()
}

// originPatterns turns CORS origins into websocket host patterns.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		if o != "" {
			out = append(out, strings.TrimRight(o, "/"))
		}
	}
	return out
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) initMetricsServer() {
	if s.cfg.Server.MetricsPort <= 0 {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	sc := server.DefaultConfig()
	sc.Name = "metrics"
	sc.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
	s.metricsManager = server.NewManager(mux, sc, s.logger)
}

// watchHub exports the dropped-event counter until ctx is done.
func (s *Server) watchHub(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collector.SetEventsDropped(s.conductor.Hub().Dropped())
		}
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

func (s *Server) close() {
	s.logger.Info("Starting graceful shutdown...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if s.reloader != nil {
		errs = append(errs, s.reloader.Stop())
	}
	if s.conductor != nil {
		s.conductor.Hub().Close()
	}
	if s.archive != nil {
		errs = append(errs, s.archive.Close(ctx))
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown error", zap.Error(err))
	}
	s.logger.Info("Graceful shutdown completed")
}
