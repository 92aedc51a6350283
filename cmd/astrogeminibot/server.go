package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/BaSui01/astrogeminibot/api/handlers"
	"github.com/BaSui01/astrogeminibot/config"
	"github.com/BaSui01/astrogeminibot/internal/bot"
	"github.com/BaSui01/astrogeminibot/internal/cache"
	"github.com/BaSui01/astrogeminibot/internal/conversation"
	"github.com/BaSui01/astrogeminibot/internal/database"
	"github.com/BaSui01/astrogeminibot/internal/metrics"
	"github.com/BaSui01/astrogeminibot/internal/ratelimit"
	"github.com/BaSui01/astrogeminibot/internal/server"
	"github.com/BaSui01/astrogeminibot/internal/telegram"
	"github.com/BaSui01/astrogeminibot/internal/telemetry"
	"github.com/BaSui01/astrogeminibot/internal/usage"
	"github.com/BaSui01/astrogeminibot/llm"
	"github.com/BaSui01/astrogeminibot/llm/circuitbreaker"
	"github.com/BaSui01/astrogeminibot/llm/providers"
	"github.com/BaSui01/astrogeminibot/llm/providers/gemini"
	"github.com/BaSui01/astrogeminibot/llm/providers/openai"
	"github.com/BaSui01/astrogeminibot/llm/providers/together"
	"github.com/BaSui01/astrogeminibot/llm/retry"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🖥️ App 结构
// =============================================================================

// App 持有进程内的全部组件。准入与对话状态只存在于内存中。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	collector *metrics.Collector
	otel      *telemetry.Providers

	limiter    *ratelimit.Limiter
	store      *conversation.Store
	catalog    *llm.Catalog
	dispatcher *bot.Dispatcher

	// 可选组件，未启用或不可用时为 nil
	cache    *cache.Manager
	pool     *database.PoolManager
	ledger   *usage.Ledger
	telegram *telegram.Client
}

// NewApp 按配置构建所有组件。Redis 与数据库不可用时降级而不是失败。
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, collector *metrics.Collector, otelProviders *telemetry.Providers) (*App, error) {
	a := &App{cfg: cfg, logger: logger, collector: collector, otel: otelProviders}

	var err error
	a.limiter, err = ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.Messages,
		Window:      cfg.RateLimit.Window,
	}, logger, ratelimit.WithRecorder(collector))
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	a.store, err = conversation.New(conversation.Config{
		MaxHistory: cfg.Conversation.MaxHistory,
		Timeout:    cfg.Conversation.Timeout,
	}, logger, conversation.WithSweepRecorder(collector))
	if err != nil {
		return nil, fmt.Errorf("conversation store: %w", err)
	}

	a.catalog = llm.NewCatalog(buildProviders(cfg.Providers, logger)...)
	if a.catalog.Empty() {
		logger.Warn("no AI providers configured, chat requests will fail")
	}

	prefs := a.openPreferences()
	a.openLedger(ctx)

	opts := []bot.Option{
		bot.WithMetrics(collector),
		bot.WithTracer(otelProviders.Tracer()),
	}
	if a.ledger != nil {
		opts = append(opts, bot.WithLedger(a.ledger))
	}
	if cfg.Telegram.Enabled {
		a.telegram, err = telegram.NewClient(telegram.Config{
			Token:             cfg.Telegram.Token,
			BaseURL:           cfg.Telegram.BaseURL,
			Timeout:           cfg.Telegram.PollTimeout + 15*time.Second,
			MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
		}, logger)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("telegram client: %w", err)
		}
		opts = append(opts, bot.WithTyping(a.telegram.Typing))
	}

	a.dispatcher = bot.NewDispatcher(bot.Config{
		MaxTokens:      cfg.Bot.MaxTokens,
		Temperature:    float32(cfg.Bot.Temperature),
		RequestTimeout: cfg.Bot.RequestTimeout,
		AdminIDs:       cfg.Bot.AdminUserIDs,
	}, a.limiter, a.store, a.catalog, prefs, logger, opts...)

	logger.Info("components initialized",
		zap.Strings("providers", a.catalog.ProviderNames()),
		zap.Int("rate_limit_messages", cfg.RateLimit.Messages),
		zap.Duration("rate_limit_window", cfg.RateLimit.Window),
		zap.Bool("redis", a.cache != nil),
		zap.Bool("usage_ledger", a.ledger != nil),
		zap.Bool("telegram", a.telegram != nil),
	)
	return a, nil
}

// openPreferences 启用 Redis 时使用 Redis 偏好存储，连接失败回退到内存
func (a *App) openPreferences() bot.PreferenceStore {
	defaultModel := a.cfg.Bot.DefaultModel
	if !a.cfg.Redis.Enabled {
		return bot.NewMemoryPreferenceStore(defaultModel)
	}
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = a.cfg.Redis.Addr
	cacheCfg.Password = a.cfg.Redis.Password
	cacheCfg.DB = a.cfg.Redis.DB
	cacheCfg.KeyPrefix = a.cfg.Redis.KeyPrefix
	if a.cfg.Redis.PoolSize > 0 {
		cacheCfg.PoolSize = a.cfg.Redis.PoolSize
	}
	if a.cfg.Redis.MinIdleConns > 0 {
		cacheCfg.MinIdleConns = a.cfg.Redis.MinIdleConns
	}

	cm, err := cache.NewManager(cacheCfg, a.logger)
	if err != nil {
		a.logger.Warn("redis not available, model preferences kept in memory", zap.Error(err))
		return bot.NewMemoryPreferenceStore(defaultModel)
	}
	a.cache = cm
	return bot.NewRedisPreferenceStore(cm, defaultModel, a.collector)
}

// openLedger 打开用量账本；SQLite 在启动时建表，其它驱动依赖 migrate 命令
func (a *App) openLedger(ctx context.Context) {
	if !a.cfg.Database.Enabled {
		return
	}
	dbCfg := ledgerDatabaseConfig(a.cfg.Database)
	db, err := database.Open(dbCfg, a.logger)
	if err != nil {
		a.logger.Warn("database not available, usage ledger disabled", zap.Error(err))
		return
	}
	pool, err := database.NewPoolManager(db, dbCfg.Pool, a.logger, database.WithStatsRecorder(a.collector))
	if err != nil {
		a.logger.Warn("database pool setup failed, usage ledger disabled", zap.Error(err))
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return
	}
	ledger := usage.NewLedger(pool.DB(), a.logger, usage.WithTransactor(pool))
	if dbCfg.Driver == database.DriverSQLite {
		if err := ledger.AutoMigrate(ctx); err != nil {
			a.logger.Warn("usage ledger auto-migrate failed, usage ledger disabled", zap.Error(err))
			_ = pool.Close()
			return
		}
	}
	a.pool = pool
	a.ledger = ledger
	a.logger.Info("usage ledger enabled", zap.String("driver", dbCfg.Driver))
}

// ledgerDatabaseConfig 把配置文件中的数据库段转换为 internal/database 配置
func ledgerDatabaseConfig(cfg config.DatabaseConfig) database.Config {
	pool := database.DefaultPoolConfig()
	if cfg.MaxOpenConns > 0 {
		pool.MaxOpenConns = cfg.MaxOpenConns
	}
	if cfg.MaxIdleConns > 0 {
		pool.MaxIdleConns = cfg.MaxIdleConns
	}
	if cfg.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.ConnMaxLifetime
	}
	if pool.MaxIdleConns > pool.MaxOpenConns {
		pool.MaxIdleConns = pool.MaxOpenConns
	}
	return database.Config{Driver: cfg.Driver, DSN: cfg.DSN(), Pool: pool}
}

// =============================================================================
// 🔧 Provider 装配
// =============================================================================

// buildProviders 为每个配置了 API Key 的上游创建 Provider，并包上重试与熔断
func buildProviders(cfg config.ProvidersConfig, logger *zap.Logger) []llm.Provider {
	var out []llm.Provider
	if c := cfg.OpenAI; c.APIKey != "" {
		out = append(out, openai.NewOpenAIProvider(providers.OpenAIConfig{BaseProviderConfig: baseProviderConfig(c)}, logger))
	}
	if c := cfg.Gemini; c.APIKey != "" {
		out = append(out, gemini.NewGeminiProvider(providers.GeminiConfig{BaseProviderConfig: baseProviderConfig(c)}, logger))
	}
	if c := cfg.Together; c.APIKey != "" {
		out = append(out, together.NewTogetherProvider(providers.TogetherConfig{BaseProviderConfig: baseProviderConfig(c)}, logger))
	}

	resilience := resilienceConfig(cfg)
	for i, p := range out {
		out[i] = llm.NewResilientProvider(p, resilience, logger)
	}
	return out
}

func baseProviderConfig(c config.ProviderConfig) providers.BaseProviderConfig {
	return providers.BaseProviderConfig{APIKey: c.APIKey, BaseURL: c.BaseURL, Timeout: c.Timeout}
}

// resilienceConfig 0 值关闭对应能力
func resilienceConfig(cfg config.ProvidersConfig) *llm.ResilientProviderConfig {
	rc := &llm.ResilientProviderConfig{}
	if cfg.MaxRetries > 0 {
		policy := retry.DefaultPolicy()
		policy.MaxRetries = cfg.MaxRetries
		rc.RetryPolicy = policy
	}
	if cfg.BreakerThreshold > 0 {
		cb := circuitbreaker.DefaultConfig()
		cb.Threshold = cfg.BreakerThreshold
		rc.CircuitBreaker = cb
	}
	return rc
}

// =============================================================================
// 🌐 HTTP 路由
// =============================================================================

const (
	apiPrefix   = "/api/"
	adminPrefix = "/api/v1/admin/"
	wsPath      = "/api/v1/ws"
	adminRole   = "admin"
)

// Handler 构建带完整中间件链的 HTTP API。ctx 控制限流器清理 goroutine 的生命周期。
func (a *App) Handler(ctx context.Context) http.Handler {
	health := handlers.NewHealthHandler(a.logger)
	health.RegisterCheck(handlers.NewCatalogCheck(a.catalog))
	for _, name := range a.catalog.Providers() {
		if p, ok := a.catalog.Provider(name); ok {
			health.RegisterCheck(handlers.NewProviderHealthCheck(p))
		}
	}
	if a.cache != nil {
		health.RegisterCheck(handlers.NewPingCheck("redis", a.cache.Ping))
	}
	if a.pool != nil {
		health.RegisterCheck(handlers.NewPingCheck("database", a.pool.Ping))
	}

	var usageReader handlers.UsageReader
	if a.ledger != nil {
		usageReader = a.ledger
	}
	chat := handlers.NewChatHandler(a.dispatcher, a.logger)
	users := handlers.NewUserHandler(a.dispatcher, a.logger)
	admin := handlers.NewAdminHandler(a.dispatcher, usageReader, a.logger)
	ws := handlers.NewWSHandler(a.dispatcher, a.cfg.Server.CORSAllowedOrigins, a.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/chat", chat.HandleChat)
	mux.HandleFunc("GET /api/v1/ws", ws.HandleWS)
	mux.HandleFunc("GET /api/v1/users/{id}/stats", users.HandleStats)
	mux.HandleFunc("DELETE /api/v1/users/{id}/conversation", users.HandleClearConversation)

	mux.HandleFunc("GET /api/v1/admin/stats", admin.HandleStats)
	mux.HandleFunc("POST /api/v1/admin/users/{id}/reset", admin.HandleResetUser)
	mux.HandleFunc("GET /api/v1/admin/users/{id}/usage", admin.HandleUsage)

	middlewares := []Middleware{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		Observe(a.logger, a.collector),
		CORS(a.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst, a.logger),
	}
	if len(a.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(a.cfg.Server.APIKeys, apiPrefix, []string{wsPath}, a.logger))
	} else {
		a.logger.Warn("no API keys configured, /api/ routes are unauthenticated")
	}
	if a.cfg.Server.JWTSecret != "" {
		middlewares = append(middlewares, JWTAuth(a.cfg.Server.JWTSecret, adminPrefix, adminRole, a.logger))
	}
	return Chain(mux, middlewares...)
}

// metricsHandler 独立端口上的 Prometheus 抓取端点
func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 启动所有后台循环并阻塞到 ctx 结束或任一循环失败
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	sweep := a.cfg.Conversation.SweepInterval
	if sweep <= 0 {
		sweep = a.cfg.Conversation.Timeout
	}
	g.Go(func() error { return a.store.Run(ctx, sweep) })

	if a.telegram != nil {
		poller := telegram.NewPoller(a.telegram, a.dispatcher, telegram.PollerConfig{
			PollTimeout:   a.cfg.Telegram.PollTimeout,
			Concurrency:   a.cfg.Telegram.Concurrency,
			HandleTimeout: a.cfg.Bot.RequestTimeout + 30*time.Second,
		}, a.logger, telegram.WithUpdateRecorder(a.collector))
		g.Go(func() error { return poller.Run(ctx) })
	}

	if a.cfg.Server.HTTPEnabled {
		api := server.NewManager(a.Handler(ctx), server.Config{
			Name:            "api",
			Addr:            fmt.Sprintf(":%d", a.cfg.Server.HTTPPort),
			ReadTimeout:     a.cfg.Server.ReadTimeout,
			WriteTimeout:    a.cfg.Server.WriteTimeout,
			IdleTimeout:     2 * a.cfg.Server.ReadTimeout,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
			TLSCertFile:     a.cfg.Server.TLSCertFile,
			TLSKeyFile:      a.cfg.Server.TLSKeyFile,
		}, a.logger)
		g.Go(func() error { return api.Run(ctx) })
	}

	if a.cfg.Server.MetricsPort > 0 {
		metricsSrv := server.NewManager(metricsHandler(), server.Config{
			Name:            "metrics",
			Addr:            fmt.Sprintf(":%d", a.cfg.Server.MetricsPort),
			ReadTimeout:     a.cfg.Server.ReadTimeout,
			WriteTimeout:    a.cfg.Server.WriteTimeout,
			IdleTimeout:     2 * a.cfg.Server.ReadTimeout,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
		}, a.logger)
		g.Go(func() error { return metricsSrv.Run(ctx) })
	}

	a.logger.Info("AstroGeminiBot running",
		zap.Bool("http", a.cfg.Server.HTTPEnabled),
		zap.Int("http_port", a.cfg.Server.HTTPPort),
		zap.Int("metrics_port", a.cfg.Server.MetricsPort),
		zap.Bool("telegram", a.telegram != nil),
	)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close 释放外部连接并刷新遥测数据
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := a.otel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	return errors.Join(errs...)
}
