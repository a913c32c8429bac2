package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ariya/phantomjs-sub019/api/handlers"
	"github.com/ariya/phantomjs-sub019/browser"
	"github.com/ariya/phantomjs-sub019/config"
	"github.com/ariya/phantomjs-sub019/internal/metrics"
	"github.com/ariya/phantomjs-sub019/internal/server"
	"github.com/ariya/phantomjs-sub019/internal/telemetry"
	"github.com/ariya/phantomjs-sub019/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 ghostdriver 的主服务器：WebDriver 监听器、指标监听器、
// 会话管理器与浏览器引擎的装配点
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 会话与浏览器
	sessions *session.Manager
	launcher *browser.PlaywrightLauncher

	// 可观测性
	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers

	// 配置热更新
	watcher *config.Watcher

	// 后台 goroutine（限流清理、会话清理）的生命周期
	bgCancel context.CancelFunc
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

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务（非阻塞）
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// 1. 指标与遥测
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("ghostdriver", s.registry, s.logger)

	providers, err := telemetry.Init(ctx, s.cfg.Telemetry, buildInfo().Version, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers

	// 2. 浏览器引擎与会话管理器
	if err := s.initSessions(); err != nil {
		cancel()
		return err
	}
	s.sessions.StartCleanup(ctx)

	// 3. HTTP 服务器
	httpConfig := s.serverConfig(s.cfg.Server.Addr())
	httpConfig.TLSCertFile = s.cfg.Server.TLSCertFile
	httpConfig.TLSKeyFile = s.cfg.Server.TLSKeyFile
	s.httpManager = server.NewManager("webdriver", s.Handler(ctx), httpConfig, s.logger)
	s.httpManager.OnShutdown(s.closeComponents)
	if err := s.httpManager.Start(); err != nil {
		_ = s.closeComponents(context.Background())
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		_ = s.httpManager.Shutdown(context.Background())
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. 配置热更新
	s.startWatcher(ctx)

	s.logger.Info("All servers started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Bool("tls", s.httpManager.TLSEnabled()),
		zap.String("base_path", s.cfg.Server.BasePath),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("browser_enabled", s.cfg.Browser.Enabled),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initSessions() error {
	opts := []session.Option{
		session.WithMetrics(s.collector),
		session.WithLogger(s.logger),
	}

	if s.cfg.Browser.Enabled {
		launcher, err := browser.NewPlaywrightLauncher(browserConfig(s.cfg.Browser), s.logger)
		if err != nil {
			return fmt.Errorf("failed to start browser engine: %w", err)
		}
		s.launcher = launcher
		opts = append(opts,
			session.WithLauncher(launcher),
			session.WithHandlerFactory(browser.NewCommandHandler),
		)
	} else {
		s.logger.Info("browser engine disabled, sessions carry no windows backend")
	}

	s.sessions = session.NewManager(session.Config{
		CleanupInterval:     s.cfg.Session.CleanupInterval,
		MaxSessions:         s.cfg.Session.MaxSessions,
		TeardownConcurrency: s.cfg.Session.TeardownConcurrency,
		DefaultCapabilities: s.cfg.Session.DefaultCapabilities,
	}, opts...)
	return nil
}

func browserConfig(c config.BrowserConfig) browser.Config {
	return browser.Config{
		Engine:         c.Engine,
		Headless:       c.Headless,
		Timeout:        c.Timeout,
		ViewportWidth:  c.ViewportWidth,
		ViewportHeight: c.ViewportHeight,
		UserAgent:      c.UserAgent,
		ProxyURL:       c.ProxyURL,
		SkipInstall:    c.SkipInstall,
	}
}

func (s *Server) serverConfig(addr string) server.Config {
	return server.Config{
		Addr:            addr,
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
}

// =============================================================================
// 🌐 HTTP 路由
// =============================================================================

// Handler 构建完整的路由与中间件链。ctx 控制限流器的后台清理。
func (s *Server) Handler(ctx context.Context) http.Handler {
	build := buildInfo()
	basePath := strings.TrimRight(s.cfg.Server.BasePath, "/")

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewSessionCapacityCheck(s.sessions, s.cfg.Session.MaxSessions))

	ops := http.NewServeMux()
	ops.HandleFunc("/health", health.HandleHealth)
	ops.HandleFunc("/healthz", health.HandleHealth)
	ops.HandleFunc("/ready", health.HandleReady)
	ops.HandleFunc("/readyz", health.HandleReady)
	ops.HandleFunc("/version", health.HandleVersion(build))

	// GET {base}/status 不经过会话路由
	ops.Handle(basePath+"/status", handlers.NewStatusHandler(build, s.sessions))

	// 其余请求全部交给 WebDriver 路由器，base path 不匹配时返回 unknown-command
	webdriver := handlers.NewWebDriverHandler(s.sessions, basePath, s.logger)
	if s.cfg.Server.MaxBodyBytes > 0 {
		webdriver.WithMaxBodyBytes(s.cfg.Server.MaxBodyBytes)
	}
	root := newDispatcher(ops, webdriver, "/health", "/healthz", "/ready", "/readyz", "/version", basePath+"/status")

	return Chain(root,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(s.telemetry.Tracer()),
		MetricsMiddleware(s.collector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

// dispatcher 只把精确匹配的运维路径交给 ServeMux，其余原样交给 WebDriver
// 路由器。ServeMux 会清理路径并重定向，"/session//url" 这类请求必须保留空段。
type dispatcher struct {
	ops      http.Handler
	fallback http.Handler
	exact    map[string]struct{}
}

func newDispatcher(ops, fallback http.Handler, paths ...string) *dispatcher {
	exact := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		exact[p] = struct{}{}
	}
	return &dispatcher{ops: ops, fallback: fallback, exact: exact}
}

func (d *dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.exact[r.URL.Path]; ok {
		d.ops.ServeHTTP(w, r)
		return
	}
	d.fallback.ServeHTTP(w, r)
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		s.logger.Info("metrics server disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	s.metricsManager = server.NewManager("metrics", mux, s.serverConfig(s.cfg.Server.MetricsAddr()), s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🔄 配置热更新
// =============================================================================

// startWatcher 监听配置文件；目前只有日志级别支持热更新
func (s *Server) startWatcher(ctx context.Context) {
	if s.configPath == "" {
		return
	}

	loader := config.NewLoader().
		WithConfigPath(s.configPath).
		WithValidator((*config.Config).Validate)
	w, err := config.NewWatcher(loader, config.WithWatcherLogger(s.logger))
	if err != nil {
		s.logger.Warn("config watcher unavailable", zap.Error(err))
		return
	}
	w.OnReload(s.applyConfig)
	if err := w.Start(ctx); err != nil {
		s.logger.Warn("config watcher failed to start", zap.Error(err))
		return
	}
	s.watcher = w
}

func (s *Server) applyConfig(cfg *config.Config) {
	next := parseLevel(cfg.Log.Level)
	if prev := s.level.Level(); prev != next {
		s.level.SetLevel(next)
		s.logger.Info("log level changed",
			zap.String("from", prev.String()),
			zap.String("to", next.String()),
		)
	}
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞到收到信号，然后优雅关闭所有组件
func (s *Server) WaitForShutdown() error {
	if s.httpManager == nil {
		return nil
	}
	return s.httpManager.WaitForShutdown(context.Background())
}

// Shutdown 主动关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpManager == nil {
		return nil
	}
	return s.httpManager.Shutdown(ctx)
}

// closeComponents 在 HTTP 监听器关闭后执行：先拆除会话，再停止引擎
func (s *Server) closeComponents(ctx context.Context) error {
	var errs []error

	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.bgCancel != nil {
		s.bgCancel()
	}
	if s.sessions != nil {
		if err := s.sessions.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}
	}
	if s.launcher != nil {
		if err := s.launcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser engine: %w", err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close metrics server: %w", err))
		}
	}
	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}

	s.logger.Info("Graceful shutdown completed")
	return errors.Join(errs...)
}
