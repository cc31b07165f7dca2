package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/api/handlers"
	"github.com/BaSui01/agentrewind/config"
	"github.com/BaSui01/agentrewind/controller"
	"github.com/BaSui01/agentrewind/internal/metrics"
	"github.com/BaSui01/agentrewind/internal/server"
	"github.com/BaSui01/agentrewind/internal/telemetry"
	"github.com/BaSui01/agentrewind/persistence"
	"github.com/BaSui01/agentrewind/runtime/groupchat"
	"github.com/BaSui01/agentrewind/types"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server wires the branch manager, its snapshot store and the HTTP surface.
type Server struct {
	cfg    *config.Config
	loader *config.Loader
	logger *zap.Logger
	level  zap.AtomicLevel

	// 后台 goroutine（限流清理、配置监听）的生命周期
	ctx    context.Context
	cancel context.CancelFunc

	collector *metrics.Collector
	otel      *telemetry.Providers
	repo      persistence.Repository
	manager   *controller.Manager
	reloader  *config.Reloader

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer builds every component. Nothing listens until Start.
func NewServer(cfg *config.Config, loader *config.Loader, logger *zap.Logger, level zap.AtomicLevel) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		loader: loader,
		logger: logger,
		level:  level,
		ctx:    ctx,
		cancel: cancel,
	}
	if err := s.init(); err != nil {
		s.Shutdown()
		return nil, err
	}
	return s, nil
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

func (s *Server) init() error {
	// 1. 指标与链路追踪
	s.collector = metrics.NewCollector("agentrewind", s.logger)

	providers, err := telemetry.Init(s.ctx, s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = providers

	// 2. 快照存储
	s.repo, err = persistence.NewRepository(s.ctx, s.cfg.PersistenceConfig(), s.logger, s.collector)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}

	// 3. 分支管理器
	factory, err := groupchat.NewFactory(s.cfg.GroupChatConfig(), groupchat.EchoResponder{}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build group chat runtime: %w", err)
	}
	s.manager, err = controller.NewManager(factory,
		controller.WithLogger(s.logger),
		controller.WithCollector(s.collector),
		controller.WithCaptureConcurrency(s.cfg.Capture.MaxConcurrency),
	)
	if err != nil {
		return fmt.Errorf("failed to build branch manager: %w", err)
	}

	if s.cfg.Store.LoadOnStart {
		if err := s.manager.Load(s.ctx, s.repo); err != nil {
			if !types.IsErrorCode(err, types.ErrSnapshotNotFound) {
				return fmt.Errorf("failed to load snapshots: %w", err)
			}
			s.logger.Info("no saved snapshots, starting empty")
		} else {
			s.logger.Info("snapshots loaded", zap.Int("branches", len(s.manager.Branches())))
		}
	}

	// 4. 配置热重载（仅在指定配置文件时）
	if s.loader.ConfigPath() != "" {
		s.reloader, err = config.NewReloader(s.loader, s.cfg, s.logger)
		if err != nil {
			return fmt.Errorf("failed to init config reloader: %w", err)
		}
		s.reloader.OnReload(s.applyReload)
	}
	return nil
}

// applyReload applies the sections that can change without a restart.
func (s *Server) applyReload(_, next *config.Config, changed []string) {
	for _, section := range changed {
		if section == "log" {
			lvl := parseLevel(next.Log.Level)
			s.level.SetLevel(lvl)
			s.logger.Info("log level changed", zap.String("level", lvl.String()))
		}
	}
}

// Start begins serving.
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	if s.reloader != nil {
		if err := s.reloader.Start(s.ctx); err != nil {
			return fmt.Errorf("failed to start config reloader: %w", err)
		}
	}

	s.logger.Info("All servers started",
		zap.String("http_addr", s.httpManager.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store", s.cfg.Store.Type),
		zap.Bool("hot_reload_enabled", s.reloader != nil),
	)
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// Handler returns the routed and wrapped API handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("snapshot_store", s.repo.Ping))
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewHistoryHandler(s.manager, s.repo, s.logger).Register(mux)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version"}
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(s.ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Authenticate(s.cfg.Server.APIKeys, s.cfg.JWT, skipAuthPaths, s.logger),
	)
}

func (s *Server) startHTTPServer() error {
	s.httpManager = server.NewManager(s.Handler(), s.cfg.ServerConfig(), s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}
	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	cfg := s.cfg.ServerConfig()
	cfg.Addr = s.cfg.Server.MetricsAddr()
	cfg.TLSCertFile, cfg.TLSKeyFile = "", ""

	s.metricsManager = server.NewManager(mux, cfg, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}
	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown blocks until a signal or a serve error, then shuts down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown(s.ctx)
	}
	s.Shutdown()
}

// Shutdown stops intake first, then branches, then persists and releases
// the store. Safe to call on a partially built server.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. 停止配置监听
	if s.reloader != nil {
		if err := s.reloader.Stop(); err != nil {
			s.logger.Warn("config reloader stop error", zap.Error(err))
		}
	}

	// 2. 停止接收请求
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 暂停所有分支，按需保存快照
	if s.manager != nil {
		if err := s.manager.Shutdown(ctx); err != nil {
			s.logger.Error("branch manager shutdown error", zap.Error(err))
		}
		if s.cfg.Store.SaveOnShutdown && s.repo != nil {
			if err := s.manager.Save(ctx, s.repo); err != nil {
				s.logger.Error("failed to save snapshots", zap.Error(err))
			} else {
				s.logger.Info("snapshots saved", zap.Int("branches", len(s.manager.Branches())))
			}
		}
	}

	// 4. 关闭存储
	if s.repo != nil {
		if err := s.repo.Close(); err != nil {
			s.logger.Error("snapshot store close error", zap.Error(err))
		}
	}

	// 5. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 6. 刷新遥测数据
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}

	s.cancel()
	s.logger.Info("Graceful shutdown completed")
}
