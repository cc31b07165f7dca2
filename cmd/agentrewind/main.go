// =============================================================================
// AgentRewind 主入口
// =============================================================================
// 服务入口点：检查点 / 回退 / 分支 HTTP API、健康检查、Prometheus 指标
//
// 使用方法:
//
//	agentrewind serve                       # 启动服务
//	agentrewind serve --config config.yaml  # 指定配置文件（支持热重载日志级别）
//	agentrewind demo                        # 进程内演示 run / revert / branch
//	agentrewind version                     # 显示版本信息
//	agentrewind health                      # 健康检查
//	agentrewind migrate up                  # 为 SQL 快照存储运行数据库迁移
//	agentrewind migrate status              # 查看迁移状态
// =============================================================================

// @title AgentRewind API
// @version 1.0.0
// @description AgentRewind records every message a multi-agent team exchanges, captures agent state after each one, and lets operators revert a conversation or branch it from any earlier point.
// @description
// @description ## Features
// @description - Append-only event history per branch
// @description - Per-message agent checkpoints
// @description - Revert, fork and resume with automatic rollback on restore failure
// @description - Snapshot persistence (file, Redis, SQL, MongoDB)
// @description - Live event streams over WebSocket

// @contact.name AgentRewind Team
// @contact.url https://github.com/BaSui01/agentrewind

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /
// @schemes http https

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
// @description API key for authentication

package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentrewind/config"
	"github.com/BaSui01/agentrewind/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "demo":
		runDemo(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loadConfig(loader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting AgentRewind",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	srv, err := NewServer(cfg, loader, logger, level)
	if err != nil {
		logger.Fatal("Failed to build server", zap.Error(err))
	}
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	srv.WaitForShutdown()
	logger.Info("AgentRewind stopped")
}

func loadConfig(loader *config.Loader) (*config.Config, error) {
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AgentRewind %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AgentRewind - checkpoint, revert and branch engine for multi-agent conversations

Usage:
  agentrewind <command> [options]

Commands:
  serve     Start the AgentRewind server
  demo      Run a scripted run / revert / branch session in-process
  migrate   Database migration commands for the SQL snapshot store
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'demo':
  --config <path>   Path to configuration file (YAML)
  --task <text>     Task that opens the conversation

Examples:
  agentrewind serve
  agentrewind serve --config /etc/agentrewind/config.yaml
  agentrewind demo --task "plan the release"
  agentrewind migrate up
  agentrewind health --addr http://localhost:8080
  agentrewind version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// parseLevel falls back to info for unknown names.
func parseLevel(name string) zapcore.Level {
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// initLogger builds the process logger. The returned level is shared with
// the logger so a config reload can change it in place.
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
