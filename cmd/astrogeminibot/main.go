// =============================================================================
// AstroGeminiBot 主入口
// =============================================================================
// Telegram 长轮询、HTTP API、Prometheus 指标在同一进程内运行
//
// 使用方法:
//
//	astrogeminibot serve                       # 启动机器人
//	astrogeminibot serve --config config.yaml  # 指定配置文件
//	astrogeminibot version                     # 显示版本信息
//	astrogeminibot health                      # 健康检查
//	astrogeminibot migrate up                  # 运行账本数据库迁移
//	astrogeminibot migrate status              # 查看迁移状态
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/astrogeminibot/config"
	"github.com/BaSui01/astrogeminibot/internal/metrics"
	"github.com/BaSui01/astrogeminibot/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// metricsNamespace 所有 Prometheus 指标的前缀
const metricsNamespace = "astrogeminibot"

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

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger, falling back to production defaults: %v\n", err)
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting AstroGeminiBot",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelProviders, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	collector := metrics.NewCollector(metricsNamespace, logger)

	app, err := NewApp(ctx, cfg, logger, collector, otelProviders)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}

	runErr := app.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}

	if runErr != nil {
		logger.Error("AstroGeminiBot stopped with error", zap.Error(runErr))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("AstroGeminiBot stopped")
}

// loadConfig 默认值 → YAML → 环境变量
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	return loader.Load()
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	_ = fs.Parse(args)

	if err := checkHealth(&http.Client{Timeout: 5 * time.Second}, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func checkHealth(client *http.Client, addr string) error {
	resp, err := client.Get(strings.TrimRight(addr, "/") + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("AstroGeminiBot %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`AstroGeminiBot - Telegram multi-provider AI bot

Usage:
  astrogeminibot <command> [options]

Commands:
  serve     Start the bot, HTTP API and metrics server
  migrate   Usage ledger migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Environment:
  TELEGRAM_BOT_TOKEN                          Telegram bot token
  OPENAI_API_KEY, GEMINI_API_KEY,
  TOGETHER_API_KEY                            At least one is required
  RATE_LIMIT_MESSAGES, RATE_LIMIT_WINDOW      Per-user admission window
  MAX_CONVERSATION_HISTORY,
  CONVERSATION_TIMEOUT                        Conversation memory
  ASTRO_<SECTION>_<FIELD>                     Any config field, e.g. ASTRO_SERVER_HTTP_PORT

Examples:
  astrogeminibot serve
  astrogeminibot serve --config /etc/astrogeminibot/config.yaml
  astrogeminibot migrate up
  astrogeminibot health --addr http://localhost:8080
  astrogeminibot version`)
}
