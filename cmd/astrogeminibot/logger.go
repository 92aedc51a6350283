package main

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/astrogeminibot/config"
)

// parseLevel 未知级别按 info 处理；配置校验已拒绝非法值
func parseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil || s == "" {
		return zapcore.InfoLevel
	}
	return lvl
}

// initLogger 以生产配置为底，console 格式换成彩色级别；File 非空时追加为额外输出
func initLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zc.Sampling = nil
	zc.DisableCaller = !cfg.EnableCaller
	zc.DisableStacktrace = true
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.Format == "console" {
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zc.OutputPaths, zc.ErrorOutputPaths = logSinks(cfg)

	var opts []zap.Option
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zc.Build(opts...)
}

// logSinks File 同时接收普通日志与 zap 内部错误
func logSinks(cfg config.LogConfig) (out, errOut []string) {
	out = []string{"stdout"}
	if len(cfg.OutputPaths) > 0 {
		out = append([]string(nil), cfg.OutputPaths...)
	}
	errOut = []string{"stderr"}
	if cfg.File != "" {
		out = append(out, cfg.File)
		errOut = append(errOut, cfg.File)
	}
	return out, errOut
}
