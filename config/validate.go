package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	validDrivers   = map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
)

// Validate 检查取值范围，一次返回全部违规项
func (c *Config) Validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.HTTPEnabled && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535), "invalid HTTP port")
	check(c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535, "invalid metrics port")
	check((c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == ""), "tls_cert_file and tls_key_file must be set together")

	check(c.RateLimit.Messages <= 0, "rate_limit.messages must be positive")
	check(c.RateLimit.Window <= 0, "rate_limit.window must be positive")
	check(c.Conversation.MaxHistory <= 0, "conversation.max_history must be positive")
	check(c.Conversation.Timeout <= 0, "conversation.timeout must be positive")

	check(c.Bot.MaxTokens <= 0, "max_tokens must be positive")
	check(c.Bot.Temperature < 0 || c.Bot.Temperature > 2, "temperature must be between 0 and 2")

	check(!validLogLevels[strings.ToLower(c.Log.Level)], "unknown log level %q", c.Log.Level)
	check(c.Database.Enabled && !validDrivers[c.Database.Driver], "unsupported database driver %q", c.Database.Driver)
	check(c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1, "telemetry.sample_rate must be between 0 and 1")

	return errors.Join(errs...)
}

// ValidateServe 在 Validate 之上要求运行机器人所需的凭据
func (c *Config) ValidateServe() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if len(c.Providers.Configured()) == 0 {
		errs = append(errs, errors.New("at least one of OPENAI_API_KEY, GEMINI_API_KEY, TOGETHER_API_KEY is required"))
	}
	return errors.Join(errs...)
}
