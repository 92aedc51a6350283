// =============================================================================
// 📦 AstroGeminiBot 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Telegram:     DefaultTelegramConfig(),
		Providers:    DefaultProvidersConfig(),
		Bot:          DefaultBotConfig(),
		RateLimit:    DefaultRateLimitConfig(),
		Conversation: DefaultConversationConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPEnabled:     true,
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    90 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultTelegramConfig 返回默认 Telegram 配置
func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{
		Enabled:           true,
		BaseURL:           "https://api.telegram.org",
		PollTimeout:       30 * time.Second,
		Concurrency:       16,
		MessagesPerSecond: 30,
	}
}

// DefaultProvidersConfig 返回默认 Provider 配置；API Key 默认为空
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		OpenAI:           ProviderConfig{Timeout: 60 * time.Second},
		Gemini:           ProviderConfig{Timeout: 60 * time.Second},
		Together:         ProviderConfig{Timeout: 60 * time.Second},
		MaxRetries:       2,
		BreakerThreshold: 5,
	}
}

// DefaultBotConfig 返回默认分发层配置
func DefaultBotConfig() BotConfig {
	return BotConfig{
		DefaultModel:   "auto",
		MaxTokens:      1500,
		Temperature:    0.7,
		RequestTimeout: 60 * time.Second,
	}
}

// DefaultRateLimitConfig 返回默认准入配置：每小时 20 条
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Messages: 20,
		Window:   time.Hour,
	}
}

// DefaultConversationConfig 返回默认对话配置
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		MaxHistory:    10,
		Timeout:       time.Hour,
		SweepInterval: 5 * time.Minute,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "astro:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置：本地 SQLite 文件
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         true,
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "astro",
		Password:        "",
		Name:            "astrogeminibot.db",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stdout"},
		File:             "bot.log",
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "astrogeminibot",
		SampleRate:   0.1,
	}
}
