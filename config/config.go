package config

import (
	"strconv"
	"time"
)

// Config 进程的全部配置。env 标签拼成带前缀的嵌套变量名，如 ASTRO_SERVER_HTTP_PORT
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Telegram     TelegramConfig     `yaml:"telegram" env:"TELEGRAM"`
	Providers    ProvidersConfig    `yaml:"providers" env:"PROVIDERS"`
	Bot          BotConfig          `yaml:"bot" env:"BOT"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit" env:"RATE_LIMIT"`
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`
	Redis        RedisConfig        `yaml:"redis" env:"REDIS"`
	Database     DatabaseConfig     `yaml:"database" env:"DATABASE"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig HTTP API 与 Prometheus 端口
type ServerConfig struct {
	HTTPEnabled bool `yaml:"http_enabled" env:"HTTP_ENABLED"`
	HTTPPort    int  `yaml:"http_port" env:"HTTP_PORT"`
	// MetricsPort 0 表示不单独暴露 /metrics
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// APIKeys 为空时 /api/ 不校验
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// JWTSecret 为空时管理接口只校验 API Key
	JWTSecret          string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`

	// 每个客户端 IP 的令牌桶
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

type TelegramConfig struct {
	Enabled     bool          `yaml:"enabled" env:"ENABLED"`
	Token       string        `yaml:"token" env:"TOKEN"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	PollTimeout time.Duration `yaml:"poll_timeout" env:"POLL_TIMEOUT"`
	// Concurrency 同时处理的更新数，同一用户的更新仍按顺序
	Concurrency       int `yaml:"concurrency" env:"CONCURRENCY"`
	MessagesPerSecond int `yaml:"messages_per_second" env:"MESSAGES_PER_SECOND"`
}

// ProviderConfig APIKey 为空即视为未配置
type ProviderConfig struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

type ProvidersConfig struct {
	OpenAI   ProviderConfig `yaml:"openai" env:"OPENAI"`
	Gemini   ProviderConfig `yaml:"gemini" env:"GEMINI"`
	Together ProviderConfig `yaml:"together" env:"TOGETHER"`
	// MaxRetries 0 表示不重试
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// BreakerThreshold 连续失败次数，0 表示不熔断
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
}

// Configured 已设置 API Key 的 Provider，按 openai、gemini、together 排列
func (p ProvidersConfig) Configured() []string {
	var out []string
	add := func(name string, c ProviderConfig) {
		if c.APIKey != "" {
			out = append(out, name)
		}
	}
	add("openai", p.OpenAI)
	add("gemini", p.Gemini)
	add("together", p.Together)
	return out
}

type BotConfig struct {
	// DefaultModel 新用户的偏好，auto 表示按 Provider 顺序挑选
	DefaultModel   string        `yaml:"default_model" env:"DEFAULT_MODEL"`
	MaxTokens      int           `yaml:"max_tokens" env:"MAX_TOKENS"`
	Temperature    float64       `yaml:"temperature" env:"TEMPERATURE"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	AdminUserIDs   []int64       `yaml:"admin_user_ids" env:"ADMIN_USER_IDS"`
}

// RateLimitConfig 每用户滑动窗口：Window 内最多 Messages 条
type RateLimitConfig struct {
	Messages int           `yaml:"messages" env:"MESSAGES"`
	Window   time.Duration `yaml:"window" env:"WINDOW"`
}

type ConversationConfig struct {
	MaxHistory    int           `yaml:"max_history" env:"MAX_HISTORY"`
	Timeout       time.Duration `yaml:"timeout" env:"TIMEOUT"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
}

// RedisConfig 禁用时模型偏好只保存在内存
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// DatabaseConfig 用量账本。URL 非空时忽略分项；sqlite 的 Name 是文件路径
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Driver          string        `yaml:"driver" env:"DRIVER"`
	URL             string        `yaml:"url" env:"URL"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN 按驱动拼接连接串；未知驱动返回空串
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	switch d.Driver {
	case "postgres":
		return "host=" + d.Host + " port=" + strconv.Itoa(d.Port) + " user=" + d.User +
			" password=" + d.Password + " dbname=" + d.Name + " sslmode=" + d.SSLMode
	case "mysql":
		return d.User + ":" + d.Password + "@tcp(" + d.Host + ":" + strconv.Itoa(d.Port) + ")/" + d.Name + "?parseTime=true"
	case "sqlite":
		return d.Name
	}
	return ""
}

// LogConfig File 非空时日志同时追加到该文件
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	File             string   `yaml:"file" env:"FILE"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}
