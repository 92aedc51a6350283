package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"

	"gopkg.in/yaml.v3"
)

// Loader 依次叠加默认值、YAML 文件、扁平环境变量与带前缀的环境变量，后者覆盖前者
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithValidator((*config.Config).Validate).
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 前缀默认 ASTRO，环境变量取自进程
func NewLoader() *Loader {
	return &Loader{envPrefix: "ASTRO", lookupEnv: os.LookupEnv}
}

// WithConfigPath 文件不存在时按未配置处理
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithEnvLookup 测试中替换环境变量来源
func (l *Loader) WithEnvLookup(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// WithValidator 在全部来源叠加完之后执行
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := l.readFile(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}
	if err := l.applyFlatEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := l.applyPrefixedEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, validate := range l.validators {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) readFile(cfg *Config) error {
	if l.configPath == "" {
		return nil
	}
	data, err := os.ReadFile(l.configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// flatEnv 部署脚本沿用的无前缀变量名
func flatEnv(cfg *Config) map[string]any {
	return map[string]any{
		"TELEGRAM_BOT_TOKEN":       &cfg.Telegram.Token,
		"OPENAI_API_KEY":           &cfg.Providers.OpenAI.APIKey,
		"GEMINI_API_KEY":           &cfg.Providers.Gemini.APIKey,
		"TOGETHER_API_KEY":         &cfg.Providers.Together.APIKey,
		"RATE_LIMIT_MESSAGES":      &cfg.RateLimit.Messages,
		"RATE_LIMIT_WINDOW":        &cfg.RateLimit.Window,
		"DEFAULT_MODEL":            &cfg.Bot.DefaultModel,
		"MAX_TOKENS":               &cfg.Bot.MaxTokens,
		"TEMPERATURE":              &cfg.Bot.Temperature,
		"MAX_CONVERSATION_HISTORY": &cfg.Conversation.MaxHistory,
		"CONVERSATION_TIMEOUT":     &cfg.Conversation.Timeout,
		"LOG_LEVEL":                &cfg.Log.Level,
		"LOG_FILE":                 &cfg.Log.File,
		"ADMIN_USER_IDS":           &cfg.Bot.AdminUserIDs,
	}
}

func (l *Loader) applyFlatEnv(cfg *Config) error {
	for key, ptr := range flatEnv(cfg) {
		if raw, ok := l.lookupEnv(key); ok && raw != "" {
			if err := decodeValue(reflect.ValueOf(ptr).Elem(), raw); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

// applyPrefixedEnv 沿 env 标签递归，变量名为 PREFIX_SECTION_FIELD
func (l *Loader) applyPrefixedEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" || tag == "-" {
			continue
		}
		key := prefix + "_" + tag
		field := v.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyPrefixedEnv(field, key); err != nil {
				return err
			}
			continue
		}
		raw, ok := l.lookupEnv(key)
		if !ok || raw == "" {
			continue
		}
		if err := decodeValue(field, raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// MustLoad 加载失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 不读文件
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}
