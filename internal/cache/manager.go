package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrMiss 字段不存在
	ErrMiss = errors.New("cache: field not found")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache: manager closed")
)

// IsMiss 判断是否为字段不存在
func IsMiss(err error) bool { return errors.Is(err, ErrMiss) }

// =============================================================================
// ⚙️ 配置
// =============================================================================

// Config Redis 连接与表配置
type Config struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix 加在每个表名前，多个部署可共用一个 Redis
	KeyPrefix string

	// TableTTL 每次写入后刷新整张表的过期时间，0 表示不过期
	TableTTL time.Duration

	MaxRetries   int
	PoolSize     int
	MinIdleConns int

	// MonitorInterval 后台探活间隔，0 表示关闭
	MonitorInterval time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:            "localhost:6379",
		KeyPrefix:       "astro:",
		MaxRetries:      3,
		PoolSize:        10,
		MinIdleConns:    2,
		MonitorInterval: 30 * time.Second,
	}
}

// =============================================================================
// 💾 Manager
// =============================================================================

// Manager 把每张"表"存成一个 Redis hash：表名是 key，行主键是 field。
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger

	closed  atomic.Bool
	healthy atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewManager 连接 Redis，Ping 失败时返回错误
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", cfg.Addr, err)
	}

	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
	}
	m.healthy.Store(true)

	if cfg.MonitorInterval > 0 {
		m.wg.Add(1)
		go m.monitor()
	}

	m.logger.Info("redis connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("key_prefix", cfg.KeyPrefix))
	return m, nil
}

func (m *Manager) table(name string) string { return m.cfg.KeyPrefix + name }

// HGet 读取表中一行；不存在时返回 ErrMiss
func (m *Manager) HGet(ctx context.Context, table, field string) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	v, err := m.client.HGet(ctx, m.table(table), field).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrMiss
	case err != nil:
		return "", fmt.Errorf("hget %s/%s: %w", table, field, err)
	}
	return v, nil
}

// HSet 写入一行；配置了 TableTTL 时在同一事务里刷新过期时间
func (m *Manager) HSet(ctx context.Context, table, field, value string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	key := m.table(table)
	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, field, value)
		if m.cfg.TableTTL > 0 {
			p.Expire(ctx, key, m.cfg.TableTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("hset %s/%s: %w", table, field, err)
	}
	return nil
}

// HDel 删除若干行，不存在的行忽略
func (m *Manager) HDel(ctx context.Context, table string, fields ...string) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if len(fields) == 0 {
		return nil
	}
	if err := m.client.HDel(ctx, m.table(table), fields...).Err(); err != nil {
		return fmt.Errorf("hdel %s: %w", table, err)
	}
	return nil
}

// HLen 返回表的行数
func (m *Manager) HLen(ctx context.Context, table string) (int64, error) {
	if m.closed.Load() {
		return 0, ErrClosed
	}
	n, err := m.client.HLen(ctx, m.table(table)).Result()
	if err != nil {
		return 0, fmt.Errorf("hlen %s: %w", table, err)
	}
	return n, nil
}

// Ping 用于就绪检查
func (m *Manager) Ping(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return m.client.Ping(ctx).Err()
}

// Healthy 返回最近一次后台探活的结果
func (m *Manager) Healthy() bool { return m.healthy.Load() }

// Close 停止探活并关闭连接，可重复调用
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stop)
	m.wg.Wait()
	m.logger.Info("redis connection closed")
	return m.client.Close()
}

// monitor 只在健康状态变化时打日志
func (m *Manager) monitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.client.Ping(ctx).Err()
		cancel()

		was := m.healthy.Swap(err == nil)
		switch {
		case err != nil && was:
			m.logger.Error("redis became unreachable", zap.Error(err))
		case err == nil && !was:
			m.logger.Info("redis reachable again")
		}
	}
}
