package bot

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/BaSui01/astrogeminibot/internal/cache"
	"github.com/BaSui01/astrogeminibot/llm"
)

// PreferenceStore 保存用户选择的模型（"auto" 或具体模型 ID）
type PreferenceStore interface {
	Get(ctx context.Context, userID int64) (string, error)
	Set(ctx context.Context, userID int64, model string) error
}

// MemoryPreferenceStore 进程内偏好存储
type MemoryPreferenceStore struct {
	mu       sync.RWMutex
	prefs    map[int64]string
	fallback string
}

// NewMemoryPreferenceStore 未设置偏好的用户返回 defaultModel（空则为 auto）
func NewMemoryPreferenceStore(defaultModel string) *MemoryPreferenceStore {
	if defaultModel == "" {
		defaultModel = llm.AutoModel
	}
	return &MemoryPreferenceStore{prefs: make(map[int64]string), fallback: defaultModel}
}

func (s *MemoryPreferenceStore) Get(_ context.Context, userID int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.prefs[userID]; ok {
		return m, nil
	}
	return s.fallback, nil
}

func (s *MemoryPreferenceStore) Set(_ context.Context, userID int64, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[userID] = model
	return nil
}

// CacheRecorder 观察偏好读取的命中情况。internal/metrics.Collector 实现了它。
type CacheRecorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// RedisPreferenceStore 基于 cache.Manager 的偏好存储，偏好不过期
type RedisPreferenceStore struct {
	cache    *cache.Manager
	fallback string
	recorder CacheRecorder
}

// NewRedisPreferenceStore recorder 可以为 nil
func NewRedisPreferenceStore(c *cache.Manager, defaultModel string, recorder CacheRecorder) *RedisPreferenceStore {
	if defaultModel == "" {
		defaultModel = llm.AutoModel
	}
	return &RedisPreferenceStore{cache: c, fallback: defaultModel, recorder: recorder}
}

// preferenceTable 所有用户的偏好存放在同一个 hash 中，field 为用户 ID
const preferenceTable = "preferences"

func (s *RedisPreferenceStore) Get(ctx context.Context, userID int64) (string, error) {
	m, err := s.cache.HGet(ctx, preferenceTable, strconv.FormatInt(userID, 10))
	if cache.IsMiss(err) {
		s.record(false)
		return s.fallback, nil
	}
	if err != nil {
		return s.fallback, fmt.Errorf("load model preference: %w", err)
	}
	s.record(true)
	return m, nil
}

func (s *RedisPreferenceStore) Set(ctx context.Context, userID int64, model string) error {
	if err := s.cache.HSet(ctx, preferenceTable, strconv.FormatInt(userID, 10), model); err != nil {
		return fmt.Errorf("save model preference: %w", err)
	}
	return nil
}

func (s *RedisPreferenceStore) record(hit bool) {
	if s.recorder == nil {
		return
	}
	if hit {
		s.recorder.RecordCacheHit("preferences")
	} else {
		s.recorder.RecordCacheMiss("preferences")
	}
}
