// Package ratelimit implements the per-user sliding-window admission controller.
//
// Every user owns a queue of request instants inside the trailing window.
// A request is admitted while the queue is shorter than MaxRequests; a denied
// request gets an exact retry delay derived from the oldest queued instant.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🎯 配置
// =============================================================================

// Config 滑动窗口限流配置
type Config struct {
	MaxRequests int           `json:"max_requests" yaml:"max_requests"`
	Window      time.Duration `json:"window" yaml:"window"`
}

// DefaultConfig 返回默认配置：每小时 20 次
func DefaultConfig() Config {
	return Config{
		MaxRequests: 20,
		Window:      time.Hour,
	}
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	var errs []error
	if c.MaxRequests <= 0 {
		errs = append(errs, errors.New("ratelimit: max requests must be positive"))
	}
	if c.Window <= 0 {
		errs = append(errs, errors.New("ratelimit: window must be positive"))
	}
	return errors.Join(errs...)
}

// Recorder receives every admission decision. internal/metrics.Collector
// satisfies it.
type Recorder interface {
	RecordAdmission(allowed bool)
}

// =============================================================================
// 📊 结果类型
// =============================================================================

// Decision is the outcome of CheckAndRecord.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after"`
}

// UserStats 单用户统计
type UserStats struct {
	TotalRequests      int64      `json:"total_requests"`
	BlockedRequests    int64      `json:"blocked_requests"`
	FirstRequestAt     *time.Time `json:"first_request_at,omitempty"`
	LastRequestAt      *time.Time `json:"last_request_at,omitempty"`
	RemainingRequests  int        `json:"remaining_requests"`
	CurrentWindowCount int        `json:"current_window_count"`
}

// GlobalStats 全局统计
type GlobalStats struct {
	TotalUsers      int           `json:"total_users"`
	ActiveUsers     int           `json:"active_users"`
	TotalRequests   int64         `json:"total_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	SuccessRate     float64       `json:"success_rate"`
	MaxRequests     int           `json:"max_requests_per_window"`
	Window          time.Duration `json:"window"`
}

// =============================================================================
// 🔒 Limiter
// =============================================================================

// record is the per-user state; mu guards every field.
type record struct {
	mu         sync.Mutex
	timestamps []time.Time
	total      int64
	blocked    int64
	first      *time.Time
	last       *time.Time
}

// purge drops instants at or before now-window. Caller holds r.mu.
func (r *record) purge(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(r.timestamps) && !r.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		r.timestamps = append(r.timestamps[:0], r.timestamps[i:]...)
	}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithRecorder attaches a decision recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Limiter) { l.recorder = r }
}

// Limiter is safe for concurrent use. Requests from one user are serialized
// on that user's record; different users never contend beyond the map lookup.
type Limiter struct {
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	recorder Recorder

	mu      sync.RWMutex
	records map[int64]*record
}

// New validates cfg and returns a Limiter.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Limiter{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "ratelimit")),
		now:     time.Now,
		records: make(map[int64]*record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Config returns the limiter configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

func (l *Limiter) lookup(userID int64) *record {
	l.mu.RLock()
	r := l.records[userID]
	l.mu.RUnlock()
	return r
}

// getOrCreate 双重检查，保证并发首次访问只创建一个 record
func (l *Limiter) getOrCreate(userID int64) *record {
	if r := l.lookup(userID); r != nil {
		return r
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.records[userID]; ok {
		return r
	}
	r := &record{}
	l.records[userID] = r
	return r
}

// CheckAndRecord decides whether userID may make a request now and records
// the attempt. Administrators must not be passed here.
func (l *Limiter) CheckAndRecord(userID int64) Decision {
	return l.CheckAndRecordAt(userID, l.now())
}

// CheckAndRecordAt is CheckAndRecord at an explicit instant.
func (l *Limiter) CheckAndRecordAt(userID int64, now time.Time) Decision {
	r := l.getOrCreate(userID)

	r.mu.Lock()
	r.purge(now, l.cfg.Window)

	r.total++
	ts := now
	r.last = &ts
	if r.first == nil {
		first := now
		r.first = &first
	}

	var d Decision
	if len(r.timestamps) >= l.cfg.MaxRequests {
		r.blocked++
		resetAt := r.timestamps[0].Add(l.cfg.Window)
		d = Decision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	} else {
		r.timestamps = append(r.timestamps, now)
		d = Decision{
			Allowed:   true,
			Remaining: l.cfg.MaxRequests - len(r.timestamps),
			ResetAt:   now.Add(l.cfg.Window),
		}
	}
	r.mu.Unlock()

	if !d.Allowed {
		l.logger.Warn("rate limit exceeded",
			zap.Int64("user_id", userID),
			zap.Duration("retry_after", d.RetryAfter),
		)
	}
	if l.recorder != nil {
		l.recorder.RecordAdmission(d.Allowed)
	}
	return d
}

// StatsFor reports userID's counters. It purges stale instants but never
// changes the counters.
func (l *Limiter) StatsFor(userID int64) UserStats {
	return l.StatsForAt(userID, l.now())
}

// StatsForAt is StatsFor at an explicit instant.
func (l *Limiter) StatsForAt(userID int64, now time.Time) UserStats {
	r := l.lookup(userID)
	if r == nil {
		return UserStats{RemainingRequests: l.cfg.MaxRequests}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.purge(now, l.cfg.Window)

	return UserStats{
		TotalRequests:      r.total,
		BlockedRequests:    r.blocked,
		FirstRequestAt:     copyTime(r.first),
		LastRequestAt:      copyTime(r.last),
		RemainingRequests:  max(0, l.cfg.MaxRequests-len(r.timestamps)),
		CurrentWindowCount: len(r.timestamps),
	}
}

// GlobalStats aggregates over all known users. Records are visited one at a
// time, so the totals are not a single atomic snapshot.
func (l *Limiter) GlobalStats() GlobalStats {
	return l.GlobalStatsAt(l.now())
}

// GlobalStatsAt is GlobalStats at an explicit instant.
func (l *Limiter) GlobalStatsAt(now time.Time) GlobalStats {
	l.mu.RLock()
	snapshot := make([]*record, 0, len(l.records))
	for _, r := range l.records {
		snapshot = append(snapshot, r)
	}
	l.mu.RUnlock()

	stats := GlobalStats{
		TotalUsers:  len(snapshot),
		MaxRequests: l.cfg.MaxRequests,
		Window:      l.cfg.Window,
	}
	for _, r := range snapshot {
		r.mu.Lock()
		r.purge(now, l.cfg.Window)
		if len(r.timestamps) > 0 {
			stats.ActiveUsers++
		}
		stats.TotalRequests += r.total
		stats.BlockedRequests += r.blocked
		r.mu.Unlock()
	}

	stats.SuccessRate = 1.0
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.TotalRequests-stats.BlockedRequests) / float64(stats.TotalRequests)
	}
	return stats
}

// Reset clears userID's window and zeros its counters.
func (l *Limiter) Reset(userID int64) {
	r := l.lookup(userID)
	if r == nil {
		return
	}

	r.mu.Lock()
	r.timestamps = nil
	r.total = 0
	r.blocked = 0
	r.first = nil
	r.last = nil
	r.mu.Unlock()

	l.logger.Info("rate limit reset", zap.Int64("user_id", userID))
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
