// Package conversation keeps a bounded, idle-expiring chat history per user.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Role is the author of a stored message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a history entry as handed to providers.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type entry struct {
	Message
	CreatedAt time.Time
}

// Config 对话存储配置
type Config struct {
	MaxHistory int           `json:"max_history" yaml:"max_history"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig 返回默认配置：10 条消息，1 小时超时
func DefaultConfig() Config {
	return Config{
		MaxHistory: 10,
		Timeout:    time.Hour,
	}
}

// Validate rejects non-positive values.
func (c Config) Validate() error {
	var errs []error
	if c.MaxHistory <= 0 {
		errs = append(errs, errors.New("conversation: max history must be positive"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("conversation: timeout must be positive"))
	}
	return errors.Join(errs...)
}

// UserStats 单用户对话统计
type UserStats struct {
	MessageCount   int           `json:"message_count"`
	RoleCounts     map[Role]int  `json:"role_counts"`
	CreatedAt      time.Time     `json:"created_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	IsActive       bool          `json:"is_active"`
	TimeoutIn      time.Duration `json:"timeout_in"`
}

// GlobalStats 全局对话统计
type GlobalStats struct {
	TotalUsers             int           `json:"total_users"`
	ActiveUsers            int           `json:"active_users"`
	TotalMessages          int           `json:"total_messages"`
	AverageMessagesPerUser float64       `json:"average_messages_per_user"`
	Timeout                time.Duration `json:"timeout"`
	MaxHistory             int           `json:"max_history_per_user"`
}

// SweepRecorder observes sweep results. internal/metrics.Collector satisfies it.
type SweepRecorder interface {
	RecordConversationSweep(deleted, remaining int)
}

type record struct {
	mu        sync.Mutex
	messages  []entry
	createdAt time.Time
	lastAt    time.Time
	// removed is set by the sweeper; writers holding a stale pointer retry.
	removed bool
}

func (r *record) expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(r.lastAt) > timeout
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithSweepRecorder attaches a sweep observer.
func WithSweepRecorder(r SweepRecorder) Option {
	return func(s *Store) { s.recorder = r }
}

// Store is safe for concurrent use. Each user's record has its own lock.
type Store struct {
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	recorder SweepRecorder

	mu      sync.RWMutex
	records map[int64]*record
}

// New validates cfg and returns an empty Store.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "conversation")),
		now:     time.Now,
		records: make(map[int64]*record),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.cfg
}

func (s *Store) lookup(userID int64) *record {
	s.mu.RLock()
	r := s.records[userID]
	s.mu.RUnlock()
	return r
}

func (s *Store) getOrCreate(userID int64, now time.Time) *record {
	if r := s.lookup(userID); r != nil {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[userID]; ok {
		return r
	}
	r := &record{createdAt: now, lastAt: now}
	s.records[userID] = r
	return r
}

// lockLive returns userID's record locked, skipping records the sweeper
// removed between lookup and lock.
func (s *Store) lockLive(userID int64, now time.Time) *record {
	for {
		r := s.getOrCreate(userID, now)
		r.mu.Lock()
		if !r.removed {
			return r
		}
		r.mu.Unlock()
	}
}

// Append adds a message to userID's history. An idle history is silently
// discarded first. Only successfully produced content belongs here.
func (s *Store) Append(userID int64, role Role, content string) {
	s.AppendAt(userID, role, content, s.now())
}

// AppendAt is Append at an explicit instant.
func (s *Store) AppendAt(userID int64, role Role, content string, now time.Time) {
	r := s.lockLive(userID, now)
	defer r.mu.Unlock()

	if r.expired(now, s.cfg.Timeout) {
		s.logger.Info("conversation timed out, clearing history", zap.Int64("user_id", userID))
		r.messages = nil
		r.createdAt = now
	}

	r.messages = append(r.messages, entry{
		Message:   Message{Role: role, Content: content},
		CreatedAt: now,
	})
	if len(r.messages) > s.cfg.MaxHistory {
		r.messages = trim(r.messages, s.cfg.MaxHistory)
	}
	r.lastAt = now

	s.logger.Debug("message appended",
		zap.Int64("user_id", userID),
		zap.String("role", string(role)),
		zap.Int("length", len(r.messages)),
	)
}

// trim keeps every system message and the newest max-len(system) others,
// system messages first. The result may still exceed max when system
// messages alone do.
func trim(messages []entry, max int) []entry {
	var system, other []entry
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			other = append(other, m)
		}
	}

	keep := max - len(system)
	if keep < 0 {
		keep = 0
	}
	if len(other) > keep {
		other = other[len(other)-keep:]
	}

	out := make([]entry, 0, len(system)+len(other))
	out = append(out, system...)
	return append(out, other...)
}

// Read returns userID's history. An idle history reads as empty but is left
// in place until the next Append.
func (s *Store) Read(userID int64) []Message {
	return s.ReadAt(userID, s.now())
}

// ReadAt is Read at an explicit instant.
func (s *Store) ReadAt(userID int64, now time.Time) []Message {
	r := s.lookup(userID)
	if r == nil {
		return []Message{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.expired(now, s.cfg.Timeout) {
		s.logger.Debug("conversation expired, returning empty history", zap.Int64("user_id", userID))
		return []Message{}
	}

	out := make([]Message, len(r.messages))
	for i, m := range r.messages {
		out[i] = m.Message
	}
	return out
}

// Clear replaces userID's history with an empty one rooted at now.
func (s *Store) Clear(userID int64) {
	s.ClearAt(userID, s.now())
}

// ClearAt is Clear at an explicit instant.
func (s *Store) ClearAt(userID int64, now time.Time) {
	r := s.lockLive(userID, now)
	r.messages = nil
	r.createdAt = now
	r.lastAt = now
	r.mu.Unlock()

	s.logger.Info("conversation cleared", zap.Int64("user_id", userID))
}

// StatsFor reports userID's history shape.
func (s *Store) StatsFor(userID int64) UserStats {
	return s.StatsForAt(userID, s.now())
}

// StatsForAt is StatsFor at an explicit instant. Unknown users report an
// empty, just-created history.
func (s *Store) StatsForAt(userID int64, now time.Time) UserStats {
	stats := UserStats{RoleCounts: make(map[Role]int)}

	r := s.lookup(userID)
	if r == nil {
		stats.CreatedAt = now
		stats.LastActivityAt = now
		stats.IsActive = true
		stats.TimeoutIn = s.cfg.Timeout
		return stats
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.messages {
		stats.RoleCounts[m.Role]++
	}
	elapsed := now.Sub(r.lastAt)
	stats.MessageCount = len(r.messages)
	stats.CreatedAt = r.createdAt
	stats.LastActivityAt = r.lastAt
	stats.IsActive = elapsed <= s.cfg.Timeout
	stats.TimeoutIn = max(0, s.cfg.Timeout-elapsed)
	return stats
}

func (s *Store) snapshot() []*record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// GlobalStats aggregates over every stored history.
func (s *Store) GlobalStats() GlobalStats {
	return s.GlobalStatsAt(s.now())
}

// GlobalStatsAt is GlobalStats at an explicit instant.
func (s *Store) GlobalStatsAt(now time.Time) GlobalStats {
	records := s.snapshot()
	stats := GlobalStats{
		TotalUsers: len(records),
		Timeout:    s.cfg.Timeout,
		MaxHistory: s.cfg.MaxHistory,
	}
	for _, r := range records {
		r.mu.Lock()
		stats.TotalMessages += len(r.messages)
		if !r.expired(now, s.cfg.Timeout) {
			stats.ActiveUsers++
		}
		r.mu.Unlock()
	}
	if stats.TotalUsers > 0 {
		stats.AverageMessagesPerUser = float64(stats.TotalMessages) / float64(stats.TotalUsers)
	}
	return stats
}

// SweepExpired deletes histories idle for more than twice the timeout and
// returns how many were deleted.
func (s *Store) SweepExpired() int {
	return s.SweepExpiredAt(s.now())
}

// SweepExpiredAt is SweepExpired at an explicit instant.
func (s *Store) SweepExpiredAt(now time.Time) int {
	limit := 2 * s.cfg.Timeout

	s.mu.Lock()
	deleted := 0
	for userID, r := range s.records {
		r.mu.Lock()
		stale := now.Sub(r.lastAt) > limit
		if stale {
			r.removed = true
		}
		r.mu.Unlock()
		if stale {
			delete(s.records, userID)
			deleted++
		}
	}
	remaining := len(s.records)
	s.mu.Unlock()

	if deleted > 0 {
		s.logger.Info("expired conversations cleaned up", zap.Int("count", deleted))
	}
	if s.recorder != nil {
		s.recorder.RecordConversationSweep(deleted, remaining)
	}
	return deleted
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("conversation: sweep interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SweepExpired()
		}
	}
}
