package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

func newTestLimiter(t *testing.T, max int, window time.Duration, opts ...Option) *Limiter {
	t.Helper()
	l, err := New(Config{MaxRequests: max, Window: window}, zap.NewNop(), opts...)
	require.NoError(t, err)
	return l
}

type countingRecorder struct {
	allowed atomic.Int64
	denied  atomic.Int64
}

func (c *countingRecorder) RecordAdmission(allowed bool) {
	if allowed {
		c.allowed.Add(1)
		return
	}
	c.denied.Add(1)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero max", Config{MaxRequests: 0, Window: time.Minute}, true},
		{"negative max", Config{MaxRequests: -1, Window: time.Minute}, true},
		{"zero window", Config{MaxRequests: 1, Window: 0}, true},
		{"negative window", Config{MaxRequests: 1, Window: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, l)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg, l.Config())
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 20, cfg.MaxRequests)
	assert.Equal(t, time.Hour, cfg.Window)
}

func TestCheckAndRecord_SlidingWindowScenario(t *testing.T) {
	l := newTestLimiter(t, 2, 60*time.Second)

	d := l.CheckAndRecordAt(1, at(0))
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.Equal(t, at(60), d.ResetAt)
	assert.Zero(t, d.RetryAfter)

	d = l.CheckAndRecordAt(1, at(10))
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d = l.CheckAndRecordAt(1, at(20))
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, at(60), d.ResetAt)
	assert.Equal(t, 40*time.Second, d.RetryAfter)

	d = l.CheckAndRecordAt(1, at(61))
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, at(121), d.ResetAt)

	stats := l.StatsForAt(1, at(61))
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.BlockedRequests)
	assert.Equal(t, 2, stats.CurrentWindowCount)
	assert.Equal(t, 0, stats.RemainingRequests)
	require.NotNil(t, stats.FirstRequestAt)
	require.NotNil(t, stats.LastRequestAt)
	assert.Equal(t, at(0), *stats.FirstRequestAt)
	assert.Equal(t, at(61), *stats.LastRequestAt)
}

func TestCheckAndRecord_BoundaryIsExclusive(t *testing.T) {
	l := newTestLimiter(t, 1, 60*time.Second)

	require.True(t, l.CheckAndRecordAt(7, at(0)).Allowed)
	// exactly one window later the old instant is purged
	d := l.CheckAndRecordAt(7, at(60))
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestCheckAndRecord_UsersAreIndependent(t *testing.T) {
	l := newTestLimiter(t, 1, time.Minute)

	assert.True(t, l.CheckAndRecordAt(1, at(0)).Allowed)
	assert.False(t, l.CheckAndRecordAt(1, at(1)).Allowed)
	assert.True(t, l.CheckAndRecordAt(2, at(1)).Allowed)
}

func TestCheckAndRecord_Recorder(t *testing.T) {
	rec := &countingRecorder{}
	l := newTestLimiter(t, 1, time.Minute, WithRecorder(rec))

	l.CheckAndRecordAt(1, at(0))
	l.CheckAndRecordAt(1, at(1))
	l.CheckAndRecordAt(1, at(2))

	assert.Equal(t, int64(1), rec.allowed.Load())
	assert.Equal(t, int64(2), rec.denied.Load())
}

func TestCheckAndRecord_UsesInjectedClock(t *testing.T) {
	now := at(0)
	l := newTestLimiter(t, 1, time.Minute, WithClock(func() time.Time { return now }))

	assert.True(t, l.CheckAndRecord(3).Allowed)
	now = at(30)
	d := l.CheckAndRecord(3)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)
}

func TestStatsFor_DoesNotMutateCounters(t *testing.T) {
	l := newTestLimiter(t, 3, time.Minute)
	l.CheckAndRecordAt(1, at(0))
	l.CheckAndRecordAt(1, at(5))

	first := l.StatsForAt(1, at(10))
	second := l.StatsForAt(1, at(10))
	assert.Equal(t, first, second)
	assert.Equal(t, int64(2), first.TotalRequests)
	assert.Equal(t, 1, first.RemainingRequests)

	// stale instants are purged for reporting
	later := l.StatsForAt(1, at(120))
	assert.Equal(t, 0, later.CurrentWindowCount)
	assert.Equal(t, 3, later.RemainingRequests)
	assert.Equal(t, int64(2), later.TotalRequests)
}

func TestStatsFor_UnknownUser(t *testing.T) {
	l := newTestLimiter(t, 5, time.Minute)

	stats := l.StatsForAt(99, at(0))
	assert.Equal(t, 5, stats.RemainingRequests)
	assert.Zero(t, stats.TotalRequests)
	assert.Nil(t, stats.FirstRequestAt)
	assert.Zero(t, l.GlobalStatsAt(at(0)).TotalUsers, "stats must not create records")
}

func TestGlobalStats(t *testing.T) {
	l := newTestLimiter(t, 1, time.Minute)

	empty := l.GlobalStatsAt(at(0))
	assert.Equal(t, 1.0, empty.SuccessRate)
	assert.Zero(t, empty.TotalUsers)

	l.CheckAndRecordAt(1, at(0))
	l.CheckAndRecordAt(1, at(1)) // blocked
	l.CheckAndRecordAt(2, at(0))
	l.CheckAndRecordAt(3, at(0))

	g := l.GlobalStatsAt(at(30))
	assert.Equal(t, 3, g.TotalUsers)
	assert.Equal(t, 3, g.ActiveUsers)
	assert.Equal(t, int64(4), g.TotalRequests)
	assert.Equal(t, int64(1), g.BlockedRequests)
	assert.InDelta(t, 0.75, g.SuccessRate, 1e-9)
	assert.Equal(t, 1, g.MaxRequests)
	assert.Equal(t, time.Minute, g.Window)

	idle := l.GlobalStatsAt(at(600))
	assert.Equal(t, 3, idle.TotalUsers)
	assert.Zero(t, idle.ActiveUsers)
}

func TestReset(t *testing.T) {
	l := newTestLimiter(t, 1, time.Minute)
	l.CheckAndRecordAt(1, at(0))
	require.False(t, l.CheckAndRecordAt(1, at(1)).Allowed)

	l.Reset(1)

	stats := l.StatsForAt(1, at(2))
	assert.Zero(t, stats.TotalRequests)
	assert.Zero(t, stats.BlockedRequests)
	assert.Nil(t, stats.FirstRequestAt)
	assert.Nil(t, stats.LastRequestAt)
	assert.Equal(t, 1, stats.RemainingRequests)
	assert.True(t, l.CheckAndRecordAt(1, at(2)).Allowed)

	// unknown users are a no-op
	l.Reset(42)
}

func TestCheckAndRecord_ConcurrentSameUser(t *testing.T) {
	const max = 10
	l := newTestLimiter(t, max, time.Hour)
	now := at(0)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.CheckAndRecordAt(5, now).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(max), allowed.Load())
	stats := l.StatsForAt(5, now)
	assert.Equal(t, int64(100), stats.TotalRequests)
	assert.Equal(t, int64(90), stats.BlockedRequests)
}

func TestCheckAndRecord_ConcurrentFirstAccess(t *testing.T) {
	l := newTestLimiter(t, 1000, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			l.CheckAndRecordAt(uid%5, at(0))
		}(int64(i))
	}
	wg.Wait()

	g := l.GlobalStatsAt(at(0))
	assert.Equal(t, 5, g.TotalUsers)
	assert.Equal(t, int64(50), g.TotalRequests)
}
