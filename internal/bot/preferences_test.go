package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/astrogeminibot/internal/cache"
)

type countingRecorder struct {
	mu           sync.Mutex
	hits, misses map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{hits: map[string]int{}, misses: map[string]int{}}
}

func (r *countingRecorder) RecordCacheHit(cacheType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[cacheType]++
}

func (r *countingRecorder) RecordCacheMiss(cacheType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses[cacheType]++
}

func newTestCache(t *testing.T) (*cache.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	m, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "astro:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

func TestMemoryPreferenceStore(t *testing.T) {
	ctx := context.Background()

	s := NewMemoryPreferenceStore("")
	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "auto", got)

	require.NoError(t, s.Set(ctx, 1, "gpt-4o"))
	got, err = s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", got)

	other, err := s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "auto", other)

	withDefault := NewMemoryPreferenceStore("gemini-2.5-flash")
	got, _ = withDefault.Get(ctx, 1)
	assert.Equal(t, "gemini-2.5-flash", got)
}

func TestRedisPreferenceStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m, mr := newTestCache(t)
	rec := newCountingRecorder()
	s := NewRedisPreferenceStore(m, "", rec)

	got, err := s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "auto", got)

	require.NoError(t, s.Set(ctx, 42, "gemini-2.5-pro"))
	got, err = s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", got)

	assert.Equal(t, "gemini-2.5-pro", mr.HGet("astro:preferences", "42"))
	assert.Zero(t, mr.TTL("astro:preferences"))

	// 偏好不过期
	mr.FastForward(365 * 24 * time.Hour)
	got, err = s.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", got)

	assert.Equal(t, 1, rec.misses["preferences"])
	assert.Equal(t, 2, rec.hits["preferences"])
}

func TestRedisPreferenceStore_NilRecorder(t *testing.T) {
	m, _ := newTestCache(t)
	s := NewRedisPreferenceStore(m, "gpt-4o-mini", nil)

	got, err := s.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", got)
}

func TestRedisPreferenceStore_ClosedCache(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestCache(t)
	s := NewRedisPreferenceStore(m, "", nil)
	require.NoError(t, m.Close())

	got, err := s.Get(ctx, 42)
	assert.Error(t, err)
	assert.Equal(t, "auto", got)
	assert.Error(t, s.Set(ctx, 42, "gpt-4o"))
}

func TestDispatcherUsesRedisPreferences(t *testing.T) {
	m, _ := newTestCache(t)
	prefs := NewRedisPreferenceStore(m, "", nil)
	h := newHarness(t, DefaultConfig(), prefs)
	ctx := context.Background()

	_, err := h.d.HandleCallback(ctx, Callback{UserID: 42, Data: "model_gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", h.d.Preference(ctx, 42))
}
