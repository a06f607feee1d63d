package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type record struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

var (
	recordKind = NewKind[record]("test.record.v1")
	listKind   = NewKind[[]record]("test.records.v1")
	countKind  = NewKind[int]("test.count.v1")
)

func newTestCache(t *testing.T, clock *fakeClock) *Cache {
	t.Helper()
	c := New(Options{
		Path: filepath.Join(t.TempDir(), "cache.json"),
		Now:  clock.Now,
	})
	c.Register(recordKind, listKind, countKind)
	return c
}

// ---------------------------------------------------------------------------
// Memory and persisted tiers
// ---------------------------------------------------------------------------

func TestCache_SetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	want := record{Name: "a", Items: []string{"x", "y"}}
	Set(ctx, c, recordKind, "k", want, 0)

	got, ok := Get(ctx, c, recordKind, "k")
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.True(t, c.Exists("k"))
}

func TestCache_MissingKey(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	_, ok := Get(context.Background(), c, recordKind, "absent")
	assert.False(t, ok)
	assert.False(t, c.Exists("absent"))
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_KindMismatchIsMiss(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())
	Set(ctx, c, countKind, "k", 3, 0)

	_, ok := Get(ctx, c, recordKind, "k")
	assert.False(t, ok)

	n, ok := Get(ctx, c, countKind, "k")
	require.True(t, ok)
	assert.Equal(t, 3, n)
}

func TestCache_ExpiredMemoryPromotesFromPersisted(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(t, clock)

	Set(ctx, c, countKind, "k", 7, time.Minute)
	clock.Advance(2 * time.Minute)

	n, ok := Get(ctx, c, countKind, "k")
	require.True(t, ok, "persisted tier should still serve the entry")
	assert.Equal(t, 7, n)
	assert.Equal(t, int64(1), c.Stats().Promotions)

	// Served from memory again without another promotion.
	_, ok = Get(ctx, c, countKind, "k")
	require.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Promotions)
}

func TestCache_StalePersistedEntryIsAbsent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(t, clock)

	Set(ctx, c, countKind, "k", 1, time.Hour)
	clock.Advance(25 * time.Hour)

	assert.False(t, c.Exists("k"))
	_, ok := Get(ctx, c, countKind, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().PersistedEntries, "stale entry is evicted on lookup")
}

func TestCache_RemoveAndClear(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())
	Set(ctx, c, countKind, "a", 1, 0)
	Set(ctx, c, countKind, "b", 2, 0)

	c.Remove("a")
	assert.False(t, c.Exists("a"))
	assert.True(t, c.Exists("b"))

	c.Clear()
	assert.False(t, c.Exists("b"))
	stats := c.Stats()
	assert.Zero(t, stats.MemoryEntries)
	assert.Zero(t, stats.PersistedEntries)
}

func TestCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			for j := 0; j < 100; j++ {
				Set(ctx, c, countKind, key, j, 0)
				Get(ctx, c, countKind, key)
				c.Exists(key)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 4, c.Stats().MemoryEntries)
}

// ---------------------------------------------------------------------------
// Durable storage
// ---------------------------------------------------------------------------

func TestCache_ClearRemovesDurableFile(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(t, clock)
	Set(ctx, c, countKind, "n", 7, 0)
	require.Equal(t, 1, c.Flush(ctx).Written)
	require.FileExists(t, c.Path())

	c.Clear()
	assert.NoFileExists(t, c.Path())

	restarted := New(Options{Path: c.Path(), Now: clock.Now})
	restarted.Register(countKind)
	assert.Equal(t, LoadStats{}, restarted.Load(ctx))
	assert.False(t, restarted.Exists("n"))

	c.Clear()
	assert.NoFileExists(t, c.Path(), "clearing twice is harmless")
}

func TestCache_FlushLoadRestart(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "nested", "cache.json")

	first := New(Options{Path: path, Now: clock.Now})
	list := []record{{Name: "a"}, {Name: "b", Items: []string{"1"}}}
	Set(ctx, first, listKind, "mappings", list, 6*time.Hour)
	Set(ctx, first, countKind, "n", 42, 0)

	fs := first.Flush(ctx)
	assert.Equal(t, 2, fs.Written)
	assert.Zero(t, fs.Skipped)

	clock.Advance(23 * time.Hour)
	second := New(Options{Path: path, Now: clock.Now})
	second.Register(listKind, countKind)
	ls := second.Load(ctx)
	assert.Equal(t, 2, ls.Loaded)

	got, ok := Get(ctx, second, listKind, "mappings")
	require.True(t, ok)
	assert.Equal(t, list, got)
}

func TestCache_LoadDropsStaleEntries(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "cache.json")

	first := New(Options{Path: path, Now: clock.Now})
	Set(ctx, first, countKind, "n", 1, 0)
	first.Flush(ctx)

	clock.Advance(24*time.Hour + time.Second)
	second := New(Options{Path: path, Now: clock.Now})
	second.Register(countKind)
	ls := second.Load(ctx)
	assert.Zero(t, ls.Loaded)
	assert.Equal(t, 1, ls.Skipped)

	_, ok := Get(ctx, second, countKind, "n")
	assert.False(t, ok)
}

func TestCache_LoadDropsUnknownAndUndecodable(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	path := filepath.Join(t.TempDir(), "cache.json")

	body := fileFormat{Version: fileVersion, Entries: map[string]fileEntry{
		"ok":      {Type: countKind.KindName(), Payload: json.RawMessage(`5`), WrittenAt: clock.Now()},
		"unknown": {Type: "gone.v0", Payload: json.RawMessage(`{}`), WrittenAt: clock.Now()},
		"bad":     {Type: countKind.KindName(), Payload: json.RawMessage(`"five"`), WrittenAt: clock.Now()},
	}}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	c := New(Options{Path: path, Now: clock.Now})
	c.Register(countKind)
	ls := c.Load(ctx)
	assert.Equal(t, 1, ls.Loaded)
	assert.Equal(t, 2, ls.Skipped)

	n, ok := Get(ctx, c, countKind, "ok")
	require.True(t, ok)
	assert.Equal(t, 5, n)
	assert.False(t, c.Exists("unknown"))
	assert.False(t, c.Exists("bad"))
}

func TestCache_LoadToleratesMissingAndCorruptFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	missing := New(Options{Path: filepath.Join(dir, "none.json")})
	assert.Equal(t, LoadStats{}, missing.Load(ctx))

	corruptPath := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corruptPath, []byte("{not json"), 0o644))
	corrupt := New(Options{Path: corruptPath})
	assert.Equal(t, LoadStats{}, corrupt.Load(ctx))
}

func TestCache_FlushSkipsUnserializable(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, newFakeClock())
	chanKind := NewKind[chan int]("test.chan.v1")

	Set(ctx, c, chanKind, "bad", make(chan int), 0)
	Set(ctx, c, countKind, "good", 1, 0)

	fs := c.Flush(ctx)
	assert.Equal(t, 1, fs.Written)
	assert.Equal(t, 1, fs.Skipped)
}

func TestCache_FlushReplacesPriorContent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := newTestCache(t, clock)

	Set(ctx, c, countKind, "a", 1, 0)
	c.Flush(ctx)
	c.Remove("a")
	Set(ctx, c, countKind, "b", 2, 0)
	c.Flush(ctx)

	data, err := os.ReadFile(c.Path())
	require.NoError(t, err)
	var ff fileFormat
	require.NoError(t, json.Unmarshal(data, &ff))
	assert.Len(t, ff.Entries, 1)
	assert.Contains(t, ff.Entries, "b")
	assert.Equal(t, countKind.KindName(), ff.Entries["b"].Type)
}

func TestCache_NoPathDisablesDurableIO(t *testing.T) {
	ctx := context.Background()
	c := New(Options{})
	Set(ctx, c, countKind, "n", 1, 0)
	assert.Equal(t, FlushStats{}, c.Flush(ctx))
	assert.Equal(t, LoadStats{}, c.Load(ctx))
}

func TestCache_AutoFlushStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := New(Options{Path: filepath.Join(t.TempDir(), "cache.json")})
	Set(context.Background(), c, countKind, "n", 1, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.AutoFlush(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	_, err := os.Stat(c.Path())
	assert.NoError(t, err, "final flush writes the file")
}
