// Package cache implements a two-tier key/value cache: a lock-free in-memory
// tier with per-entry expiry, backed by a persisted tier that is written to a
// single JSON file and survives restarts for a bounded staleness window.
//
// Payloads are typed. Each payload type is described by a Kind whose name is
// the discriminator stored on disk; only registered kinds are decoded when the
// file is loaded.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Default durations.
const (
	DefaultTTL       = time.Hour
	DefaultPromote   = 30 * time.Minute
	DefaultStaleness = 24 * time.Hour
)

// Options configure a Cache.
type Options struct {
	// Path of the durable file. Empty disables Flush and Load.
	Path string
	// DefaultTTL applies to Set calls with ttl <= 0.
	DefaultTTL time.Duration
	// PromoteTTL is the memory lifetime of entries promoted from the persisted tier.
	PromoteTTL time.Duration
	// Staleness is the age after which persisted entries are treated as absent.
	Staleness time.Duration
	Logger    *slog.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	opts Options
	log  *slog.Logger

	memory    sync.Map // key -> *memEntry
	persisted sync.Map // key -> *persistedEntry
	kinds     sync.Map // kind name -> codec

	// ioMu serializes Flush, Load and Clear.
	ioMu sync.Mutex

	hits       atomic.Int64
	misses     atomic.Int64
	promotions atomic.Int64
}

type memEntry struct {
	kind    string
	value   any
	expires time.Time
}

type persistedEntry struct {
	kind    string
	value   any
	written time.Time
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	MemoryEntries    int   `json:"memoryEntries"`
	PersistedEntries int   `json:"persistedEntries"`
	Hits             int64 `json:"hits"`
	Misses           int64 `json:"misses"`
	Promotions       int64 `json:"promotions"`
}

// New returns a Cache with zero-valued options replaced by defaults.
func New(opts Options) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.PromoteTTL <= 0 {
		opts.PromoteTTL = DefaultPromote
	}
	if opts.Staleness <= 0 {
		opts.Staleness = DefaultStaleness
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Cache{opts: opts, log: log.With(slog.String("component", "cache"))}
}

// Path returns the durable file path.
func (c *Cache) Path() string {
	return c.opts.Path
}

// Register makes kinds decodable by Load. Registering a kind twice is a no-op.
func (c *Cache) Register(kinds ...Registrar) {
	for _, k := range kinds {
		c.kinds.LoadOrStore(k.KindName(), k.codec())
	}
}

// Get returns the value stored under key if it is present, fresh, and of the
// requested kind. A persisted hit is promoted into memory with the promote TTL.
func Get[T any](ctx context.Context, c *Cache, kind Kind[T], key string) (T, bool) {
	var zero T
	now := c.opts.Now()

	if v, ok := c.memory.Load(key); ok {
		e := v.(*memEntry)
		if now.Before(e.expires) && e.kind == kind.name {
			if typed, ok := e.value.(T); ok {
				c.hit(ctx, tierMemory)
				return typed, true
			}
		}
		if !now.Before(e.expires) {
			c.memory.CompareAndDelete(key, v)
		}
	}

	if v, ok := c.persisted.Load(key); ok {
		e := v.(*persistedEntry)
		if c.stale(e.written, now) {
			c.persisted.CompareAndDelete(key, v)
			recordDropped(ctx, "stale")
		} else if e.kind == kind.name {
			if typed, ok := e.value.(T); ok {
				c.memory.Store(key, &memEntry{kind: e.kind, value: e.value, expires: now.Add(c.opts.PromoteTTL)})
				c.promotions.Add(1)
				recordPromotion(ctx)
				c.hit(ctx, tierPersisted)
				return typed, true
			}
		}
	}

	c.misses.Add(1)
	recordMiss(ctx)
	return zero, false
}

// Set writes value to both tiers. A ttl <= 0 uses the default TTL.
func Set[T any](_ context.Context, c *Cache, kind Kind[T], key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}
	c.Register(kind)
	now := c.opts.Now()
	c.memory.Store(key, &memEntry{kind: kind.name, value: value, expires: now.Add(ttl)})
	c.persisted.Store(key, &persistedEntry{kind: kind.name, value: value, written: now})
}

// Remove deletes key from both tiers.
func (c *Cache) Remove(key string) {
	c.memory.Delete(key)
	c.persisted.Delete(key)
}

// Exists reports whether key is live in either tier. It does not promote.
func (c *Cache) Exists(key string) bool {
	now := c.opts.Now()
	if v, ok := c.memory.Load(key); ok && now.Before(v.(*memEntry).expires) {
		return true
	}
	if v, ok := c.persisted.Load(key); ok && !c.stale(v.(*persistedEntry).written, now) {
		return true
	}
	return false
}

// Clear empties both tiers and removes the durable file, so a restart
// before the next Flush does not bring the entries back.
func (c *Cache) Clear() {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	c.memory.Clear()
	c.persisted.Clear()
	if c.opts.Path == "" {
		return
	}
	if err := os.Remove(c.opts.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.log.Warn("cache file not removed", slog.String("path", c.opts.Path), slog.Any("error", err))
	}
}

// Stats returns entry counts and hit counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Promotions: c.promotions.Load(),
	}
	c.memory.Range(func(_, _ any) bool { s.MemoryEntries++; return true })
	c.persisted.Range(func(_, _ any) bool { s.PersistedEntries++; return true })
	return s
}

func (c *Cache) stale(written, now time.Time) bool {
	return now.Sub(written) > c.opts.Staleness
}

func (c *Cache) hit(ctx context.Context, tier string) {
	c.hits.Add(1)
	recordHit(ctx, tier)
}

// Registrar is implemented by Kind values.
type Registrar interface {
	KindName() string
	codec() codec
}

type codec struct {
	decode func(json.RawMessage) (any, error)
}

// Kind describes a payload type and its on-disk discriminator.
type Kind[T any] struct {
	name string
}

// NewKind returns a Kind whose values are serialized as JSON under name.
func NewKind[T any](name string) Kind[T] {
	return Kind[T]{name: name}
}

// KindName returns the discriminator.
func (k Kind[T]) KindName() string {
	return k.name
}

func (k Kind[T]) codec() codec {
	return codec{
		decode: func(raw json.RawMessage) (any, error) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
	}
}
