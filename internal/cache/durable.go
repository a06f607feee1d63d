package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const fileVersion = 1

// fileFormat is the durable layout: one object mapping key to a tagged entry.
type fileFormat struct {
	Version int                  `json:"version"`
	Entries map[string]fileEntry `json:"entries"`
}

type fileEntry struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	WrittenAt time.Time       `json:"writtenAt"`
}

// FlushStats reports the outcome of a Flush.
type FlushStats struct {
	Written int `json:"written"`
	Skipped int `json:"skipped"`
}

// LoadStats reports the outcome of a Load.
type LoadStats struct {
	Loaded  int `json:"loaded"`
	Skipped int `json:"skipped"`
}

// Flush writes every fresh persisted entry to the durable file, replacing its
// previous content. Entries that fail to serialize are skipped. I/O errors
// are logged and reported only through the returned stats.
func (c *Cache) Flush(ctx context.Context) FlushStats {
	var stats FlushStats
	if c.opts.Path == "" {
		return stats
	}
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	now := c.opts.Now()
	out := fileFormat{Version: fileVersion, Entries: make(map[string]fileEntry)}
	c.persisted.Range(func(k, v any) bool {
		key := k.(string)
		e := v.(*persistedEntry)
		if c.stale(e.written, now) {
			stats.Skipped++
			return true
		}
		raw, err := json.Marshal(e.value)
		if err != nil {
			c.log.Warn("cache entry not serializable",
				slog.String("key", key),
				slog.String("type", e.kind),
				slog.Any("error", err),
			)
			stats.Skipped++
			recordDropped(ctx, "encode")
			return true
		}
		out.Entries[key] = fileEntry{Type: e.kind, Payload: raw, WrittenAt: e.written}
		return true
	})

	if err := writeFileAtomic(c.opts.Path, out); err != nil {
		c.log.Warn("cache flush failed", slog.String("path", c.opts.Path), slog.Any("error", err))
		return FlushStats{Skipped: stats.Skipped + len(out.Entries)}
	}
	stats.Written = len(out.Entries)
	c.log.Debug("cache flushed",
		slog.String("path", c.opts.Path),
		slog.Int("written", stats.Written),
		slog.Int("skipped", stats.Skipped),
	)
	return stats
}

// Load reads the durable file into the persisted tier. Entries of unknown
// type, entries that fail to decode, and entries older than the staleness
// window are dropped. A missing file is not an error.
func (c *Cache) Load(ctx context.Context) LoadStats {
	var stats LoadStats
	if c.opts.Path == "" {
		return stats
	}
	c.ioMu.Lock()
	defer c.ioMu.Unlock()

	data, err := os.ReadFile(c.opts.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.log.Warn("cache load failed", slog.String("path", c.opts.Path), slog.Any("error", err))
		}
		return stats
	}
	var in fileFormat
	if err := json.Unmarshal(data, &in); err != nil {
		c.log.Warn("cache file corrupt", slog.String("path", c.opts.Path), slog.Any("error", err))
		return stats
	}

	now := c.opts.Now()
	for key, fe := range in.Entries {
		if c.stale(fe.WrittenAt, now) {
			stats.Skipped++
			recordDropped(ctx, "stale")
			continue
		}
		v, ok := c.kinds.Load(fe.Type)
		if !ok {
			c.log.Debug("cache entry of unknown type dropped", slog.String("key", key), slog.String("type", fe.Type))
			stats.Skipped++
			recordDropped(ctx, "unknown_type")
			continue
		}
		value, err := v.(codec).decode(fe.Payload)
		if err != nil {
			c.log.Warn("cache entry not decodable",
				slog.String("key", key),
				slog.String("type", fe.Type),
				slog.Any("error", err),
			)
			stats.Skipped++
			recordDropped(ctx, "decode")
			continue
		}
		entry := &persistedEntry{kind: fe.Type, value: value, written: fe.WrittenAt}
		if existing, loaded := c.persisted.LoadOrStore(key, entry); loaded {
			if existing.(*persistedEntry).written.After(fe.WrittenAt) {
				stats.Skipped++
				continue
			}
			c.persisted.Store(key, entry)
		}
		stats.Loaded++
	}
	c.log.Debug("cache loaded",
		slog.String("path", c.opts.Path),
		slog.Int("loaded", stats.Loaded),
		slog.Int("skipped", stats.Skipped),
	)
	return stats
}

// AutoFlush flushes every interval until ctx is done, then flushes once more.
func (c *Cache) AutoFlush(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			c.Flush(ctx)
		}
	}
}

func writeFileAtomic(path string, v fileFormat) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
