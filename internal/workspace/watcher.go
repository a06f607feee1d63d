package workspace

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last source change before
// the workspace reloads.
const DefaultDebounce = 300 * time.Millisecond

// ReloadFunc is called after a debounced reload with the changed paths,
// relative to the workspace root.
type ReloadFunc func(ctx context.Context, changed []string, stats *LoadStats)

// Watcher reloads a Workspace when .cs files under its root change.
type Watcher struct {
	ws       *Workspace
	fsw      *fsnotify.Watcher
	debounce time.Duration
	onReload ReloadFunc
	logger   *slog.Logger

	changes  chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Watch starts watching the workspace root recursively. The watcher stops
// when ctx is canceled or Stop is called.
func (w *Workspace) Watch(ctx context.Context, debounce time.Duration, onReload ReloadFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	wt := &Watcher{
		ws:       w,
		fsw:      fsw,
		debounce: debounce,
		onReload: onReload,
		logger:   w.logger,
		changes:  make(chan string, 256),
		done:     make(chan struct{}),
	}
	if err := wt.addRecursive(w.opts.Root); err != nil {
		fsw.Close()
		return nil, err
	}
	wt.wg.Add(2)
	go wt.processEvents(ctx)
	go wt.debounceLoop(ctx)
	return wt, nil
}

// Stop ends watching and waits for the background goroutines to exit.
func (wt *Watcher) Stop() {
	wt.stopOnce.Do(func() {
		close(wt.done)
		wt.fsw.Close()
	})
	wt.wg.Wait()
}

func (wt *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && wt.ignoredDir(d.Name()) {
			return filepath.SkipDir
		}
		return wt.fsw.Add(path)
	})
}

func (wt *Watcher) ignoredDir(name string) bool {
	if _, skip := skipDirs[name]; skip {
		return true
	}
	return strings.HasPrefix(name, ".")
}

func (wt *Watcher) processEvents(ctx context.Context) {
	defer wt.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wt.done:
			return
		case event, ok := <-wt.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !wt.ignoredDir(info.Name()) {
					if err := wt.addRecursive(event.Name); err != nil {
						wt.logger.Warn("watch new directory", slog.String("dir", event.Name), slog.Any("error", err))
					}
					continue
				}
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isSourcePath(wt.ws.opts.Root, event.Name, wt.ws.opts.Exclude) {
				continue
			}
			select {
			case wt.changes <- relSlash(wt.ws.opts.Root, event.Name):
			default:
				// The pending batch already forces a full reload.
			}
		case err, ok := <-wt.fsw.Errors:
			if !ok {
				return
			}
			wt.logger.Warn("file watcher error", slog.Any("error", err))
		}
	}
}

func (wt *Watcher) debounceLoop(ctx context.Context) {
	defer wt.wg.Done()
	pending := make(map[string]struct{})
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		changed := make([]string, 0, len(pending))
		for p := range pending {
			changed = append(changed, p)
		}
		sort.Strings(changed)
		clear(pending)

		stats, err := wt.ws.Reload(ctx)
		if err != nil {
			wt.logger.Warn("reload after change failed", slog.Int("changed", len(changed)), slog.Any("error", err))
			return
		}
		wt.logger.Debug("workspace reloaded", slog.Any("changed", changed))
		if wt.onReload != nil {
			wt.onReload(ctx, changed, stats)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-wt.done:
			return
		case p := <-wt.changes:
			pending[p] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(wt.debounce)
				timerC = timer.C
			} else {
				timer.Reset(wt.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}
