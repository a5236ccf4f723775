package whoisproxy

import (
	"expvar"
	"os"
	"sync/atomic"
	"time"
)

// AtomicContext holds the single live Context behind an atomic pointer so
// Server goroutines can read it without taking a lock and the reloader
// can swap it in one atomic store. Concurrent readers always see either
// the old Context or the new one in full, never a partially built one,
// since Context is only ever replaced, never mutated.
type AtomicContext struct {
	p atomic.Pointer[Context]
}

// NewAtomicContext wraps an already-loaded Context.
func NewAtomicContext(ctx *Context) *AtomicContext {
	a := &AtomicContext{}
	a.p.Store(ctx)
	return a
}

// Load returns the current live Context.
func (a *AtomicContext) Load() *Context {
	return a.p.Load()
}

func (a *AtomicContext) store(ctx *Context) {
	a.p.Store(ctx)
}

// Watcher polls the three compiled files at a fixed resolution and, after
// a debounce window with no further changes, rebuilds the Context and
// swaps it into the shared AtomicContext. Polls on a fixed cadence rather
// than watching filesystem events - see DESIGN.md.
type Watcher struct {
	ipv4Path, ipv6Path, asnPath string
	ctx                         *AtomicContext

	pollInterval   time.Duration
	debounceWindow time.Duration

	metrics *watcherMetrics
}

type watcherMetrics struct {
	reloads *expvar.Int
	errors  *expvar.Int
}

func newWatcherMetrics() *watcherMetrics {
	return &watcherMetrics{
		reloads: getVarInt("reload", "watcher", "reloads"),
		errors:  getVarInt("reload", "watcher", "errors"),
	}
}

// NewWatcher returns a Watcher polling at 5-second resolution with a
// 15-second debounce window.
func NewWatcher(ipv4Path, ipv6Path, asnPath string, ctx *AtomicContext) *Watcher {
	return &Watcher{
		ipv4Path:       ipv4Path,
		ipv6Path:       ipv6Path,
		asnPath:        asnPath,
		ctx:            ctx,
		pollInterval:   5 * time.Second,
		debounceWindow: 15 * time.Second,
		metrics:        newWatcherMetrics(),
	}
}

// Run polls until stop is closed. It is intended to run in its own
// goroutine.
func (w *Watcher) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Seed from the files' current mtimes so the first poll of an
	// unchanged set of files doesn't look like a fresh write and queue a
	// spurious reload.
	lastMtime, _ := w.newestMtime()
	var pendingSince time.Time
	pending := false

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			mtime, ok := w.newestMtime()
			if !ok {
				continue
			}
			if mtime.After(lastMtime) {
				lastMtime = mtime
				pendingSince = time.Now()
				pending = true
				continue
			}
			if pending && time.Since(pendingSince) >= w.debounceWindow {
				pending = false
				w.reload()
			}
		}
	}
}

func (w *Watcher) newestMtime() (time.Time, bool) {
	var newest time.Time
	for _, p := range []string{w.ipv4Path, w.ipv6Path, w.asnPath} {
		fi, err := os.Stat(p)
		if err != nil {
			return time.Time{}, false
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
	}
	return newest, true
}

func (w *Watcher) reload() {
	ctx, err := FromCompiled(w.ipv4Path, w.ipv6Path, w.asnPath)
	if err != nil {
		w.metrics.errors.Add(1)
		Log.WithError(err).Warn("reload failed, retaining previous context")
		return
	}
	w.ctx.store(ctx)
	w.metrics.reloads.Add(1)
	Log.Info("reloaded routing context")
}
