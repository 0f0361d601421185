package pipelines

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultCacheTTL = 5 * time.Minute

// CachedDoctor remembers the last doctor probe for ttl. Concurrent callers
// that miss the cache share a single probe.
type CachedDoctor struct {
	runner Runner
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	cached   *Capabilities
	inflight *probe
}

type probe struct {
	done chan struct{}
	caps *Capabilities
	err  error
}

func NewCachedDoctor(runner Runner, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedDoctor{runner: runner, ttl: defaultCacheTTL, logger: logger}
}

// Get returns the cached capabilities while fresh and probes otherwise.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	if c := d.cached; c != nil && time.Since(c.ProbedAt) < d.ttl {
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()
	return d.Refresh(ctx)
}

// Peek returns whatever is cached without probing; nil before the first probe.
func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cached
}

// Refresh probes now. On failure the previous result, if any, is returned
// instead of the error.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	if p := d.inflight; p != nil {
		d.mu.Unlock()
		select {
		case <-p.done:
			return p.caps, p.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &probe{done: make(chan struct{})}
	d.inflight = p
	d.mu.Unlock()

	caps, err := d.runner.RunDoctor(ctx)

	d.mu.Lock()
	switch {
	case err == nil:
		d.cached = caps
		p.caps = caps
	case d.cached != nil:
		d.logger.Warn("doctor probe failed, keeping previous capabilities", "error", err)
		p.caps = d.cached
	default:
		d.logger.Warn("doctor probe failed", "error", err)
		p.err = err
	}
	d.inflight = nil
	d.mu.Unlock()
	close(p.done)

	return p.caps, p.err
}

// Invalidate drops the cache so the next Get probes again, e.g. after the
// analysis package was installed.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
