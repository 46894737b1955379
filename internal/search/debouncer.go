// Package search runs the doctor directory search behind the type-ahead box.
package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jwalitptl/clinic-portal/pkg/metrics"
)

// ErrSuperseded is returned to a search that a newer one replaced before its
// delay ran out.
var ErrSuperseded = errors.New("search superseded by a newer query")

type pending struct {
	superseded chan struct{}
}

// Debouncer keeps at most one waiting call per key. A new call for the same
// key supersedes the waiting one and restarts the delay.
type Debouncer struct {
	delay   time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	waiting map[string]*pending
}

func NewDebouncer(delay time.Duration, m *metrics.Metrics) *Debouncer {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Debouncer{
		delay:   delay,
		metrics: m,
		waiting: make(map[string]*pending),
	}
}

// Do waits out the delay and then runs fn, unless a newer call for key
// arrives first (ErrSuperseded) or ctx ends (ctx.Err()).
func (d *Debouncer) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	p := &pending{superseded: make(chan struct{})}

	d.mu.Lock()
	if prev, ok := d.waiting[key]; ok {
		close(prev.superseded)
	}
	d.waiting[key] = p
	d.mu.Unlock()

	timer := time.NewTimer(d.delay)
	defer timer.Stop()

	select {
	case <-p.superseded:
		d.metrics.SearchSuperseded.Inc()
		return ErrSuperseded
	case <-ctx.Done():
		d.release(key, p)
		return ctx.Err()
	case <-timer.C:
	}

	if !d.release(key, p) {
		d.metrics.SearchSuperseded.Inc()
		return ErrSuperseded
	}
	return fn(ctx)
}

// release drops p if it is still the waiting call for key and reports
// whether it was.
func (d *Debouncer) release(key string, p *pending) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiting[key] != p {
		return false
	}
	delete(d.waiting, key)
	return true
}

// Waiting is the number of keys with a call in its delay.
func (d *Debouncer) Waiting() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiting)
}
