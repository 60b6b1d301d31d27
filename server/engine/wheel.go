// idle timing wheel: ring of buckets, one bucket per tick.
// connection placed into tail bucket on register and on every refresh,
// each tick drops the oldest bucket, so silent conns fall out after window ticks.
// insert, refresh and per-tick eviction are O(1) amortized, no scans over all conns.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const minWindow = 2 // window of 1 tick would evict on the very next tick

// Evictable is what wheel can force to close, *Session implements it
type Evictable interface {
	Evict(grace time.Duration)
}

// Entry is a handle to one conn in the wheel.
// buckets are the only owners: refs counts buckets holding the entry,
// when it drops to 0 the entry is dead and the conn gets evicted.
type Entry struct {
	w    *Wheel
	v    Evictable
	refs int // guarded by w.mu
}

// Refresh marks activity, no-op for dead entries
func (e *Entry) Refresh() {
	e.w.Refresh(e)
}

// Alive reports whether entry is still held by any bucket
func (e *Entry) Alive() bool {
	e.w.mu.Lock()
	defer e.w.mu.Unlock()
	return e.refs > 0
}

type bucket map[*Entry]struct{}

type Wheel struct {
	mu      sync.Mutex
	buckets []bucket
	tail    int

	grace time.Duration
	log   zerolog.Logger
}

// NewWheel makes wheel with window buckets, grace is given to evicted conns to flush output
func NewWheel(window int, grace time.Duration, log zerolog.Logger) *Wheel {
	if window < minWindow {
		window = minWindow
	}

	w := &Wheel{
		buckets: make([]bucket, window),
		grace:   grace,
		log:     log,
	}
	for i := range w.buckets {
		w.buckets[i] = make(bucket)
	}
	return w
}

// Window returns number of buckets
func (w *Wheel) Window() int {
	return len(w.buckets)
}

// Register puts v into the tail bucket and returns its handle
func (w *Wheel) Register(v Evictable) *Entry {
	e := &Entry{w: w, v: v}

	w.mu.Lock()
	w.insert(e)
	w.mu.Unlock()
	return e
}

// Refresh moves entry into current tail bucket, so it has full window again.
// entry may still sit in older buckets, they only drop their ref when rotated out
func (w *Wheel) Refresh(e *Entry) {
	if e == nil {
		return
	}

	w.mu.Lock()
	if e.refs > 0 {
		w.insert(e)
	}
	w.mu.Unlock()
}

func (w *Wheel) insert(e *Entry) {
	b := w.buckets[w.tail]
	if _, ok := b[e]; ok {
		return // same tick, same bucket
	}
	b[e] = struct{}{}
	e.refs++
}

// Tick drops the oldest bucket and appends a fresh tail
func (w *Wheel) Tick() {
	w.mu.Lock()
	w.tail = (w.tail + 1) % len(w.buckets)
	head := w.buckets[w.tail] // oldest bucket sits right after old tail

	var dead []*Entry
	for e := range head {
		e.refs--
		if e.refs == 0 {
			dead = append(dead, e)
		}
	}
	if len(head) > 0 {
		w.buckets[w.tail] = make(bucket)
	}
	w.mu.Unlock()

	// evict outside the lock, Evict may call back into session code
	for _, e := range dead {
		e.v.Evict(w.grace)
	}
	if len(dead) > 0 {
		w.log.Debug().Int("evicted", len(dead)).Msg("idle wheel tick")
	}
}

// Len returns number of live entries
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[*Entry]struct{})
	for _, b := range w.buckets {
		for e := range b {
			seen[e] = struct{}{}
		}
	}
	return len(seen)
}

// Run ticks the wheel every interval until ctx is done
func (w *Wheel) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.Tick()
		}
	}
}
