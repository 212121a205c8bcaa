// Package dedupe tracks recently seen event ids for idempotent ingestion.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Deduper records seen event ids so the same observation is accepted
// at most once.
type Deduper interface {
	// SeenAndRecord atomically checks whether id was seen before and
	// records it if not. Returns true when id was already present.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets an id so it can be submitted again. Used when
	// an event passed the duplicate check but failed to persist.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// ringDeduper keeps the most recent ids in a fixed-capacity ring.
// When the ring is full, recording a new id evicts the oldest one.
// A capacity of zero or less disables eviction entirely.
type ringDeduper struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	ring     []string
	next     int
	capacity int
	size     atomic.Int64
}

// NewRingDeduper creates a deduper with the default capacity of 100000
// ids, overridable through options.
func NewRingDeduper(opts ...Option) Deduper {
	d := &ringDeduper{
		capacity: 100000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]struct{})
	if d.capacity > 0 {
		d.ring = make([]string, d.capacity)
	}
	return d
}

func (d *ringDeduper) SeenAndRecord(ctx context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}

	if d.capacity > 0 {
		if old := d.ring[d.next]; old != "" {
			delete(d.seen, old)
			d.size.Add(-1)
		}
		d.ring[d.next] = id
		d.next = (d.next + 1) % d.capacity
	}
	d.seen[id] = struct{}{}
	d.size.Add(1)
	return false
}

func (d *ringDeduper) Unrecord(ctx context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; !ok {
		return
	}
	delete(d.seen, id)
	d.size.Add(-1)

	if d.capacity > 0 {
		for i, v := range d.ring {
			if v == id {
				d.ring[i] = ""
				break
			}
		}
	}
}

// Size returns the number of ids currently tracked.
func (d *ringDeduper) Size() int64 {
	return d.size.Load()
}
