// Package dedupe tracks recently seen event ids for idempotent ingestion.
package dedupe

// Option applies a configuration option to the ring deduper.
type Option func(*ringDeduper)

// WithCapacity sets how many ids are retained before the oldest are
// evicted. A value of zero or less keeps every id forever.
func WithCapacity(n int) Option {
	return func(d *ringDeduper) {
		d.capacity = n
	}
}
