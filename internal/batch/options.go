// Package batch drains the dirty queue: claim, replay, aggregate, publish.
package batch

import (
	"time"

	"github.com/muselab/aura/pkg/logger"
)

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the worker's name, used as the claim-token prefix.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithBatchSize sets how many dirty entries one claim takes.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithTickInterval sets the scheduler period between drain cycles.
func WithTickInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.tickInterval = d
		}
	}
}

// WithBudget caps the wall-clock time of a single drain cycle.
func WithBudget(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.budget = d
		}
	}
}

// WithPublishThresholds sets the minimum score and confidence movement
// that justifies republishing, below which writes are suppressed.
func WithPublishThresholds(scoreDelta, confidenceDelta float64) Option {
	return func(w *Worker) {
		if scoreDelta >= 0 {
			w.scoreDelta = scoreDelta
		}
		if confidenceDelta >= 0 {
			w.confidenceDelta = confidenceDelta
		}
	}
}

// WithWake attaches an urgency channel; a signal triggers an immediate
// drain cycle instead of waiting for the next tick.
func WithWake(ch <-chan struct{}) Option {
	return func(w *Worker) {
		w.wake = ch
	}
}

// WithIdleGrowth sets the additive sigma growth applied to items with
// no comparisons since the previous tick.
func WithIdleGrowth(growth float64) Option {
	return func(w *Worker) {
		if growth >= 0 {
			w.idleGrowth = growth
		}
	}
}

// WithMaxAttempts caps how often a failing entry is requeued before it
// is dropped from the queue.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(log logger.Logger) Option {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}
