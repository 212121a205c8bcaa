// Package batch drains the dirty queue: claim, replay, aggregate, publish.
//
// Each drain cycle claims a batch of dirty items, replays their pending
// events through the rating and calibration engines, recomputes the
// aggregate projection and publishes it when it moved enough to matter.
// Failed items go back to the queue with a demoted priority; items that
// produce unusable values keep their last published score frozen.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	repository "github.com/muselab/aura/internal/adapters/repository"
	"github.com/muselab/aura/internal/domain/aggregate"
	"github.com/muselab/aura/internal/domain/calibration"
	"github.com/muselab/aura/internal/domain/model"
	"github.com/muselab/aura/internal/domain/rating"
	"github.com/muselab/aura/pkg/logger"
	"github.com/muselab/aura/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultBatchSize       = 50
	defaultTickInterval    = 60 * time.Second
	defaultBudget          = 10 * time.Second
	defaultScoreDelta      = 1.0
	defaultConfidenceDelta = 5.0
	defaultIdleGrowth      = 2.0
	defaultMaxAttempts     = 5
	shutdownTimeout        = 5 * time.Second

	// reliability alignment starts once an item has this many signals.
	consensusMinSignals = 3
)

// Worker runs the claim-replay-publish loop for one goroutine.
type Worker struct {
	store      repository.Store
	engine     *rating.Engine
	calibrator *calibration.Calibrator
	aggregator *aggregate.Aggregator

	name            string
	batchSize       int
	tickInterval    time.Duration
	budget          time.Duration
	scoreDelta      float64
	confidenceDelta float64
	idleGrowth      float64
	maxAttempts     int
	wake            <-chan struct{}

	shutdown chan struct{}
	done     chan struct{}

	log logger.Logger
}

// NewWorker creates a worker with configuration options.
func NewWorker(store repository.Store, engine *rating.Engine, calibrator *calibration.Calibrator, aggregator *aggregate.Aggregator, opts ...Option) *Worker {
	w := &Worker{
		store:           store,
		engine:          engine,
		calibrator:      calibrator,
		aggregator:      aggregator,
		name:            "batch",
		batchSize:       defaultBatchSize,
		tickInterval:    defaultTickInterval,
		budget:          defaultBudget,
		scoreDelta:      defaultScoreDelta,
		confidenceDelta: defaultConfidenceDelta,
		idleGrowth:      defaultIdleGrowth,
		maxAttempts:     defaultMaxAttempts,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
		log:             logger.Get().Named("batch"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "batch" {
		w.log = w.log.Named(w.name)
	}
	return w
}

// Run drives the scheduler loop until ctx is canceled or Shutdown is
// called. Ticks drain the backlog and sweep idle sigma; wake signals
// cut the wait short for urgent work.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case <-ticker.C:
			w.sweepIdle(ctx)
			w.Drain(ctx)
		case <-w.wake:
			w.Drain(ctx)
		}
	}
}

// Shutdown stops the worker and waits for the in-flight cycle.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	select {
	case <-w.done:
		return nil
	case <-shutdownCtx.Done():
		w.log.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("worker shutdown: %w", shutdownCtx.Err())
	}
}

// Drain claims and processes dirty entries until the backlog is empty
// or the wall-clock budget runs out. Unprocessed claims are released
// back to the queue for the next cycle.
func (w *Worker) Drain(ctx context.Context) {
	start := time.Now()
	metrics.RecordBatchRun()
	defer func() {
		metrics.RecordBatchDuration(float64(time.Since(start).Milliseconds()))
	}()

	token := w.name + "-" + uuid.NewString()

	// Items that failed and were requeued this cycle are not retried
	// until the next one.
	attempted := make(map[string]bool)

	for {
		claimStart := time.Now()
		entries, err := w.store.ClaimDirty(ctx, token, w.batchSize)
		metrics.RecordClaimLatency(float64(time.Since(claimStart).Milliseconds()))
		if err != nil {
			if !errors.Is(err, repository.ErrContention) {
				w.log.Error(ctx, "claim failed", logger.Error(err))
			}
			return
		}
		if len(entries) == 0 {
			break
		}

		revisited := false
		for i, entry := range entries {
			if time.Since(start) > w.budget {
				w.release(ctx, token, entries[i:])
				w.log.Warn(ctx, "drain cycle over budget",
					logger.Int("released", len(entries)-i),
					logger.Error(ErrBudgetExceeded))
				return
			}
			if attempted[entry.ItemID] {
				revisited = true
				continue
			}
			attempted[entry.ItemID] = true
			w.processEntry(ctx, token, entry)
		}
		if revisited {
			w.release(ctx, token, entries)
			break
		}
	}

	if backlog, err := w.store.DirtyBacklog(ctx); err == nil {
		metrics.UpdateDirtyBacklog(backlog)
	}
	metrics.UpdateItemsTracked(w.store.ItemCount(ctx))
	metrics.UpdateRatersTracked(w.store.RaterCount(ctx))
}

// processEntry replays one item's pending events and republishes it.
func (w *Worker) processEntry(ctx context.Context, token string, entry model.DirtyEntry) {
	if err := w.processItem(ctx, entry.ItemID); err != nil {
		w.fail(ctx, token, entry, err)
		return
	}
	if err := w.store.CompleteDirty(ctx, token, entry.ItemID); err != nil && !errors.Is(err, repository.ErrNotClaimed) {
		w.log.Error(ctx, "complete failed",
			logger.String("item_id", entry.ItemID),
			logger.Error(err))
	}
	metrics.RecordItemProcessed()
}

// fail routes a processing error: unusable computations park the entry
// at the bottom of the queue, transient errors demote and retry, and
// entries past the attempt cap are dropped.
func (w *Worker) fail(ctx context.Context, token string, entry model.DirtyEntry, err error) {
	w.log.Error(ctx, "item processing failed",
		logger.String("item_id", entry.ItemID),
		logger.Int("attempts", entry.Attempts),
		logger.Error(err))

	if entry.Attempts+1 >= w.maxAttempts {
		metrics.RecordItemFailed("max_attempts")
		if cerr := w.store.CompleteDirty(ctx, token, entry.ItemID); cerr != nil {
			w.log.Error(ctx, "drop failed", logger.Error(cerr))
		}
		return
	}

	priority := entry.Priority / 2
	if errors.Is(err, ErrComputation) {
		metrics.RecordItemFailed("computation")
		priority = 0
	} else {
		metrics.RecordItemFailed("transient")
	}

	if rerr := w.store.RequeueDirty(ctx, token, entry.ItemID, priority); rerr != nil {
		w.log.Error(ctx, "requeue failed", logger.Error(rerr))
		return
	}
	metrics.RecordItemRequeued()
}

// processItem replays pending events in arrival order, then recomputes
// and conditionally publishes the aggregate projection.
func (w *Worker) processItem(ctx context.Context, itemID string) error {
	events, err := w.store.UnappliedEvents(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load pending events: %w", err)
	}

	for _, e := range events {
		switch e.Kind {
		case model.KindComparison:
			err = w.applyComparison(ctx, e)
		case model.KindRating:
			err = w.applyRating(ctx, e)
		case model.KindBoost:
			err = w.applyBoost(ctx, e)
		default:
			err = fmt.Errorf("%w: unknown event kind %q", ErrComputation, e.Kind)
		}
		if err != nil {
			return fmt.Errorf("apply event %s: %w", e.EventID, err)
		}
	}

	return w.publish(ctx, itemID)
}

// applyComparison updates both sides of a pairwise outcome in one
// transaction. Whichever side's replay runs first applies the event;
// the other side finds nothing pending and only republishes.
func (w *Worker) applyComparison(ctx context.Context, e model.Event) error {
	a, err := w.store.GetItem(ctx, e.ItemA)
	if err != nil {
		return fmt.Errorf("get item %s: %w", e.ItemA, err)
	}
	b, err := w.store.GetItem(ctx, e.ItemB)
	if err != nil {
		return fmt.Errorf("get item %s: %w", e.ItemB, err)
	}

	outcome := rating.AWins
	if e.WinnerID == e.ItemB {
		outcome = rating.BWins
	}

	stateA := rating.State{Mean: a.Mean, Sigma: a.Sigma}
	stateB := rating.State{Mean: b.Mean, Sigma: b.Sigma}
	newA, newB, err := w.engine.Update(stateA, stateB, outcome, e.HighWeight)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrComputation, err)
	}

	matchedAt := e.CreatedAt
	if matchedAt.IsZero() {
		matchedAt = time.Now()
	}

	a.Mean, a.Sigma = newA.Mean, newA.Sigma
	a.Comparisons++
	a.LastMatchAt = matchedAt
	b.Mean, b.Sigma = newB.Mean, newB.Sigma
	b.Comparisons++
	b.LastMatchAt = matchedAt

	return w.store.ApplyEvent(ctx, e.EventID, []model.Item{a, b}, nil)
}

// applyRating folds a raw slider value into the rater's running stats,
// calibrates it into the item's signal average and nudges the rater's
// reliability against the item consensus.
func (w *Worker) applyRating(ctx context.Context, e model.Event) error {
	item, err := w.store.GetItem(ctx, e.ItemA)
	if err != nil {
		return fmt.Errorf("get item %s: %w", e.ItemA, err)
	}
	rater, err := w.store.GetRater(ctx, e.RaterID)
	if err != nil {
		return fmt.Errorf("get rater %s: %w", e.RaterID, err)
	}

	stats := calibration.Stats{Count: rater.Count, Mean: rater.Mean, M2: rater.M2}
	stats = stats.Observe(e.RawValue)

	calibrated := w.calibrator.Normalize(e.RawValue, stats)
	if math.IsNaN(calibrated) || math.IsInf(calibrated, 0) {
		return fmt.Errorf("%w: calibrated value for raw %.2f", ErrComputation, e.RawValue)
	}

	if item.SignalCount >= consensusMinSignals {
		raterAvg, err := w.raterItemAverage(ctx, e, stats, calibrated)
		if err != nil {
			return err
		}
		rater.Reliability = w.calibrator.AlignReliability(rater.Reliability, raterAvg, item.SignalAvg())
		rater.ReliabilitySamples++
	}

	rater.Count = stats.Count
	rater.Mean = stats.Mean
	rater.M2 = stats.M2

	item.SignalSum += calibrated
	item.SignalCount++

	return w.store.ApplyEvent(ctx, e.EventID, []model.Item{item}, []model.Rater{rater})
}

// raterItemAverage is the rater's calibrated average over all their
// rating events for the item, the current one included, normalized
// against the rater's present stats. Alignment judges the rater's
// overall read of the item, so a single outlier rating cannot swing
// reliability on its own.
func (w *Worker) raterItemAverage(ctx context.Context, e model.Event, stats calibration.Stats, fallback float64) (float64, error) {
	events, err := w.store.RatingEventsForItem(ctx, e.ItemA)
	if err != nil {
		return 0, fmt.Errorf("rating events for %s: %w", e.ItemA, err)
	}

	sum, n := 0.0, 0
	for _, ev := range events {
		if ev.RaterID != e.RaterID {
			continue
		}
		sum += w.calibrator.Normalize(ev.RawValue, stats)
		n++
	}
	if n == 0 {
		return fallback, nil
	}
	return sum / float64(n), nil
}

func (w *Worker) applyBoost(ctx context.Context, e model.Event) error {
	item, err := w.store.GetItem(ctx, e.ItemA)
	if err != nil {
		return fmt.Errorf("get item %s: %w", e.ItemA, err)
	}
	item.Boosts++
	return w.store.ApplyEvent(ctx, e.EventID, []model.Item{item}, nil)
}

// publish recomputes the aggregate projection and writes it when it
// moved past the configured thresholds or crossed a tier boundary.
func (w *Worker) publish(ctx context.Context, itemID string) error {
	item, err := w.store.GetItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("get item %s: %w", itemID, err)
	}

	raters, err := w.store.RatersForItem(ctx, itemID)
	if err != nil {
		return fmt.Errorf("raters for %s: %w", itemID, err)
	}
	avgReliability := 1.0
	if len(raters) > 0 {
		sum := 0.0
		for _, r := range raters {
			sum += r.Reliability
		}
		avgReliability = sum / float64(len(raters))
	}

	result := w.aggregator.Compute(aggregate.Inputs{
		RatingMean:     item.Mean,
		RatingSigma:    item.Sigma,
		Comparisons:    item.Comparisons,
		SignalAvg:      item.SignalAvg(),
		SignalCount:    item.SignalCount,
		BoostCount:     item.Boosts,
		AvgReliability: avgReliability,
	})
	if math.IsNaN(result.Score) || math.IsInf(result.Score, 0) {
		return fmt.Errorf("%w: aggregate score for %s", ErrComputation, itemID)
	}

	prev, err := w.store.GetPublished(ctx, itemID)
	if err != nil && !errors.Is(err, repository.ErrNotScored) {
		return fmt.Errorf("get published %s: %w", itemID, err)
	}
	if err == nil && !w.worthPublishing(prev, result) {
		metrics.RecordPublishSuppressed()
		return nil
	}

	if err := w.store.PublishScore(ctx, model.PublishedScore{
		ItemID:      itemID,
		Score:       result.Score,
		Confidence:  result.Confidence,
		Tier:        result.Tier,
		PublishedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("publish %s: %w", itemID, err)
	}
	metrics.RecordScorePublished()
	return nil
}

// worthPublishing reports whether the recomputed projection moved
// enough from the published one to justify a write.
func (w *Worker) worthPublishing(prev model.PublishedScore, next aggregate.Result) bool {
	if math.Abs(next.Score-prev.Score) >= w.scoreDelta {
		return true
	}
	if math.Abs(next.Confidence-prev.Confidence) >= w.confidenceDelta {
		return true
	}
	return next.Tier != prev.Tier
}

// sweepIdle grows sigma for items with no comparisons since the last
// tick, so stale ratings become uncertain again over time.
func (w *Worker) sweepIdle(ctx context.Context) {
	cutoff := time.Now().Add(-w.tickInterval)
	moved, err := w.store.GrowIdleSigma(ctx, cutoff, w.idleGrowth, w.engine.SigmaCap())
	if err != nil {
		w.log.Error(ctx, "idle sigma sweep failed", logger.Error(err))
		return
	}
	if moved > 0 {
		w.log.Debug(ctx, "idle sigma swept", logger.Int("items", moved))
	}
}

func (w *Worker) release(ctx context.Context, token string, rest []model.DirtyEntry) {
	if len(rest) == 0 {
		return
	}
	if err := w.store.ReleaseClaims(ctx, token); err != nil {
		w.log.Error(ctx, "release claims failed", logger.Error(err))
	}
}

// Pool fans the drain loop out over several workers. Claims keep their
// batches disjoint, so workers never process the same item twice.
type Pool struct {
	workers []*Worker
	log     logger.Logger
}

// NewPool creates count workers sharing one store and engine set.
func NewPool(count int, store repository.Store, engine *rating.Engine, calibrator *calibration.Calibrator, aggregator *aggregate.Aggregator, opts ...Option) *Pool {
	if count < 1 {
		count = 1
	}
	p := &Pool{
		workers: make([]*Worker, count),
		log:     logger.Get().Named("batch-pool"),
	}
	for i := 0; i < count; i++ {
		workerOpts := append([]Option{WithName(fmt.Sprintf("batch-%d", i))}, opts...)
		p.workers[i] = NewWorker(store, engine, calibrator, aggregator, workerOpts...)
	}
	return p
}

// Start launches every worker's scheduler loop.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown stops all workers and waits for their in-flight cycles.
func (p *Pool) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
