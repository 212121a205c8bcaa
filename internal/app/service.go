// Package service wires the engines together behind one facade: event
// submission, next-observation selection, score reads and the admin
// surface, with the batch pool running underneath.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/muselab/aura/internal/adapters/repository"
	"github.com/muselab/aura/internal/batch"
	"github.com/muselab/aura/internal/domain/aggregate"
	"github.com/muselab/aura/internal/domain/calibration"
	"github.com/muselab/aura/internal/domain/dedupe"
	"github.com/muselab/aura/internal/domain/model"
	"github.com/muselab/aura/internal/domain/rating"
	"github.com/muselab/aura/internal/domain/selection"
	"github.com/muselab/aura/internal/ingest"
	"github.com/muselab/aura/pkg/logger"
	"github.com/muselab/aura/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultWorkerCount = 1
	defaultDedupeSize  = 100000
)

// ScoreView is the read-model response for one item: the published
// projection plus the observation counts behind it.
type ScoreView struct {
	Published   model.PublishedScore
	Comparisons int
	Signals     int
	Boosts      int
}

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	Items        int `json:"items"`
	Raters       int `json:"raters"`
	DirtyBacklog int `json:"dirty_backlog"`
	Excluded     int `json:"excluded"`
}

// Service implements the API dependencies for the ranking engine.
type Service struct {
	mu sync.RWMutex

	store      repository.Store
	deduper    dedupe.Deduper
	ingestor   *ingest.Ingestor
	selector   *selection.Selector
	engine     *rating.Engine
	calibrator *calibration.Calibrator
	aggregator *aggregate.Aggregator
	pool       *batch.Pool

	workerCount int
	dedupeSize  int

	ratingOpts    []rating.Option
	selectionOpts []selection.Option
	aggregateOpts []aggregate.Option
	ingestOpts    []ingest.Option
	batchOpts     []batch.Option

	excluded map[string]struct{}
	started  bool

	log logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of batch workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithDedupeSize sets the capacity of the duplicate-id tracker.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size != 0 {
			s.dedupeSize = size
		}
	}
}

// WithRatingOptions forwards options to the rating engine.
func WithRatingOptions(opts ...rating.Option) Option {
	return func(s *Service) {
		s.ratingOpts = append(s.ratingOpts, opts...)
	}
}

// WithSelectionOptions forwards options to the selection engine.
func WithSelectionOptions(opts ...selection.Option) Option {
	return func(s *Service) {
		s.selectionOpts = append(s.selectionOpts, opts...)
	}
}

// WithAggregateOptions forwards options to the score aggregator.
func WithAggregateOptions(opts ...aggregate.Option) Option {
	return func(s *Service) {
		s.aggregateOpts = append(s.aggregateOpts, opts...)
	}
}

// WithIngestOptions forwards options to the ingestor.
func WithIngestOptions(opts ...ingest.Option) Option {
	return func(s *Service) {
		s.ingestOpts = append(s.ingestOpts, opts...)
	}
}

// WithBatchOptions forwards options to every batch worker.
func WithBatchOptions(opts ...batch.Option) Option {
	return func(s *Service) {
		s.batchOpts = append(s.batchOpts, opts...)
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates the service on top of a store. Start must be called
// before events are submitted.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		workerCount: defaultWorkerCount,
		dedupeSize:  defaultDedupeSize,
		excluded:    make(map[string]struct{}),
		log:         logger.Get().Named("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the engines and launches the batch pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	s.deduper = dedupe.NewRingDeduper(dedupe.WithCapacity(s.dedupeSize))
	s.engine = rating.NewEngine(s.ratingOpts...)
	s.calibrator = calibration.NewCalibrator()
	s.aggregator = aggregate.NewAggregator(s.aggregateOpts...)
	s.selector = selection.NewSelector(s.selectionOpts...)
	s.ingestor = ingest.New(s.store, s.deduper, s.ingestOpts...)

	batchOpts := append([]batch.Option{batch.WithWake(s.ingestor.Wake())}, s.batchOpts...)
	s.pool = batch.NewPool(s.workerCount, s.store, s.engine, s.calibrator, s.aggregator, batchOpts...)
	s.pool.Start(ctx)

	s.started = true
	s.log.Info(ctx, "service started", logger.Int("workers", s.workerCount))
	return nil
}

// Shutdown stops the batch pool and closes the store.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	if err := s.pool.Shutdown(ctx); err != nil {
		s.log.Error(ctx, "pool shutdown failed", logger.Error(err))
	}
	return s.store.Close()
}

// SubmitComparison records one pairwise outcome.
func (s *Service) SubmitComparison(ctx context.Context, eventID, itemA, itemB, winnerID, raterID string, highWeight bool) (model.Event, error) {
	if err := s.ready(); err != nil {
		return model.Event{}, err
	}
	return s.ingestor.Submit(ctx, model.Event{
		EventID:    eventID,
		Kind:       model.KindComparison,
		ItemA:      itemA,
		ItemB:      itemB,
		WinnerID:   winnerID,
		RaterID:    raterID,
		HighWeight: highWeight,
	})
}

// SubmitRating records one raw slider value.
func (s *Service) SubmitRating(ctx context.Context, eventID, itemID, raterID string, rawValue float64) (model.Event, error) {
	if err := s.ready(); err != nil {
		return model.Event{}, err
	}
	return s.ingestor.Submit(ctx, model.Event{
		EventID:  eventID,
		Kind:     model.KindRating,
		ItemA:    itemID,
		RaterID:  raterID,
		RawValue: rawValue,
	})
}

// SubmitBoost records one curator boost.
func (s *Service) SubmitBoost(ctx context.Context, eventID, itemID, raterID string) (model.Event, error) {
	if err := s.ready(); err != nil {
		return model.Event{}, err
	}
	return s.ingestor.Submit(ctx, model.Event{
		EventID: eventID,
		Kind:    model.KindBoost,
		ItemA:   itemID,
		RaterID: raterID,
	})
}

// NextPair selects the most informative comparison to show next.
// Eligibility lives with the caller: a non-empty pool restricts the
// draw to those items, an empty pool means every tracked item.
func (s *Service) NextPair(ctx context.Context, eligible []string) (selection.Pair, error) {
	if err := s.ready(); err != nil {
		return selection.Pair{}, err
	}
	metrics.RecordSelectionRequest("pair")

	pool, err := s.candidatePool(ctx, eligible)
	if err != nil {
		return selection.Pair{}, err
	}

	pair, err := s.selector.SelectPair(pool)
	if err != nil {
		metrics.RecordSelectionStarved()
		return selection.Pair{}, err
	}
	if pair.Repeated {
		metrics.RecordSelectionRepeat()
	}
	return pair, nil
}

// NextSingle selects the item whose next raw signal is worth the most.
func (s *Service) NextSingle(ctx context.Context, eligible []string) (selection.Single, error) {
	if err := s.ready(); err != nil {
		return selection.Single{}, err
	}
	metrics.RecordSelectionRequest("single")

	pool, err := s.candidatePool(ctx, eligible)
	if err != nil {
		return selection.Single{}, err
	}

	single, err := s.selector.SelectSingle(pool)
	if err != nil {
		metrics.RecordSelectionStarved()
		return selection.Single{}, err
	}
	return single, nil
}

// Score returns an item's published projection with its observation
// counts. Returns repository.ErrNotScored before the first publish and
// repository.ErrNotFound for unknown items.
func (s *Service) Score(ctx context.Context, itemID string) (ScoreView, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return ScoreView{}, err
	}
	published, err := s.store.GetPublished(ctx, itemID)
	if err != nil {
		return ScoreView{}, err
	}
	return ScoreView{
		Published:   published,
		Comparisons: item.Comparisons,
		Signals:     item.SignalCount,
		Boosts:      item.Boosts,
	}, nil
}

// Recompute marks one item, or every item when itemID is empty, for an
// urgent recompute.
func (s *Service) Recompute(ctx context.Context, itemID string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	if itemID != "" {
		if _, err := s.store.GetItem(ctx, itemID); err != nil {
			return 0, err
		}
		if err := s.store.MarkDirty(ctx, itemID, model.MaxPriority); err != nil {
			return 0, err
		}
		return 1, nil
	}

	items, err := s.store.ListItems(ctx)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if err := s.store.MarkDirty(ctx, item.ID, model.MaxPriority); err != nil {
			return 0, fmt.Errorf("mark dirty %s: %w", item.ID, err)
		}
	}
	return len(items), nil
}

// SetExcluded adds or removes an item from the selection exclusion set.
// Excluded items keep their scores but never appear in selections.
func (s *Service) SetExcluded(ctx context.Context, itemID string, excluded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if excluded {
		s.excluded[itemID] = struct{}{}
	} else {
		delete(s.excluded, itemID)
	}
	s.log.Info(ctx, "exclusion updated",
		logger.String("item_id", itemID),
		logger.Any("excluded", excluded))
}

// Excluded reports whether an item is currently excluded from selection.
func (s *Service) Excluded(itemID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.excluded[itemID]
	return ok
}

// GetStats returns a snapshot of the engine state.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	backlog, err := s.store.DirtyBacklog(ctx)
	if err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	excluded := len(s.excluded)
	s.mu.RUnlock()

	return Stats{
		Items:        s.store.ItemCount(ctx),
		Raters:       s.store.RaterCount(ctx),
		DirtyBacklog: backlog,
		Excluded:     excluded,
	}, nil
}

// candidatePool resolves the eligible ids against tracked state and
// drops anything in the exclusion set. Items the engine has never seen
// enter as fresh candidates so a handed-in pool is honored as given.
func (s *Service) candidatePool(ctx context.Context, eligible []string) ([]selection.Candidate, error) {
	var items []model.Item
	if len(eligible) == 0 {
		all, err := s.store.ListItems(ctx)
		if err != nil {
			return nil, fmt.Errorf("list items: %w", err)
		}
		items = all
	} else {
		known, err := s.store.GetItems(ctx, eligible)
		if err != nil {
			return nil, fmt.Errorf("get items: %w", err)
		}
		seen := make(map[string]struct{}, len(known))
		for _, item := range known {
			seen[item.ID] = struct{}{}
		}
		items = known
		for _, id := range eligible {
			if _, ok := seen[id]; !ok {
				items = append(items, model.NewItem(id))
			}
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pool := make([]selection.Candidate, 0, len(items))
	for _, item := range items {
		if _, skip := s.excluded[item.ID]; skip {
			continue
		}
		pool = append(pool, selection.Candidate{
			ID:          item.ID,
			Mean:        item.Mean,
			Comparisons: item.Comparisons,
		})
	}
	return pool, nil
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return ErrNotStarted
	}
	return nil
}
