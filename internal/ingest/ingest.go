// Package ingest validates incoming events and feeds the recompute queue.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	repository "github.com/muselab/aura/internal/adapters/repository"
	"github.com/muselab/aura/internal/domain/dedupe"
	"github.com/muselab/aura/internal/domain/model"
	"github.com/muselab/aura/pkg/logger"
	"github.com/muselab/aura/pkg/metrics"
)

const (
	ratingPriority     = 20
	comparisonPriority = 10
	maxRawValue        = 10.0
)

// comparison counts at which the next recompute gets bumped ahead of
// the routine backlog.
var milestonePriority = map[int]int{
	5:   20,
	10:  25,
	25:  30,
	50:  40,
	100: 50,
}

// Ingestor accepts observation events, persists them to the append-only
// log and marks the touched items dirty. Accepted events are not applied
// here: the batch worker replays the log asynchronously.
type Ingestor struct {
	store      repository.Store
	deduper    dedupe.Deduper
	wake       chan struct{}
	autoCreate bool
	log        logger.Logger
}

// Option applies a configuration option to the Ingestor.
type Option func(*Ingestor)

// WithAutoCreate controls whether an event for an unknown item creates
// the item with default state. Enabled by default.
func WithAutoCreate(enabled bool) Option {
	return func(i *Ingestor) {
		i.autoCreate = enabled
	}
}

// WithLogger sets a custom logger for the ingestor.
func WithLogger(log logger.Logger) Option {
	return func(i *Ingestor) {
		if log != nil {
			i.log = log
		}
	}
}

// New creates an Ingestor on top of a store and a duplicate tracker.
func New(store repository.Store, deduper dedupe.Deduper, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:      store,
		deduper:    deduper,
		wake:       make(chan struct{}, 1),
		autoCreate: true,
		log:        logger.Get().Named("ingest"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Wake reports urgent arrivals. The batch worker selects on it to cut
// the debounce short when a max-priority event lands.
func (i *Ingestor) Wake() <-chan struct{} {
	return i.wake
}

// Submit validates and persists a single event, then marks each touched
// item dirty. The returned event carries the assigned id and timestamp.
func (i *Ingestor) Submit(ctx context.Context, e model.Event) (model.Event, error) {
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	if err := i.validate(e); err != nil {
		metrics.RecordEventRejected(string(e.Kind))
		return model.Event{}, err
	}

	if i.deduper.SeenAndRecord(ctx, e.EventID) {
		return model.Event{}, i.duplicate(ctx, e)
	}

	if err := i.ensureItems(ctx, e); err != nil {
		i.deduper.Unrecord(ctx, e.EventID)
		metrics.RecordEventRejected(string(e.Kind))
		return model.Event{}, err
	}

	if err := i.store.AppendEvent(ctx, e); err != nil {
		if errors.Is(err, repository.ErrDuplicateEvent) {
			return model.Event{}, i.duplicate(ctx, e)
		}
		i.deduper.Unrecord(ctx, e.EventID)
		return model.Event{}, fmt.Errorf("append event: %w", err)
	}

	if err := i.markDirty(ctx, e); err != nil {
		return model.Event{}, err
	}

	metrics.RecordEventIngested(string(e.Kind))
	i.log.Debug(ctx, "event accepted",
		logger.String("event_id", e.EventID),
		logger.String("kind", string(e.Kind)))
	return e, nil
}

// markDirty upserts a dirty entry for each item the event touches and
// signals the worker when any entry is urgent.
func (i *Ingestor) markDirty(ctx context.Context, e model.Event) error {
	urgent := false
	for _, id := range e.Items() {
		priority, err := i.priority(ctx, e, id)
		if err != nil {
			return err
		}
		if err := i.store.MarkDirty(ctx, id, priority); err != nil {
			return fmt.Errorf("mark dirty %s: %w", id, err)
		}
		if priority >= model.MaxPriority {
			urgent = true
		}
	}
	if urgent {
		select {
		case i.wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// duplicate acknowledges a resubmitted event. The dirty upserts are
// re-issued so a retry repairs a submit that appended the event but
// failed before marking its items, instead of stranding it unapplied.
func (i *Ingestor) duplicate(ctx context.Context, e model.Event) error {
	metrics.RecordEventDuplicate()
	if err := i.markDirty(ctx, e); err != nil {
		return err
	}
	return fmt.Errorf("event %s: %w", e.EventID, ErrDuplicate)
}

func (i *Ingestor) validate(e model.Event) error {
	if e.RaterID == "" {
		return fmt.Errorf("%w: rater id is required", ErrValidation)
	}
	switch e.Kind {
	case model.KindComparison:
		if e.ItemA == "" || e.ItemB == "" {
			return fmt.Errorf("%w: comparison needs two items", ErrValidation)
		}
		if e.ItemA == e.ItemB {
			return fmt.Errorf("%w: comparison items must differ", ErrValidation)
		}
		if e.WinnerID != e.ItemA && e.WinnerID != e.ItemB {
			return fmt.Errorf("%w: winner %q is not part of the pair", ErrValidation, e.WinnerID)
		}
	case model.KindRating:
		if e.ItemA == "" {
			return fmt.Errorf("%w: rating needs an item", ErrValidation)
		}
		if e.RawValue < 0 || e.RawValue > maxRawValue {
			return fmt.Errorf("%w: raw value %.2f outside [0, %.0f]", ErrValidation, e.RawValue, maxRawValue)
		}
	case model.KindBoost:
		if e.ItemA == "" {
			return fmt.Errorf("%w: boost needs an item", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrValidation, e.Kind)
	}
	return nil
}

// ensureItems creates missing items and the rater when auto-creation is
// enabled, and rejects the event otherwise.
func (i *Ingestor) ensureItems(ctx context.Context, e model.Event) error {
	for _, id := range e.Items() {
		ok, err := i.store.HasItem(ctx, id)
		if err != nil {
			return fmt.Errorf("check item %s: %w", id, err)
		}
		if ok {
			continue
		}
		if !i.autoCreate {
			return fmt.Errorf("item %s: %w", id, ErrUnknownItem)
		}
		if err := i.store.PutItem(ctx, model.NewItem(id)); err != nil {
			return fmt.Errorf("create item %s: %w", id, err)
		}
	}

	if _, err := i.store.GetRater(ctx, e.RaterID); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("check rater %s: %w", e.RaterID, err)
		}
		if err := i.store.PutRater(ctx, model.NewRater(e.RaterID)); err != nil {
			return fmt.Errorf("create rater %s: %w", e.RaterID, err)
		}
	}
	return nil
}

// priority decides how urgently an item needs recomputation. Boosts and
// high-weight comparisons jump the queue, milestone comparison counts
// get a moderate bump, everything else waits for the next tick.
func (i *Ingestor) priority(ctx context.Context, e model.Event, itemID string) (int, error) {
	switch e.Kind {
	case model.KindBoost:
		return model.MaxPriority, nil
	case model.KindRating:
		return ratingPriority, nil
	}

	if e.HighWeight {
		return model.MaxPriority, nil
	}
	item, err := i.store.GetItem(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("get item %s: %w", itemID, err)
	}
	if p, ok := milestonePriority[item.Comparisons+1]; ok {
		return p, nil
	}
	return comparisonPriority, nil
}
