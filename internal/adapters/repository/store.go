// Package repository defines the engine's durable state store and errors.
//
// Five logical relations back the engine: the append-only event log,
// the dirty work set, item ratings, rater calibration, and published
// scores. Two implementations exist: a sqlite-backed store for durable
// deployments and an in-memory store for tests and ephemeral runs.
package repository

import (
	"context"
	"time"

	"github.com/muselab/aura/internal/domain/model"
)

// Store provides read/write access to the engine state.
//
// Correctness under concurrent batch workers rests entirely on
// ClaimDirty being atomic: two workers must never hold a claim on the
// same item at the same time.
type Store interface {
	// AppendEvent adds one immutable event to the log.
	// Returns ErrDuplicateEvent when the event id already exists.
	AppendEvent(ctx context.Context, e model.Event) error

	// UnappliedEvents returns an item's pending events in creation order.
	UnappliedEvents(ctx context.Context, itemID string) ([]model.Event, error)

	// RatingEventsForItem returns every rating event for an item,
	// applied or not, in creation order. Used for consensus alignment.
	RatingEventsForItem(ctx context.Context, itemID string) ([]model.Event, error)

	// ApplyEvent atomically persists the given item and rater states
	// and marks the event applied. A comparison event updates both
	// sides in the same transaction.
	ApplyEvent(ctx context.Context, eventID string, items []model.Item, raters []model.Rater) error

	// MarkDirty upserts a dirty entry, never lowering an existing
	// priority. Marking an item that is currently claimed flags it for
	// another cycle instead of racing the claim holder.
	MarkDirty(ctx context.Context, itemID string, priority int) error

	// ClaimDirty atomically claims up to limit unclaimed entries for
	// token, ordered by priority desc then enqueue time asc.
	ClaimDirty(ctx context.Context, token string, limit int) ([]model.DirtyEntry, error)

	// CompleteDirty finishes a claimed entry: the entry is deleted, or
	// kept unclaimed when new events arrived during processing.
	CompleteDirty(ctx context.Context, token, itemID string) error

	// RequeueDirty releases a claimed entry back to the queue with the
	// given priority and an incremented attempt count.
	RequeueDirty(ctx context.Context, token, itemID string, priority int) error

	// ReleaseClaims unclaims every entry still held by token.
	ReleaseClaims(ctx context.Context, token string) error

	// DirtyBacklog returns the number of unclaimed dirty entries.
	DirtyBacklog(ctx context.Context) (int, error)

	// GetItem returns an item's rating state.
	// Returns ErrNotFound for unknown items.
	GetItem(ctx context.Context, id string) (model.Item, error)

	// GetItems returns the known items among ids, skipping unknown ones.
	GetItems(ctx context.Context, ids []string) ([]model.Item, error)

	// ListItems returns every tracked item. The selection engine scores
	// the full pool, so this is the candidate source.
	ListItems(ctx context.Context) ([]model.Item, error)

	// HasItem reports whether an item has any rating state.
	HasItem(ctx context.Context, id string) (bool, error)

	// PutItem writes an item's rating state.
	PutItem(ctx context.Context, item model.Item) error

	// GetRater returns a rater's calibration state.
	// Returns ErrNotFound for unknown raters.
	GetRater(ctx context.Context, id string) (model.Rater, error)

	// PutRater writes a rater's calibration state.
	PutRater(ctx context.Context, r model.Rater) error

	// RatersForItem returns the raters that submitted rating events for
	// an item.
	RatersForItem(ctx context.Context, itemID string) ([]model.Rater, error)

	// GetPublished returns the published projection for an item.
	// Returns ErrNotScored until the first publish.
	GetPublished(ctx context.Context, itemID string) (model.PublishedScore, error)

	// PublishScore writes the published projection for an item.
	PublishScore(ctx context.Context, p model.PublishedScore) error

	// GrowIdleSigma raises sigma by growth (capped) for every item with
	// no comparison since cutoff, and returns how many items moved.
	GrowIdleSigma(ctx context.Context, cutoff time.Time, growth, cap float64) (int, error)

	// ItemCount returns the number of items tracked.
	ItemCount(ctx context.Context) int

	// RaterCount returns the number of raters tracked.
	RaterCount(ctx context.Context) int

	// Close releases any underlying resources.
	Close() error
}
