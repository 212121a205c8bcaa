package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/muselab/aura/internal/domain/model"
)

// dirtyRow is the in-memory dirty entry with its claim state.
type dirtyRow struct {
	entry   model.DirtyEntry
	token   string
	redirty bool // new events arrived while claimed
}

// MemStore implements Store with plain maps under one mutex. It backs
// tests and ephemeral deployments; durability comes from SQLStore.
type MemStore struct {
	mu sync.RWMutex

	events      []model.Event
	eventIndex  map[string]int // event id -> index in events
	itemEvents  map[string][]int
	items       map[string]model.Item
	raters      map[string]model.Rater
	published   map[string]model.PublishedScore
	dirty       map[string]*dirtyRow
	itemRaterID map[string]map[string]struct{} // item -> rater ids with rating events
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		eventIndex:  make(map[string]int),
		itemEvents:  make(map[string][]int),
		items:       make(map[string]model.Item),
		raters:      make(map[string]model.Rater),
		published:   make(map[string]model.PublishedScore),
		dirty:       make(map[string]*dirtyRow),
		itemRaterID: make(map[string]map[string]struct{}),
	}
}

// AppendEvent adds one immutable event to the log.
func (s *MemStore) AppendEvent(ctx context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.eventIndex[e.EventID]; exists {
		return ErrDuplicateEvent
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	idx := len(s.events)
	s.events = append(s.events, e)
	s.eventIndex[e.EventID] = idx
	for _, id := range e.Items() {
		s.itemEvents[id] = append(s.itemEvents[id], idx)
	}
	if e.Kind == model.KindRating {
		if s.itemRaterID[e.ItemA] == nil {
			s.itemRaterID[e.ItemA] = make(map[string]struct{})
		}
		s.itemRaterID[e.ItemA][e.RaterID] = struct{}{}
	}
	return nil
}

// UnappliedEvents returns an item's pending events in creation order.
func (s *MemStore) UnappliedEvents(ctx context.Context, itemID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, idx := range s.itemEvents[itemID] {
		if !s.events[idx].Applied {
			out = append(out, s.events[idx])
		}
	}
	return out, nil
}

// RatingEventsForItem returns every rating event for an item in creation order.
func (s *MemStore) RatingEventsForItem(ctx context.Context, itemID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Event
	for _, idx := range s.itemEvents[itemID] {
		if s.events[idx].Kind == model.KindRating {
			out = append(out, s.events[idx])
		}
	}
	return out, nil
}

// ApplyEvent persists item and rater states and marks the event applied.
func (s *MemStore) ApplyEvent(ctx context.Context, eventID string, items []model.Item, raters []model.Rater) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.eventIndex[eventID]
	if !ok {
		return ErrNotFound
	}
	for _, item := range items {
		s.items[item.ID] = item
	}
	for _, r := range raters {
		s.raters[r.ID] = r
	}
	s.events[idx].Applied = true
	return nil
}

// MarkDirty upserts a dirty entry with max-priority semantics.
func (s *MemStore) MarkDirty(ctx context.Context, itemID string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.dirty[itemID]
	if !exists {
		s.dirty[itemID] = &dirtyRow{entry: model.DirtyEntry{
			ItemID:     itemID,
			Priority:   priority,
			EnqueuedAt: time.Now(),
		}}
		return nil
	}
	if priority > row.entry.Priority {
		row.entry.Priority = priority
	}
	if row.token != "" {
		row.redirty = true
	}
	return nil
}

// ClaimDirty atomically claims up to limit unclaimed entries for token.
func (s *MemStore) ClaimDirty(ctx context.Context, token string, limit int) ([]model.DirtyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var free []*dirtyRow
	for _, row := range s.dirty {
		if row.token == "" {
			free = append(free, row)
		}
	}
	sort.Slice(free, func(i, j int) bool {
		if free[i].entry.Priority != free[j].entry.Priority {
			return free[i].entry.Priority > free[j].entry.Priority
		}
		return free[i].entry.EnqueuedAt.Before(free[j].entry.EnqueuedAt)
	})
	if len(free) > limit {
		free = free[:limit]
	}

	claimed := make([]model.DirtyEntry, len(free))
	for i, row := range free {
		row.token = token
		row.redirty = false
		claimed[i] = row.entry
	}
	return claimed, nil
}

// CompleteDirty finishes a claimed entry.
func (s *MemStore) CompleteDirty(ctx context.Context, token, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.dirty[itemID]
	if !exists || row.token != token {
		return ErrNotClaimed
	}
	if row.redirty {
		// New events arrived during processing; keep the entry queued.
		row.token = ""
		row.redirty = false
		row.entry.EnqueuedAt = time.Now()
		return nil
	}
	delete(s.dirty, itemID)
	return nil
}

// RequeueDirty releases a claimed entry back to the queue.
func (s *MemStore) RequeueDirty(ctx context.Context, token, itemID string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.dirty[itemID]
	if !exists || row.token != token {
		return ErrNotClaimed
	}
	row.token = ""
	row.redirty = false
	row.entry.Priority = priority
	row.entry.Attempts++
	row.entry.EnqueuedAt = time.Now()
	return nil
}

// ReleaseClaims unclaims every entry still held by token.
func (s *MemStore) ReleaseClaims(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.dirty {
		if row.token == token {
			row.token = ""
			row.redirty = false
		}
	}
	return nil
}

// DirtyBacklog returns the number of unclaimed dirty entries.
func (s *MemStore) DirtyBacklog(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, row := range s.dirty {
		if row.token == "" {
			n++
		}
	}
	return n, nil
}

// GetItem returns an item's rating state.
func (s *MemStore) GetItem(ctx context.Context, id string) (model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return model.Item{}, ErrNotFound
	}
	return item, nil
}

// GetItems returns the known items among ids.
func (s *MemStore) GetItems(ctx context.Context, ids []string) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Item, 0, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out = append(out, item)
		}
	}
	return out, nil
}

// ListItems returns every tracked item in unspecified order.
func (s *MemStore) ListItems(ctx context.Context) ([]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	return out, nil
}

// HasItem reports whether an item has rating state.
func (s *MemStore) HasItem(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.items[id]
	return ok, nil
}

// PutItem writes an item's rating state.
func (s *MemStore) PutItem(ctx context.Context, item model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[item.ID] = item
	return nil
}

// GetRater returns a rater's calibration state.
func (s *MemStore) GetRater(ctx context.Context, id string) (model.Rater, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.raters[id]
	if !ok {
		return model.Rater{}, ErrNotFound
	}
	return r, nil
}

// PutRater writes a rater's calibration state.
func (s *MemStore) PutRater(ctx context.Context, r model.Rater) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.raters[r.ID] = r
	return nil
}

// RatersForItem returns the raters with rating events for an item.
func (s *MemStore) RatersForItem(ctx context.Context, itemID string) ([]model.Rater, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.itemRaterID[itemID]))
	for id := range s.itemRaterID[itemID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.Rater, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.raters[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetPublished returns the published projection for an item.
func (s *MemStore) GetPublished(ctx context.Context, itemID string) (model.PublishedScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.published[itemID]
	if !ok {
		return model.PublishedScore{}, ErrNotScored
	}
	return p, nil
}

// PublishScore writes the published projection for an item.
func (s *MemStore) PublishScore(ctx context.Context, p model.PublishedScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.PublishedAt.IsZero() {
		p.PublishedAt = time.Now()
	}
	s.published[p.ItemID] = p
	return nil
}

// GrowIdleSigma raises sigma for items idle since cutoff.
func (s *MemStore) GrowIdleSigma(ctx context.Context, cutoff time.Time, growth, cap float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	moved := 0
	for id, item := range s.items {
		if item.LastMatchAt.After(cutoff) || item.Sigma >= cap {
			continue
		}
		item.Sigma += growth
		if item.Sigma > cap {
			item.Sigma = cap
		}
		s.items[id] = item
		moved++
	}
	return moved, nil
}

// ItemCount returns the number of items tracked.
func (s *MemStore) ItemCount(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// RaterCount returns the number of raters tracked.
func (s *MemStore) RaterCount(ctx context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.raters)
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error { return nil }
