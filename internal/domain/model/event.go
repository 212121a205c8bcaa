// Package model contains domain models passed between layers.
package model

import "time"

// EventKind discriminates the observation types in the append-only log.
type EventKind string

// Supported event kinds.
const (
	KindComparison EventKind = "comparison"
	KindRating     EventKind = "rating"
	KindBoost      EventKind = "boost"
)

// Event is one immutable observation. Exactly one kind is set; unused
// fields stay zero. Events are never updated after creation except for
// the Applied flag, which the batch worker flips once.
type Event struct {
	EventID    string    // unique id for idempotency
	Kind       EventKind // comparison, rating or boost
	ItemA      string    // subject item (comparison: side A)
	ItemB      string    // comparison only: side B
	WinnerID   string    // comparison only: must equal ItemA or ItemB
	RaterID    string    // entity that produced the observation
	RawValue   float64   // rating only: raw slider value in [0, 10]
	HighWeight bool      // comparison only: doubled K factor
	Applied    bool      // set once by the batch worker
	CreatedAt  time.Time
}

// Items returns the item ids this event touches.
func (e Event) Items() []string {
	if e.Kind == KindComparison {
		return []string{e.ItemA, e.ItemB}
	}
	return []string{e.ItemA}
}

// Rating defaults for fresh items and raters.
const (
	DefaultMean        = 1200.0
	DefaultSigma       = 350.0
	DefaultReliability = 1.0
)

// NewItem returns a fresh item with default rating state.
func NewItem(id string) Item {
	return Item{ID: id, Mean: DefaultMean, Sigma: DefaultSigma}
}

// NewRater returns a fresh rater with default calibration state.
func NewRater(id string) Rater {
	return Rater{ID: id, Reliability: DefaultReliability}
}

// Item holds the rating and signal state for one ranked item.
// Owned exclusively by the batch worker during processing.
type Item struct {
	ID          string
	Mean        float64 // rating mean, default 1200
	Sigma       float64 // rating uncertainty, default 350, floor 50
	Comparisons int     // pairwise matches applied
	SignalSum   float64 // sum of calibrated slider values
	SignalCount int     // number of slider values
	Boosts      int     // tertiary boost count
	LastMatchAt time.Time
}

// SignalAvg returns the calibrated slider average, or 0 with no samples.
func (i Item) SignalAvg() float64 {
	if i.SignalCount == 0 {
		return 0
	}
	return i.SignalSum / float64(i.SignalCount)
}

// Rater holds calibration state for one rater.
type Rater struct {
	ID                 string
	Count              int     // raw samples observed
	Mean               float64 // running mean of raw values
	M2                 float64 // Welford sum of squared deltas
	Reliability        float64 // consensus-alignment multiplier, default 1.0
	ReliabilitySamples int
}

// PublishedScore is the externally readable projection of an item.
type PublishedScore struct {
	ItemID      string
	Score       float64 // bounded 0-100
	Confidence  float64 // bounded 0-100
	Tier        string
	PublishedAt time.Time
}

// DirtyEntry is one pending recompute in the work queue.
type DirtyEntry struct {
	ItemID     string
	Priority   int // higher is more urgent; never lowered by ingestion
	EnqueuedAt time.Time
	Attempts   int
}

// MaxPriority marks events that must not wait for the next tick.
const MaxPriority = 100
