// Package selection picks the next comparison pair or rating target
// that maximizes the expected information from one more observation.
package selection

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Default selection configuration constants.
const (
	defaultTopK             = 5
	defaultRecentPairCap    = 50
	defaultUncertaintyFloor = 5.0
	defaultDecayFactor      = 0.9
	defaultProximitySpread  = 400.0
	defaultDeficitHalfSat   = 10.0
	candidateDecay          = 0.5 // weighted-random decay across the top-K

	uncertaintyWeight = 0.4
	proximityWeight   = 0.3
	deficitWeight     = 0.2
	externalWeight    = 0.1
)

// Candidate is one eligible item handed in by the caller. Eligibility
// itself is decided outside this engine.
type Candidate struct {
	ID          string
	Mean        float64
	Comparisons int
	Weight      float64 // optional external priority in [0, 1]
}

// Pair is a pair selection with its human-readable rationale.
type Pair struct {
	A         string
	B         string
	Rationale string
	Repeated  bool // true when the anti-repeat fallback allowed a recent pair
}

// Single is a single-item selection with its rationale.
type Single struct {
	ID        string
	Rationale string
}

// Option applies a configuration option to the Selector.
type Option func(*Selector)

// WithTopK sets how many leading candidates enter the weighted-random draw.
func WithTopK(k int) Option {
	return func(s *Selector) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithRecentPairCap bounds the anti-repeat set.
func WithRecentPairCap(cap int) Option {
	return func(s *Selector) {
		if cap > 0 {
			s.recentCap = cap
		}
	}
}

// WithSeed makes the weighted-random draw deterministic, for tests.
func WithSeed(seed int64) Option {
	return func(s *Selector) {
		s.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic seed for reproducible selection
	}
}

// WithProximitySpread sets the mean gap at which proximity reaches zero.
func WithProximitySpread(spread float64) Option {
	return func(s *Selector) {
		if spread > 0 {
			s.proximitySpread = spread
		}
	}
}

// Selector holds the anti-repeat memory and draw configuration.
// Safe for concurrent use.
type Selector struct {
	mu sync.Mutex

	topK             int
	recentCap        int
	uncertaintyFloor float64
	decayFactor      float64
	proximitySpread  float64
	deficitHalfSat   float64
	rng              *rand.Rand

	recentKeys []string
	recentSeen map[string]struct{}
}

// NewSelector creates a selector with configuration options.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{
		topK:             defaultTopK,
		recentCap:        defaultRecentPairCap,
		uncertaintyFloor: defaultUncertaintyFloor,
		decayFactor:      defaultDecayFactor,
		proximitySpread:  defaultProximitySpread,
		deficitHalfSat:   defaultDeficitHalfSat,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // selection bias, not crypto
		recentSeen:       make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Uncertainty is a smooth, bounded proxy for how much one more
// observation would teach us about an item. It decays geometrically
// with the comparison count and is independent of the Bayesian sigma.
func (s *Selector) Uncertainty(comparisons int) float64 {
	u := 100 * math.Pow(s.decayFactor, float64(comparisons))
	if u < s.uncertaintyFloor {
		return s.uncertaintyFloor
	}
	return u
}

type scoredPair struct {
	a, b  Candidate
	score float64
}

// SelectPair picks the most informative pair from the pool.
// Pairs in the recent-pairs set are skipped; when the anti-repeat
// filter exhausts every candidate the best recent pair is allowed
// rather than stalling the caller.
func (s *Selector) SelectPair(pool []Candidate) (Pair, error) {
	if len(pool) == 0 {
		return Pair{}, ErrEmptyPool
	}
	if len(pool) < 2 {
		return Pair{}, ErrPoolTooSmall
	}

	scored := make([]scoredPair, 0, len(pool)*(len(pool)-1)/2)
	for i := 0; i < len(pool); i++ {
		for j := i + 1; j < len(pool); j++ {
			scored = append(scored, scoredPair{
				a:     pool[i],
				b:     pool[j],
				score: s.pairScore(pool[i], pool[j]),
			})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make([]scoredPair, 0, len(scored))
	for _, sp := range scored {
		if _, seen := s.recentSeen[pairKey(sp.a.ID, sp.b.ID)]; !seen {
			fresh = append(fresh, sp)
		}
	}

	repeated := len(fresh) == 0
	top := fresh
	if repeated {
		// Anti-repeat exhausted the pool; fall back to recent pairs.
		top = scored
	}
	if len(top) > s.topK {
		top = top[:s.topK]
	}

	pick := top[s.drawIndex(len(top))]

	s.remember(pairKey(pick.a.ID, pick.b.ID))

	rationale := fmt.Sprintf(
		"pair score %.2f: uncertainty %.0f/%.0f, mean gap %.0f, %d/%d comparisons",
		pick.score,
		s.Uncertainty(pick.a.Comparisons), s.Uncertainty(pick.b.Comparisons),
		math.Abs(pick.a.Mean-pick.b.Mean),
		pick.a.Comparisons, pick.b.Comparisons,
	)
	if repeated {
		rationale += " (anti-repeat exhausted, allowing recent pair)"
	}

	return Pair{A: pick.a.ID, B: pick.b.ID, Rationale: rationale, Repeated: repeated}, nil
}

// SelectSingle picks the item whose next raw-signal observation is
// worth the most: fewest observations, highest uncertainty.
func (s *Selector) SelectSingle(pool []Candidate) (Single, error) {
	if len(pool) == 0 {
		return Single{}, ErrEmptyPool
	}

	scored := make([]scoredPair, len(pool))
	for i, c := range pool {
		scored[i] = scoredPair{a: c, score: s.singleScore(c)}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	top := scored
	if len(top) > s.topK {
		top = top[:s.topK]
	}

	s.mu.Lock()
	pick := top[s.drawIndex(len(top))]
	s.mu.Unlock()

	rationale := fmt.Sprintf(
		"single score %.2f: uncertainty %.0f, %d comparisons",
		pick.score, s.Uncertainty(pick.a.Comparisons), pick.a.Comparisons,
	)

	return Single{ID: pick.a.ID, Rationale: rationale}, nil
}

// pairScore is the weighted information estimate for showing a and b.
func (s *Selector) pairScore(a, b Candidate) float64 {
	uncertainty := (s.Uncertainty(a.Comparisons) + s.Uncertainty(b.Comparisons)) / 2 / 100

	proximity := math.Max(0, 1-math.Abs(a.Mean-b.Mean)/s.proximitySpread)

	deficit := (s.voteDeficit(a.Comparisons) + s.voteDeficit(b.Comparisons)) / 2

	external := clamp01((a.Weight + b.Weight) / 2)

	return uncertaintyWeight*uncertainty +
		proximityWeight*proximity +
		deficitWeight*deficit +
		externalWeight*external
}

func (s *Selector) singleScore(c Candidate) float64 {
	return uncertaintyWeight*s.Uncertainty(c.Comparisons)/100 +
		deficitWeight*s.voteDeficit(c.Comparisons) +
		externalWeight*clamp01(c.Weight)
}

// voteDeficit favors under-observed items, saturating as votes pile up.
func (s *Selector) voteDeficit(comparisons int) float64 {
	return 1 - float64(comparisons)/(float64(comparisons)+s.deficitHalfSat)
}

// drawIndex performs the weighted-random draw over the top-K with
// exponentially decaying weights; callers must hold s.mu.
func (s *Selector) drawIndex(n int) int {
	total := 0.0
	for i := 0; i < n; i++ {
		total += math.Pow(candidateDecay, float64(i))
	}
	r := s.rng.Float64() * total
	for i := 0; i < n; i++ {
		r -= math.Pow(candidateDecay, float64(i))
		if r <= 0 {
			return i
		}
	}
	return n - 1
}

// remember records an unordered pair key, evicting the oldest entry
// when the bounded set is full; callers must hold s.mu.
func (s *Selector) remember(key string) {
	if _, seen := s.recentSeen[key]; seen {
		return
	}
	if len(s.recentKeys) >= s.recentCap {
		oldest := s.recentKeys[0]
		s.recentKeys = s.recentKeys[1:]
		delete(s.recentSeen, oldest)
	}
	s.recentKeys = append(s.recentKeys, key)
	s.recentSeen[key] = struct{}{}
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
