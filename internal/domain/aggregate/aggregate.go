// Package aggregate combines rating, calibrated-signal and boost
// components into one bounded quality score with a confidence value.
package aggregate

import (
	"math"
)

// Default aggregation constants.
const (
	defaultRatingWeight = 0.40
	defaultSignalWeight = 0.30
	defaultBoostWeight  = 0.30
	defaultRatingLow    = 800.0
	defaultRatingHigh   = 2000.0
	defaultBoostScale   = 8.0
	defaultSigmaCap     = 350.0
	defaultVoteHalfSat  = 12.0
	sigmaConfWeight     = 0.6
	voteConfWeight      = 0.4
	signalMidpoint      = 50.0
	maxScore            = 100.0
)

// Tier names for publish debouncing and read APIs.
const (
	TierEmerging = "emerging"
	TierSolid    = "solid"
	TierNotable  = "notable"
	TierCanon    = "canon"
)

// Inputs carries everything the aggregator reads for one item.
type Inputs struct {
	RatingMean     float64
	RatingSigma    float64
	Comparisons    int
	SignalAvg      float64 // calibrated 0-100
	SignalCount    int
	BoostCount     int
	AvgReliability float64 // bounded multiplier, 1.0 when unknown
}

// Breakdown exposes the per-component values for observability.
type Breakdown struct {
	Rating float64
	Signal float64
	Boost  float64
}

// Result is the aggregated projection for one item.
type Result struct {
	Score      float64 // bounded 0-100
	Confidence float64 // bounded 0-100
	Tier       string
	Components Breakdown
}

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithWeights sets the three component weights; they must sum to 1.
// Invalid weights are ignored and the defaults kept.
func WithWeights(ratingW, signalW, boostW float64) Option {
	return func(a *Aggregator) {
		const tolerance = 1e-9
		sum := ratingW + signalW + boostW
		if ratingW >= 0 && signalW >= 0 && boostW >= 0 && math.Abs(sum-1) <= tolerance {
			a.ratingWeight = ratingW
			a.signalWeight = signalW
			a.boostWeight = boostW
		}
	}
}

// WithRatingRange sets the linear mean-to-score mapping range.
func WithRatingRange(low, high float64) Option {
	return func(a *Aggregator) {
		if high > low {
			a.ratingLow = low
			a.ratingHigh = high
		}
	}
}

// WithSigmaCap sets the sigma value treated as zero confidence.
func WithSigmaCap(cap float64) Option {
	return func(a *Aggregator) {
		if cap > 0 {
			a.sigmaCap = cap
		}
	}
}

// WithBoostScale sets the diminishing-returns scale of the boost curve.
func WithBoostScale(scale float64) Option {
	return func(a *Aggregator) {
		if scale > 0 {
			a.boostScale = scale
		}
	}
}

// Aggregator computes the published projection. Safe for concurrent
// use; it holds only immutable configuration.
type Aggregator struct {
	ratingWeight float64
	signalWeight float64
	boostWeight  float64
	ratingLow    float64
	ratingHigh   float64
	boostScale   float64
	sigmaCap     float64
	voteHalfSat  float64
}

// NewAggregator creates an aggregator with configuration options.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		ratingWeight: defaultRatingWeight,
		signalWeight: defaultSignalWeight,
		boostWeight:  defaultBoostWeight,
		ratingLow:    defaultRatingLow,
		ratingHigh:   defaultRatingHigh,
		boostScale:   defaultBoostScale,
		sigmaCap:     defaultSigmaCap,
		voteHalfSat:  defaultVoteHalfSat,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Compute aggregates the weighted components into a bounded score.
func (a *Aggregator) Compute(in Inputs) Result {
	ratingComp := clamp((in.RatingMean-a.ratingLow)/(a.ratingHigh-a.ratingLow)*maxScore, 0, maxScore)

	signalComp := signalMidpoint
	if in.SignalCount > 0 {
		signalComp = clamp(in.SignalAvg, 0, maxScore)
	}

	boostComp := maxScore * (1 - math.Exp(-float64(in.BoostCount)/a.boostScale))

	reliability := in.AvgReliability
	if reliability <= 0 {
		reliability = 1.0
	}

	score := a.ratingWeight*ratingComp + a.signalWeight*signalComp + a.boostWeight*boostComp
	score = clamp(score*reliability, 0, maxScore)

	confidence := a.confidence(in.RatingSigma, in.Comparisons+in.SignalCount)

	return Result{
		Score:      score,
		Confidence: confidence,
		Tier:       Tier(score),
		Components: Breakdown{
			Rating: ratingComp,
			Signal: signalComp,
			Boost:  boostComp,
		},
	}
}

// confidence blends shrinking sigma with a vote-count saturation curve.
// Both more observations and lower uncertainty raise it monotonically.
func (a *Aggregator) confidence(sigma float64, votes int) float64 {
	sigmaPart := 1 - clamp(sigma, 0, a.sigmaCap)/a.sigmaCap
	votePart := float64(votes) / (float64(votes) + a.voteHalfSat)
	return clamp((sigmaConfWeight*sigmaPart+voteConfWeight*votePart)*maxScore, 0, maxScore)
}

// Tier maps a bounded score onto its quality tier.
func Tier(score float64) string {
	switch {
	case score >= 80:
		return TierCanon
	case score >= 60:
		return TierNotable
	case score >= 40:
		return TierSolid
	default:
		return TierEmerging
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
