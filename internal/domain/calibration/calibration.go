// Package calibration maintains per-rater scoring statistics.
//
// Each rater's raw slider values are tracked with a single-pass Welford
// update. Normalization converts a raw value into the rater's own
// z-space and maps it onto 0-100, so a harsh rater's 6 and a generous
// rater's 9 can land on the same calibrated value. A reliability
// multiplier tracks how well a rater's history agrees with consensus.
package calibration

import (
	"math"
)

// Default calibration constants.
const (
	defaultMinStd           = 5.0
	defaultZClamp           = 2.5
	defaultLearningRate     = 0.10
	defaultReliabilityFloor = 0.5
	defaultReliabilityCap   = 1.5
	defaultAgreementBand    = 15.0
	calibratedMax           = 100.0
)

// Stats is a rater's running raw-value statistics.
type Stats struct {
	Count int
	Mean  float64
	M2    float64
}

// Observe folds one raw value into the stats (Welford single pass).
func (s Stats) Observe(raw float64) Stats {
	s.Count++
	delta := raw - s.Mean
	s.Mean += delta / float64(s.Count)
	s.M2 += delta * (raw - s.Mean)
	return s
}

// Variance returns the sample variance (n-1 denominator).
func (s Stats) Variance() float64 {
	if s.Count < 2 {
		return 0
	}
	return s.M2 / float64(s.Count-1)
}

// Option applies a configuration option to the Calibrator.
type Option func(*Calibrator)

// WithMinStd sets the floor applied to the standard deviation when normalizing.
func WithMinStd(minStd float64) Option {
	return func(c *Calibrator) {
		if minStd > 0 {
			c.minStd = minStd
		}
	}
}

// WithZClamp sets the symmetric z-score clamp bound.
func WithZClamp(z float64) Option {
	return func(c *Calibrator) {
		if z > 0 {
			c.zClamp = z
		}
	}
}

// WithReliabilityBounds sets the floor and cap of the reliability multiplier.
func WithReliabilityBounds(floor, cap float64) Option {
	return func(c *Calibrator) {
		if floor > 0 && cap > floor {
			c.reliabilityFloor = floor
			c.reliabilityCap = cap
		}
	}
}

// WithLearningRate sets the reliability nudge step.
func WithLearningRate(rate float64) Option {
	return func(c *Calibrator) {
		if rate > 0 && rate < 1 {
			c.learningRate = rate
		}
	}
}

// Calibrator normalizes raw values against rater statistics. Safe for
// concurrent use; it holds only immutable configuration.
type Calibrator struct {
	minStd           float64
	zClamp           float64
	learningRate     float64
	reliabilityFloor float64
	reliabilityCap   float64
	agreementBand    float64
}

// NewCalibrator creates a calibrator with configuration options.
func NewCalibrator(opts ...Option) *Calibrator {
	c := &Calibrator{
		minStd:           defaultMinStd,
		zClamp:           defaultZClamp,
		learningRate:     defaultLearningRate,
		reliabilityFloor: defaultReliabilityFloor,
		reliabilityCap:   defaultReliabilityCap,
		agreementBand:    defaultAgreementBand,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ReliabilityBounds returns the configured floor and cap.
func (c *Calibrator) ReliabilityBounds() (floor, cap float64) {
	return c.reliabilityFloor, c.reliabilityCap
}

// Normalize maps a raw value into [0, 100] via the rater's z-score.
// The z-score is clamped to bound outlier influence; the variance is
// floored so early raters with near-zero spread cannot blow up the
// division. Deterministic for fixed stats.
func (c *Calibrator) Normalize(raw float64, stats Stats) float64 {
	std := math.Sqrt(stats.Variance())
	if std < c.minStd {
		std = c.minStd
	}

	z := (raw - stats.Mean) / std
	if z > c.zClamp {
		z = c.zClamp
	} else if z < -c.zClamp {
		z = -c.zClamp
	}

	// Affine map [-zClamp, +zClamp] -> [0, 100].
	return (z + c.zClamp) / (2 * c.zClamp) * calibratedMax
}

// AlignReliability nudges a rater's reliability toward or away from 1.0
// depending on whether their historical calibrated average for an item
// agrees with the item's consensus score. The multiplier stays inside
// the configured bounds, so a contrarian rater is discounted but never
// silenced.
func (c *Calibrator) AlignReliability(reliability, raterAvg, consensus float64) float64 {
	aligned := math.Abs(raterAvg-consensus) <= c.agreementBand

	if aligned {
		reliability += c.learningRate * (c.reliabilityCap - reliability) * 0.5
	} else {
		reliability -= c.learningRate * (reliability - c.reliabilityFloor) * 0.5
	}

	if reliability < c.reliabilityFloor {
		reliability = c.reliabilityFloor
	}
	if reliability > c.reliabilityCap {
		reliability = c.reliabilityCap
	}
	return reliability
}
