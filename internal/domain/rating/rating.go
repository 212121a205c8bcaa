// Package rating computes pairwise rating updates with uncertainty.
//
// The algorithm is classic Elo with a Glicko-flavored sigma: the win
// expectation is logistic in the mean difference, the applied delta is
// K*(actual-expected), and sigma shrinks multiplicatively on every
// match while growing slowly with idle time.
package rating

import (
	"math"
)

// Default rating configuration constants.
const (
	defaultK           = 32.0
	defaultHighWeightK = 64.0
	defaultSigmaShrink = 0.98
	defaultSigmaFloor  = 50.0
	defaultSigmaCap    = 350.0
	defaultIdleGrowth  = 2.0
	defaultMeanFloor   = 0.0
	defaultMeanCap     = 3000.0
	logisticScale      = 400.0
)

// Outcome identifies the winner of a pairwise comparison.
type Outcome int

// Supported outcomes.
const (
	AWins Outcome = iota
	BWins
)

// State is one item's rating pair.
type State struct {
	Mean  float64
	Sigma float64
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithK sets the base K factor.
func WithK(k float64) Option {
	return func(e *Engine) {
		if k > 0 {
			e.k = k
			e.highWeightK = k * 2
		}
	}
}

// WithSigmaBounds sets the sigma floor and cap.
func WithSigmaBounds(floor, cap float64) Option {
	return func(e *Engine) {
		if floor > 0 && cap > floor {
			e.sigmaFloor = floor
			e.sigmaCap = cap
		}
	}
}

// WithSigmaShrink sets the multiplicative shrink applied per match.
func WithSigmaShrink(shrink float64) Option {
	return func(e *Engine) {
		if shrink > 0 && shrink <= 1 {
			e.sigmaShrink = shrink
		}
	}
}

// WithIdleGrowth sets the additive sigma growth per idle scheduler tick.
func WithIdleGrowth(growth float64) Option {
	return func(e *Engine) {
		if growth >= 0 {
			e.idleGrowth = growth
		}
	}
}

// Engine computes rating updates. Safe for concurrent use; it holds
// only immutable configuration.
type Engine struct {
	k           float64
	highWeightK float64
	sigmaShrink float64
	sigmaFloor  float64
	sigmaCap    float64
	idleGrowth  float64
	meanFloor   float64
	meanCap     float64
}

// NewEngine creates a rating engine with configuration options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		k:           defaultK,
		highWeightK: defaultHighWeightK,
		sigmaShrink: defaultSigmaShrink,
		sigmaFloor:  defaultSigmaFloor,
		sigmaCap:    defaultSigmaCap,
		idleGrowth:  defaultIdleGrowth,
		meanFloor:   defaultMeanFloor,
		meanCap:     defaultMeanCap,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SigmaFloor returns the configured sigma floor.
func (e *Engine) SigmaFloor() float64 { return e.sigmaFloor }

// SigmaCap returns the configured sigma cap.
func (e *Engine) SigmaCap() float64 { return e.sigmaCap }

// Expect returns the probability that A beats B. Identical means yield 0.5.
func (e *Engine) Expect(a, b State) float64 {
	return 1.0 / (1.0 + math.Pow(10.0, (b.Mean-a.Mean)/logisticScale))
}

// Update applies one comparison outcome and returns the new states.
// Inputs are clamped before and after the update so adversarial state
// cannot run away; NaN or Inf means are rejected.
func (e *Engine) Update(a, b State, outcome Outcome, highWeight bool) (State, State, error) {
	if !valid(a) || !valid(b) {
		return State{}, State{}, ErrInvalidRating
	}

	a = e.clampState(a)
	b = e.clampState(b)

	expectA := e.Expect(a, b)

	actualA := 0.0
	if outcome == AWins {
		actualA = 1.0
	}

	k := e.k
	if highWeight {
		k = e.highWeightK
	}

	delta := k * (actualA - expectA)

	newA := State{
		Mean:  clamp(a.Mean+delta, e.meanFloor, e.meanCap),
		Sigma: clamp(a.Sigma*e.sigmaShrink, e.sigmaFloor, e.sigmaCap),
	}
	newB := State{
		Mean:  clamp(b.Mean-delta, e.meanFloor, e.meanCap),
		Sigma: clamp(b.Sigma*e.sigmaShrink, e.sigmaFloor, e.sigmaCap),
	}

	return newA, newB, nil
}

// IdleGrow returns sigma after one scheduler tick without comparisons.
func (e *Engine) IdleGrow(sigma float64) float64 {
	return clamp(sigma+e.idleGrowth, e.sigmaFloor, e.sigmaCap)
}

func (e *Engine) clampState(s State) State {
	return State{
		Mean:  clamp(s.Mean, e.meanFloor, e.meanCap),
		Sigma: clamp(s.Sigma, e.sigmaFloor, e.sigmaCap),
	}
}

func valid(s State) bool {
	return !math.IsNaN(s.Mean) && !math.IsInf(s.Mean, 0) &&
		!math.IsNaN(s.Sigma) && !math.IsInf(s.Sigma, 0)
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
