// Package scoring computes the heuristic stress score of a behavior document.
package scoring

import (
	"math"

	"github.com/okian/stresstrack/internal/domain/model"
)

// Default weights of the stress formula.
const (
	DefaultScrollSpeedWeight    = 0.5
	DefaultClicksWeight         = 2
	DefaultMovementSpreadWeight = 0.1
	DefaultTimeSpentWeight      = 0.01
)

// Weights are the coefficients applied to each signal.
type Weights struct {
	ScrollSpeed    float64
	Clicks         float64
	MovementSpread float64
	TimeSpent      float64
}

// DefaultWeights returns the weights of the published formula.
func DefaultWeights() Weights {
	return Weights{
		ScrollSpeed:    DefaultScrollSpeedWeight,
		Clicks:         DefaultClicksWeight,
		MovementSpread: DefaultMovementSpreadWeight,
		TimeSpent:      DefaultTimeSpentWeight,
	}
}

// Option applies a configuration option to the WeightedScorer.
type Option func(*WeightedScorer)

// WithWeights replaces the formula weights. Negative weights are ignored.
func WithWeights(w Weights) Option {
	return func(s *WeightedScorer) {
		if w.ScrollSpeed >= 0 {
			s.weights.ScrollSpeed = w.ScrollSpeed
		}
		if w.Clicks >= 0 {
			s.weights.Clicks = w.Clicks
		}
		if w.MovementSpread >= 0 {
			s.weights.MovementSpread = w.MovementSpread
		}
		if w.TimeSpent >= 0 {
			s.weights.TimeSpent = w.TimeSpent
		}
	}
}

// Input holds the cumulative signals the score is derived from.
type Input struct {
	ScrollSpeed float64
	Clicks      int64
	Movements   model.MovementStats
	TimeSpent   float64
}

// InputOf extracts the scoring input from a stored document.
func InputOf(b model.Behavior) Input {
	return Input{
		ScrollSpeed: b.ScrollSpeed,
		Clicks:      b.Clicks,
		Movements:   b.Stats(),
		TimeSpent:   b.TimeSpent,
	}
}

// Scorer computes a stress score from cumulative signals.
type Scorer interface {
	Score(in Input) float64
}

// WeightedScorer is a linear combination of the signals rounded to two decimals.
type WeightedScorer struct {
	weights Weights
}

// New creates a scorer using the default weights unless overridden.
func New(opts ...Option) *WeightedScorer {
	s := &WeightedScorer{weights: DefaultWeights()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Weights returns the weights in use.
func (s *WeightedScorer) Weights() Weights {
	return s.weights
}

// Score implements Scorer.
func (s *WeightedScorer) Score(in Input) float64 {
	w := s.weights
	raw := in.ScrollSpeed*w.ScrollSpeed +
		float64(in.Clicks)*w.Clicks +
		in.Movements.Spread()*w.MovementSpread +
		in.TimeSpent*w.TimeSpent
	return Round2(raw)
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
