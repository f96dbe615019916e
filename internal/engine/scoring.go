package engine

import (
	"fmt"
	"math"
	"time"
)

// Curve names the discount applied to correct answers as latency grows.
type Curve string

const (
	// CurveLinear discounts proportionally to latency/limit.
	CurveLinear Curve = "linear"
	// CurveQuadratic is lenient early in the round and steep near the deadline.
	CurveQuadratic Curve = "quadratic"
)

// ScoringConfig holds configurable scoring constants.
type ScoringConfig struct {
	Base          int     // awarded for an instant correct answer
	FloorFraction float64 // share of Base a correct answer never drops below
	Curve         Curve
}

// DefaultScoringConfig returns production defaults: 1000 points, 10% floor, linear.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Base:          1000,
		FloorFraction: 0.1,
		Curve:         CurveLinear,
	}
}

// Scorer converts (correctness, latency) into points.
type Scorer struct {
	cfg   ScoringConfig
	floor int
}

// NewScorer validates cfg. An empty curve means linear.
func NewScorer(cfg ScoringConfig) (*Scorer, error) {
	if cfg.Base <= 0 {
		return nil, fmt.Errorf("scoring base must be positive, got %d", cfg.Base)
	}
	// floor 1 would make every correct answer score Base
	if cfg.FloorFraction < 0 || cfg.FloorFraction >= 1 {
		return nil, fmt.Errorf("scoring floor must be within [0,1), got %v", cfg.FloorFraction)
	}
	switch cfg.Curve {
	case "":
		cfg.Curve = CurveLinear
	case CurveLinear, CurveQuadratic:
	default:
		return nil, fmt.Errorf("unknown scoring curve %q", cfg.Curve)
	}
	return &Scorer{
		cfg:   cfg,
		floor: int(math.Ceil(float64(cfg.Base)*cfg.FloorFraction - 1e-9)),
	}, nil
}

// Config returns the validated configuration.
func (s *Scorer) Config() ScoringConfig {
	return s.cfg
}

// Score returns 0 for incorrect or missing answers. Correct answers earn
// Base × (1 − (1 − floor) × discount(latency/limit)), clamped to [floor×Base, Base].
func (s *Scorer) Score(correct bool, latency, limit time.Duration) int {
	if !correct {
		return 0
	}
	ratio := 0.0
	if limit > 0 {
		ratio = float64(latency) / float64(limit)
	}
	ratio = math.Max(0, math.Min(1, ratio))

	discount := ratio
	if s.cfg.Curve == CurveQuadratic {
		discount = ratio * ratio
	}

	score := int(math.Round(float64(s.cfg.Base) * (1 - (1-s.cfg.FloorFraction)*discount)))
	if score < s.floor {
		score = s.floor
	}
	if score > s.cfg.Base {
		score = s.cfg.Base
	}
	return score
}
