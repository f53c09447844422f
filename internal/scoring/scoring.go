// Package scoring derives a bounded numeric risk score from severity and phenotype.
package scoring

import (
	"math"

	"github.com/inodb/pharmguard/internal/phenotype"
	"github.com/inodb/pharmguard/internal/rules"
)

// Default scoring configuration constants.
const (
	defaultBase       = 25.0
	defaultMultiplier = 1.0
	maxScoreValue     = 100.0
	minScoreValue     = 0.0
)

var defaultSeverityBase = map[rules.Severity]float64{
	rules.SeverityNone:     0,
	rules.SeverityLow:      25,
	rules.SeverityModerate: 50,
	rules.SeverityHigh:     75,
	rules.SeverityCritical: 100,
}

var defaultMultipliers = map[phenotype.Phenotype]float64{
	phenotype.NM:      1.0,
	phenotype.IM:      1.3,
	phenotype.PM:      1.7,
	phenotype.URM:     1.9,
	phenotype.Unknown: 0.5,
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithSeverityBase overrides the base value for a severity.
func WithSeverityBase(sev rules.Severity, base float64) Option {
	return func(s *Scorer) {
		if base >= 0 {
			s.base[sev] = base
		}
	}
}

// WithMultiplier overrides the multiplier for a phenotype.
func WithMultiplier(p phenotype.Phenotype, m float64) Option {
	return func(s *Scorer) {
		if m >= 0 {
			s.multipliers[p] = m
		}
	}
}

// Scorer computes scores from severity base values and phenotype multipliers.
type Scorer struct {
	base        map[rules.Severity]float64
	multipliers map[phenotype.Phenotype]float64
}

// New creates a Scorer with the default calibration and any overrides.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		base:        make(map[rules.Severity]float64, len(defaultSeverityBase)),
		multipliers: make(map[phenotype.Phenotype]float64, len(defaultMultipliers)),
	}
	for k, v := range defaultSeverityBase {
		s.base[k] = v
	}
	for k, v := range defaultMultipliers {
		s.multipliers[k] = v
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score returns min(100, base*multiplier) rounded to one decimal.
// Unmapped severities use a base of 25 and unmapped phenotypes a multiplier of 1.0.
func (s *Scorer) Score(p phenotype.Phenotype, sev rules.Severity) float64 {
	base, ok := s.base[sev]
	if !ok {
		base = defaultBase
	}
	mult, ok := s.multipliers[p]
	if !ok {
		mult = defaultMultiplier
	}
	score := math.Max(minScoreValue, math.Min(maxScoreValue, base*mult))
	return math.Round(score*10) / 10
}

var defaultScorer = New()

// Score scores with the default calibration.
func Score(p phenotype.Phenotype, sev rules.Severity) float64 {
	return defaultScorer.Score(p, sev)
}
