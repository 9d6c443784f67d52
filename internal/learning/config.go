package learning

import (
	"time"

	"github.com/agentic-qe/fleet/types"
)

// Config configures the Loop (spec §4.8/§6).
type Config struct {
	Cadence time.Duration

	// FailureFrequencyThreshold: failure signatures with a recent count
	// strictly above this are assigned a mitigation.
	FailureFrequencyThreshold int
	MitigationRules           map[types.ErrorKind]string

	// Recommendation behavior.
	RecommendationMinConfidence float64
	MaxAlternatives             int

	// Auto-apply: bounded to at most this many strategies per cycle,
	// gated by the "auto_apply_enabled" memory-store opt-in.
	AutoApplyMaxStrategies int

	// MaxBufferedEvents bounds the in-memory execution-event buffer
	// train() folds over.
	MaxBufferedEvents int
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		Cadence:                     time.Hour,
		FailureFrequencyThreshold:   5,
		MitigationRules:             DefaultMitigationRules(),
		RecommendationMinConfidence: 0.5,
		MaxAlternatives:             3,
		AutoApplyMaxStrategies:      3,
		MaxBufferedEvents:           5000,
	}
}

// DefaultMitigationRules maps each retryable-by-default error kind to a
// generic operator-facing mitigation description. Kinds absent from the
// table fall back to "manual_review".
func DefaultMitigationRules() map[types.ErrorKind]string {
	return map[types.ErrorKind]string{
		types.ErrTimeout:               "increase per-task deadline or reduce batch size",
		types.ErrTransientNetwork:      "verify peer reachability and retry backoff ceiling",
		types.ErrDependencyUnavailable: "check external adapter health and credentials",
		types.ErrStorage:               "inspect memory-store backend capacity and connectivity",
	}
}
