package curator

// Config configures the Curator (spec §4.9/§6).
type Config struct {
	// AutoRejectThreshold is the confidence ceiling below which
	// auto_curate() deletes a pattern outright.
	AutoRejectThreshold float64

	// LowConfidenceThreshold is the upper bound of the band
	// find_low_confidence() surfaces for operator review.
	LowConfidenceThreshold float64

	// AutoApproveThreshold is the confidence floor above which
	// auto_curate() marks a pattern approved without operator review.
	AutoApproveThreshold float64

	// ApprovalConfidenceBoost is added (and clamped) to a pattern's
	// confidence when an operator approves it via review().
	ApprovalConfidenceBoost float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		AutoRejectThreshold:     0.2,
		LowConfidenceThreshold:  0.5,
		AutoApproveThreshold:    0.9,
		ApprovalConfidenceBoost: 0.1,
	}
}
