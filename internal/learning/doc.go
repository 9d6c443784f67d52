// Package learning implements the improvement control loop of spec §4.8:
// mitigation assignment for recurring failure signatures,
// strategy-recommendation emission for high-confidence/low-usage
// patterns, A/B test advancement and winner declaration, bounded
// auto-apply, pattern recommendation, and signature-folding training.
package learning
