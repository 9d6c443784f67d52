package learning

import (
	"time"

	"github.com/agentic-qe/fleet/types"
)

// failureRecord tracks one recurring failure signature awaiting or
// already carrying an assigned mitigation.
type failureRecord struct {
	signature  string
	errorKind  types.ErrorKind
	count      int
	mitigation string
}

// CycleReport summarizes one improvement cycle (spec §4.8 step 1-4).
type CycleReport struct {
	MitigationsAssigned    int
	RecommendationsEmitted int
	ABTestsAdvanced        int
	AutoApplied            int
}

// TrainReport summarizes one train(iterations) call.
type TrainReport struct {
	Iterations        int
	PatternsLearned   int
	Duration          time.Duration
	AverageConfidence float64
}

// Recommendation is the result of recommend(task_state): the best
// matching pattern plus up to three alternatives, and enough context for
// record_outcome to feed the right pattern back into the confidence
// update rule.
type Recommendation struct {
	PatternID    string
	Pattern      types.Pattern
	Alternatives []types.Pattern
}
