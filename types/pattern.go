package types

import "time"

// Pattern is a reusable learned association between a task signature and
// a recommended strategy.
type Pattern struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Domain     string    `json:"domain"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Confidence float64   `json:"confidence"`   // clamped to [0,1]
	UsageCount int64     `json:"usage_count"`  // monotonically non-decreasing
	SuccessRate float64  `json:"success_rate"` // clamped to [0,1]
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clamp01 clamps v to the closed interval [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// PatternQuery filters a pattern-store query.
type PatternQuery struct {
	Type          string
	Domain        string
	MinConfidence float64
	Limit         int
}

// ABTestStatus is the lifecycle of an A/B test.
type ABTestStatus string

const (
	ABTestRunning   ABTestStatus = "running"
	ABTestCompleted ABTestStatus = "completed"
	ABTestCancelled ABTestStatus = "cancelled"
)

// StrategyUnderTest names one arm of an A/B test.
type StrategyUnderTest struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// StrategyAccumulator is the running statistics for one A/B test arm.
type StrategyAccumulator struct {
	SuccessRate float64 `json:"success_rate"`
	AvgTime     float64 `json:"avg_time_ms"`
	SampleCount int      `json:"sample_count"`
}

// ABTest is an identified, named experiment comparing strategies.
type ABTest struct {
	ID               string                          `json:"id"`
	Name             string                          `json:"name"`
	Strategies       []StrategyUnderTest             `json:"strategies"`
	TargetSampleSize int                              `json:"target_sample_size"`
	Accumulators     map[string]*StrategyAccumulator  `json:"accumulators"` // keyed by strategy name
	Status           ABTestStatus                     `json:"status"`
	Winner           string                           `json:"winner,omitempty"`
	CreatedAt        time.Time                        `json:"created_at"`
	CompletedAt      *time.Time                       `json:"completed_at,omitempty"`
}
