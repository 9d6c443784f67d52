package learning

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/eventbus"
	"github.com/agentic-qe/fleet/internal/memorystore"
	"github.com/agentic-qe/fleet/internal/metrics"
	"github.com/agentic-qe/fleet/internal/pattern"
	"github.com/agentic-qe/fleet/types"
)

const autoApplyFlagKey = "auto_apply_enabled"

// Loop is the improvement control loop of spec §4.8: it watches
// execution events for recurring failure signatures, promotes confident
// patterns into strategy recommendations, advances running A/B tests,
// and bounds automatic strategy adoption.
type Loop struct {
	config  Config
	pattern *pattern.Store
	store   memorystore.Store
	bus     *eventbus.Bus
	metric  *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	events   []types.ExecutionEvent
	failures map[string]*failureRecord
	abtests  map[string]*types.ABTest
}

// New builds a Loop. store and bus may be nil in tests that do not need
// mitigation persistence or recommendation events; pattern must not be
// nil.
func New(config Config, patterns *pattern.Store, store memorystore.Store, bus *eventbus.Bus, metric *metrics.Collector, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MitigationRules == nil {
		config.MitigationRules = DefaultMitigationRules()
	}
	if config.MaxBufferedEvents <= 0 {
		config.MaxBufferedEvents = DefaultConfig().MaxBufferedEvents
	}
	return &Loop{
		config:   config,
		pattern:  patterns,
		store:    store,
		bus:      bus,
		metric:   metric,
		logger:   logger.With(zap.String("component", "learning_loop")),
		now:      time.Now,
		failures: make(map[string]*failureRecord),
		abtests:  make(map[string]*types.ABTest),
	}
}

// RegisterABTest adds an experiment the loop will watch for completion
// during RunCycle.
func (l *Loop) RegisterABTest(test types.ABTest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.abtests[test.ID] = &test
}

// RecordOutcomeIntoABTest folds one sample into a running experiment's
// per-strategy accumulator.
func (l *Loop) RecordOutcomeIntoABTest(testID, strategy string, success bool, durationMs float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	test, ok := l.abtests[testID]
	if !ok || test.Status != types.ABTestRunning {
		return
	}
	acc, ok := test.Accumulators[strategy]
	if !ok {
		acc = &types.StrategyAccumulator{}
		test.Accumulators[strategy] = acc
	}
	n := float64(acc.SampleCount)
	if success {
		acc.SuccessRate = ((acc.SuccessRate * n) + 1) / (n + 1)
	} else {
		acc.SuccessRate = (acc.SuccessRate * n) / (n + 1)
	}
	acc.AvgTime = ((acc.AvgTime * n) + durationMs) / (n + 1)
	acc.SampleCount++
}

// RecordExecution appends one execution outcome to the bounded event
// buffer train() folds, and counts failures per signature for RunCycle's
// mitigation-assignment step.
func (l *Loop) RecordExecution(ctx context.Context, event types.ExecutionEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, event)
	if over := len(l.events) - l.config.MaxBufferedEvents; over > 0 {
		l.events = l.events[over:]
	}

	if event.Success {
		return
	}
	sig := event.Signature()
	rec, ok := l.failures[sig]
	if !ok {
		rec = &failureRecord{signature: sig, errorKind: event.ErrorKind}
		l.failures[sig] = rec
	}
	rec.count++
}

// RunCycle executes the four steps of spec §4.8: mitigation assignment,
// strategy-recommendation emission, A/B test advancement, and bounded
// auto-apply. It is safe to call on a timer (config.Cadence) or on
// demand, e.g. from the curator's force_learning().
func (l *Loop) RunCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport

	assigned, err := l.assignMitigations(ctx)
	if err != nil {
		return report, err
	}
	report.MitigationsAssigned = assigned

	emitted, err := l.emitRecommendations(ctx)
	if err != nil {
		return report, err
	}
	report.RecommendationsEmitted = emitted

	report.ABTestsAdvanced = l.advanceABTests(ctx)

	applied, err := l.autoApply(ctx)
	if err != nil {
		return report, err
	}
	report.AutoApplied = applied

	if l.metric != nil {
		l.metric.RecordLearningCycle("cycle")
	}
	return report, nil
}

func (l *Loop) assignMitigations(ctx context.Context) (int, error) {
	l.mu.Lock()
	due := make([]*failureRecord, 0)
	for _, rec := range l.failures {
		if rec.mitigation == "" && rec.count > l.config.FailureFrequencyThreshold {
			due = append(due, rec)
		}
	}
	l.mu.Unlock()

	assigned := 0
	for _, rec := range due {
		mitigation, ok := l.config.MitigationRules[rec.errorKind]
		if !ok {
			mitigation = "manual_review"
		}

		if l.store != nil {
			payload, err := json.Marshal(map[string]any{
				"signature":  rec.signature,
				"error_kind": string(rec.errorKind),
				"count":      rec.count,
				"mitigation": mitigation,
			})
			if err != nil {
				return assigned, types.Wrap(types.ErrInternal, "marshal mitigation", err)
			}
			if _, err := l.store.StoreShared(ctx, "mitigation", rec.signature, payload, "json", "learning-loop"); err != nil {
				return assigned, err
			}
		}

		l.mu.Lock()
		rec.mitigation = mitigation
		l.mu.Unlock()

		l.logger.Info("mitigation assigned",
			zap.String("signature", rec.signature),
			zap.Int("count", rec.count),
			zap.String("mitigation", mitigation))
		assigned++
	}
	return assigned, nil
}

func (l *Loop) emitRecommendations(ctx context.Context) (int, error) {
	if l.pattern == nil {
		return 0, nil
	}
	all, err := l.pattern.ExportAll(ctx)
	if err != nil {
		return 0, err
	}

	emitted := 0
	for _, p := range all {
		if p.Confidence > 0.8 && p.UsageCount < 10 {
			if l.bus != nil {
				l.bus.Publish(types.Event{
					Type: "strategy_recommendation",
					Payload: map[string]any{
						"pattern_id": p.ID,
						"type":       p.Type,
						"domain":     p.Domain,
						"confidence": p.Confidence,
					},
					Severity: types.SeverityLow,
					Source:   "learning-loop",
				})
			}
			emitted++
		}
	}
	return emitted, nil
}

func (l *Loop) advanceABTests(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	advanced := 0
	for _, test := range l.abtests {
		if test.Status != types.ABTestRunning {
			continue
		}
		if !abTestSampleBudgetMet(test) {
			continue
		}

		maxAvgTime := 0.0
		for _, acc := range test.Accumulators {
			if acc.AvgTime > maxAvgTime {
				maxAvgTime = acc.AvgTime
			}
		}

		var winner string
		var bestScore float64
		first := true
		for name, acc := range test.Accumulators {
			normalizedTime := 0.0
			if maxAvgTime > 0 {
				normalizedTime = acc.AvgTime / maxAvgTime
			}
			score := 0.7*acc.SuccessRate + 0.3*(1-normalizedTime)
			if first || score > bestScore {
				winner = name
				bestScore = score
				first = false
			}
		}

		test.Winner = winner
		test.Status = types.ABTestCompleted
		completedAt := l.now()
		test.CompletedAt = &completedAt
		advanced++

		if l.store != nil {
			payload, err := json.Marshal(test)
			if err == nil {
				_, _ = l.store.StoreShared(ctx, "abtest", test.ID, payload, "json", "learning-loop")
			}
		}
		l.logger.Info("ab test advanced", zap.String("test_id", test.ID), zap.String("winner", winner))
	}
	return advanced
}

func abTestSampleBudgetMet(test *types.ABTest) bool {
	if test.TargetSampleSize <= 0 {
		return false
	}
	for _, acc := range test.Accumulators {
		if acc.SampleCount < test.TargetSampleSize {
			return false
		}
	}
	return len(test.Accumulators) > 0
}

func (l *Loop) autoApply(ctx context.Context) (int, error) {
	if l.pattern == nil || l.store == nil {
		return 0, nil
	}

	entry, err := l.store.Retrieve(ctx, types.PartitionFleet, autoApplyFlagKey)
	if err != nil {
		return 0, nil // opt-in flag absent: auto-apply stays disabled
	}
	var enabled bool
	if err := json.Unmarshal(entry.Value, &enabled); err != nil || !enabled {
		return 0, nil
	}

	all, err := l.pattern.ExportAll(ctx)
	if err != nil {
		return 0, err
	}

	candidates := make([]types.Pattern, 0)
	for _, p := range all {
		if p.Confidence > 0.9 && p.SuccessRate > 0.8 {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Confidence > candidates[j].Confidence })
	if len(candidates) > l.config.AutoApplyMaxStrategies {
		candidates = candidates[:l.config.AutoApplyMaxStrategies]
	}

	for _, p := range candidates {
		if l.metric != nil {
			l.metric.RecordAutoApplied()
		}
		if l.bus != nil {
			l.bus.Publish(types.Event{
				Type:     "strategy.auto_applied",
				Payload:  map[string]any{"pattern_id": p.ID, "confidence": p.Confidence},
				Severity: types.SeverityLow,
				Source:   "learning-loop",
			})
		}
	}
	return len(candidates), nil
}

// Recommend implements recommend(task_state): the best matching pattern
// for (typ, domain) plus up to config.MaxAlternatives runners-up.
func (l *Loop) Recommend(ctx context.Context, typ, domain string) (Recommendation, error) {
	matches, err := l.pattern.Query(ctx, types.PatternQuery{
		Type:          typ,
		Domain:        domain,
		MinConfidence: l.config.RecommendationMinConfidence,
		Limit:         1 + l.config.MaxAlternatives,
	})
	if err != nil {
		return Recommendation{}, err
	}
	if len(matches) == 0 {
		return Recommendation{}, types.NewError(types.ErrNotFound, "no pattern matches "+typ+"/"+domain)
	}
	return Recommendation{
		PatternID:    matches[0].ID,
		Pattern:      matches[0],
		Alternatives: matches[1:],
	}, nil
}

// RecordOutcome implements record_outcome(pattern_id, success): it feeds
// the result back into the pattern store's confidence update rule.
func (l *Loop) RecordOutcome(ctx context.Context, patternID string, success bool) (types.Pattern, error) {
	return l.pattern.UpdateConfidence(ctx, patternID, success)
}

// Train implements train(iterations): it folds up to iterations buffered
// execution events by signature, creating or reinforcing one pattern per
// distinct signature.
func (l *Loop) Train(ctx context.Context, iterations int) (TrainReport, error) {
	start := l.now()

	l.mu.Lock()
	n := iterations
	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	batch := make([]types.ExecutionEvent, n)
	copy(batch, l.events[len(l.events)-n:])
	l.mu.Unlock()

	touched := make(map[string]bool)
	for _, event := range batch {
		sig := event.Signature()
		id := "pattern::" + sig

		existing, err := l.pattern.Get(ctx, id)
		if err != nil {
			existing = types.Pattern{
				ID:     id,
				Type:   event.TaskType,
				Domain: event.Strategy,
			}
			if storeErr := l.pattern.Store(ctx, existing); storeErr != nil {
				return TrainReport{}, storeErr
			}
		}
		_ = existing

		if _, err := l.pattern.UpdateConfidence(ctx, id, event.Success); err != nil {
			return TrainReport{}, err
		}
		touched[id] = true
	}

	var confidenceSum float64
	for id := range touched {
		p, err := l.pattern.Get(ctx, id)
		if err == nil {
			confidenceSum += p.Confidence
		}
	}
	var avg float64
	if len(touched) > 0 {
		avg = confidenceSum / float64(len(touched))
	}

	return TrainReport{
		Iterations:        n,
		PatternsLearned:   len(touched),
		Duration:          l.now().Sub(start),
		AverageConfidence: avg,
	}, nil
}
