package curator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/learning"
	"github.com/agentic-qe/fleet/internal/memorystore"
	"github.com/agentic-qe/fleet/internal/pattern"
	"github.com/agentic-qe/fleet/types"
)

// Curator is the operator-facing pattern-review workflow of spec §4.9,
// atop the shared pattern store.
type Curator struct {
	config  Config
	pattern *pattern.Store
	store   memorystore.Store
	loop    *learning.Loop
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	session  *Session
	feedback []ReviewRecord
}

// New builds a Curator. loop may be nil if force_learning is never
// called; store may be nil to skip session archival.
func New(config Config, patterns *pattern.Store, store memorystore.Store, loop *learning.Loop, logger *zap.Logger) *Curator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.AutoApproveThreshold == 0 && config.LowConfidenceThreshold == 0 && config.AutoRejectThreshold == 0 {
		config = DefaultConfig()
	}
	return &Curator{
		config:  config,
		pattern: patterns,
		store:   store,
		loop:    loop,
		logger:  logger.With(zap.String("component", "curator")),
		now:     time.Now,
	}
}

// StartSession opens a new curation session, archiving and replacing any
// prior one still open.
func (c *Curator) StartSession(ctx context.Context) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.EndedAt == nil {
		c.endSessionLocked(ctx)
	}
	c.session = &Session{
		ID:        uuid.NewString(),
		StartedAt: c.now(),
	}
	return c.session
}

// EndSession closes and archives the active session, returning it. It is
// a no-op returning nil if no session is open.
func (c *Curator) EndSession(ctx context.Context) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endSessionLocked(ctx)
}

func (c *Curator) endSessionLocked(ctx context.Context) *Session {
	if c.session == nil {
		return nil
	}
	session := c.session
	now := c.now()
	session.EndedAt = &now
	c.archiveSession(ctx, session)
	c.session = nil
	return session
}

func (c *Curator) archiveSession(ctx context.Context, session *Session) {
	if c.store == nil {
		return
	}
	payload, err := marshalSession(session)
	if err != nil {
		c.logger.Warn("session marshal failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	if _, err := c.store.StoreShared(ctx, "curation_session", session.ID, payload, "json", "curator"); err != nil {
		c.logger.Warn("session archive failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (c *Curator) ensureSessionLocked() *Session {
	if c.session == nil {
		c.session = &Session{ID: uuid.NewString(), StartedAt: c.now()}
	}
	return c.session
}

// FindLowConfidence returns up to limit patterns whose confidence falls
// in [auto_reject_threshold, low_confidence_threshold].
func (c *Curator) FindLowConfidence(ctx context.Context, limit int) ([]types.Pattern, error) {
	all, err := c.pattern.ExportAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Pattern, 0, limit)
	for _, p := range all {
		if p.Confidence >= c.config.AutoRejectThreshold && p.Confidence <= c.config.LowConfidenceThreshold {
			out = append(out, p)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// Review applies an operator decision to patternID: approval boosts
// confidence by ApprovalConfidenceBoost (clamped) and records feedback;
// rejection deletes the pattern.
func (c *Curator) Review(ctx context.Context, patternID string, decision ReviewDecision) error {
	if decision.Approved {
		p, err := c.pattern.Get(ctx, patternID)
		if err != nil {
			return err
		}
		p.Confidence = types.Clamp01(p.Confidence + c.config.ApprovalConfidenceBoost)
		if decision.CorrectedContent != "" {
			p.Content = decision.CorrectedContent
		}
		if err := c.pattern.Store(ctx, p); err != nil {
			return err
		}
	} else {
		if err := c.pattern.Delete(ctx, patternID); err != nil {
			return err
		}
	}

	record := ReviewRecord{
		PatternID:   patternID,
		Approved:    decision.Approved,
		Quality:     decision.Quality,
		Explanation: decision.Explanation,
		Timestamp:   c.now(),
	}

	c.mu.Lock()
	c.feedback = append(c.feedback, record)
	session := c.ensureSessionLocked()
	session.Reviews = append(session.Reviews, record)
	if decision.Approved {
		session.Approved++
	} else {
		session.Rejected++
	}
	c.mu.Unlock()

	c.logger.Info("pattern reviewed",
		zap.String("pattern_id", patternID),
		zap.Bool("approved", decision.Approved))
	return nil
}

// AutoCurate deletes every pattern below AutoRejectThreshold, marks every
// pattern above AutoApproveThreshold as approved feedback without
// operator involvement, and counts the gray band in between as needing
// review.
func (c *Curator) AutoCurate(ctx context.Context) (AutoCurateReport, error) {
	all, err := c.pattern.ExportAll(ctx)
	if err != nil {
		return AutoCurateReport{}, err
	}

	var report AutoCurateReport
	for _, p := range all {
		switch {
		case p.Confidence < c.config.AutoRejectThreshold:
			if err := c.pattern.Delete(ctx, p.ID); err != nil {
				return report, err
			}
			report.AutoRejected++
		case p.Confidence > c.config.AutoApproveThreshold:
			record := ReviewRecord{
				PatternID:   p.ID,
				Approved:    true,
				Quality:     1.0,
				Explanation: "auto-approved: confidence above threshold",
				Timestamp:   c.now(),
			}
			c.mu.Lock()
			c.feedback = append(c.feedback, record)
			session := c.ensureSessionLocked()
			session.Reviews = append(session.Reviews, record)
			session.Approved++
			c.mu.Unlock()
			report.AutoApproved++
		default:
			report.NeedsReview++
		}
	}

	c.mu.Lock()
	if c.session != nil {
		c.session.NeedsReview += report.NeedsReview
	}
	c.mu.Unlock()

	c.logger.Info("auto curation pass complete",
		zap.Int("auto_approved", report.AutoApproved),
		zap.Int("auto_rejected", report.AutoRejected),
		zap.Int("needs_review", report.NeedsReview))
	return report, nil
}

// ForceLearning flushes buffered review feedback and triggers one
// learning-loop consolidation cycle, returning counts from both.
func (c *Curator) ForceLearning(ctx context.Context) (ForceLearningReport, error) {
	c.mu.Lock()
	flushed := len(c.feedback)
	c.feedback = nil
	c.mu.Unlock()

	report := ForceLearningReport{FeedbackFlushed: flushed}
	if c.loop == nil {
		return report, nil
	}

	cycle, err := c.loop.RunCycle(ctx)
	if err != nil {
		return report, err
	}
	report.CycleAssigned = cycle.MitigationsAssigned
	report.CycleEmitted = cycle.RecommendationsEmitted
	report.CycleABTests = cycle.ABTestsAdvanced
	report.CycleAutoApplied = cycle.AutoApplied
	return report, nil
}
