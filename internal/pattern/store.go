package pattern

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentic-qe/fleet/internal/cache"
	"github.com/agentic-qe/fleet/internal/metrics"
	"github.com/agentic-qe/fleet/types"
)

// Config configures the Store (spec §6).
type Config struct {
	MaxPatterns            int
	LearningRate           float64
	MinConfidenceThreshold float64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxPatterns:            10000,
		LearningRate:           0.1,
		MinConfidenceThreshold: 0.5,
	}
}

// Store is the single-writer/many-reader pattern store (spec §4.4).
// A nil hot *cache.Manager falls back to an in-process sort for
// confidence-ordered queries. A nil persist *SQLPersistence keeps
// patterns in memory only; a configured one makes the patterns table
// the canonical copy, so Load can repopulate the map after a restart.
type Store struct {
	config  Config
	logger  *zap.Logger
	metric  *metrics.Collector
	hot     *cache.Manager
	persist *SQLPersistence
	now     func() time.Time

	mu       sync.RWMutex
	patterns map[string]*types.Pattern
}

// New builds a Store. hot may be nil to disable the Redis hot-ordering
// mirror; persist may be nil to keep patterns in memory only.
func New(config Config, hot *cache.Manager, persist *SQLPersistence, logger *zap.Logger, metric *metrics.Collector) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxPatterns <= 0 {
		config.MaxPatterns = DefaultConfig().MaxPatterns
	}
	if config.LearningRate <= 0 {
		config.LearningRate = DefaultConfig().LearningRate
	}
	return &Store{
		config:   config,
		logger:   logger.With(zap.String("component", "pattern_store")),
		metric:   metric,
		hot:      hot,
		persist:  persist,
		now:      time.Now,
		patterns: make(map[string]*types.Pattern),
	}
}

// Load repopulates the in-memory map from the SQL backing, replacing any
// existing contents. Call once at startup when persist is configured; a
// nil persist makes this a no-op.
func (s *Store) Load(ctx context.Context) (int, error) {
	if s.persist == nil {
		return 0, nil
	}
	loaded, err := s.persist.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for i := range loaded {
		p := loaded[i]
		s.patterns[p.ID] = &p
	}
	s.mu.Unlock()

	for _, p := range loaded {
		s.mirror(ctx, p)
	}
	return len(loaded), nil
}

func hotKey(patternType, domain string) string {
	return "pattern:" + patternType + ":" + domain
}

// Store upserts p, evicting the lowest-confidence entry first if the
// store is already at capacity (ties broken by oldest UpdatedAt).
func (s *Store) Store(ctx context.Context, p types.Pattern) error {
	if err := ctx.Err(); err != nil {
		return types.Wrap(types.ErrCancelled, "store cancelled", err)
	}
	if p.ID == "" {
		return types.NewError(types.ErrValidation, "pattern id is required")
	}

	p.Confidence = types.Clamp01(p.Confidence)
	p.SuccessRate = types.Clamp01(p.SuccessRate)
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	s.mu.Lock()
	_, exists := s.patterns[p.ID]
	var evicted *types.Pattern
	if !exists && len(s.patterns) >= s.config.MaxPatterns {
		evicted = s.evictLowestConfidenceLocked()
	}
	s.patterns[p.ID] = &p
	s.mu.Unlock()

	if evicted != nil && s.persist != nil {
		if err := s.persist.Delete(ctx, evicted.ID); err != nil {
			s.logger.Warn("persist evicted pattern delete failed", zap.String("pattern_id", evicted.ID), zap.Error(err))
		}
	}

	if s.persist != nil {
		if err := s.persist.Save(ctx, p); err != nil {
			return err
		}
	}

	s.mirror(ctx, p)
	return nil
}

// evictLowestConfidenceLocked removes and returns the lowest-confidence
// entry (ties broken by oldest UpdatedAt), or nil if the store is empty.
// Callers holding s.mu must release it before deleting the victim from
// persist, since that call may block on I/O.
func (s *Store) evictLowestConfidenceLocked() *types.Pattern {
	var victim *types.Pattern
	for _, p := range s.patterns {
		if victim == nil ||
			p.Confidence < victim.Confidence ||
			(p.Confidence == victim.Confidence && p.UpdatedAt.Before(victim.UpdatedAt)) {
			victim = p
		}
	}
	if victim == nil {
		return nil
	}
	delete(s.patterns, victim.ID)
	if s.metric != nil {
		s.metric.RecordEviction()
	}
	if s.hot != nil {
		_ = s.hot.ZRem(context.Background(), hotKey(victim.Type, victim.Domain), victim.ID)
	}
	return victim
}

func (s *Store) mirror(ctx context.Context, p types.Pattern) {
	if s.hot == nil {
		return
	}
	if err := s.hot.ZAdd(ctx, hotKey(p.Type, p.Domain), p.Confidence, p.ID); err != nil {
		s.logger.Warn("hot-ordering mirror write failed", zap.String("pattern_id", p.ID), zap.Error(err))
	}
}

// Query returns patterns matching q, ordered by confidence descending.
// When the Redis mirror is configured and the query is scoped by type and
// domain, ordering is served via ZREVRANGEBYSCORE; otherwise it falls
// back to an in-process sort.
func (s *Store) Query(ctx context.Context, q types.PatternQuery) ([]types.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.Wrap(types.ErrCancelled, "query cancelled", err)
	}

	if s.hot != nil && q.Type != "" && q.Domain != "" {
		if ids, err := s.hot.ZRevRangeByScore(ctx, hotKey(q.Type, q.Domain), q.MinConfidence, 1, int64(limitOrAll(q.Limit))); err == nil {
			return s.resolveByID(ids), nil
		}
	}

	s.mu.RLock()
	out := make([]types.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		if q.Type != "" && p.Type != q.Type {
			continue
		}
		if q.Domain != "" && p.Domain != q.Domain {
			continue
		}
		if p.Confidence < q.MinConfidence {
			continue
		}
		out = append(out, *p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

func limitOrAll(limit int) int64 {
	if limit <= 0 {
		return -1 // go-redis treats a negative count as "no limit"
	}
	return int64(limit)
}

func (s *Store) resolveByID(ids []string) []types.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Pattern, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.patterns[id]; ok {
			out = append(out, *p)
		}
	}
	return out
}

// FindSimilar returns the top-k patterns by cosine similarity to
// embedding. Patterns without an embedding are skipped.
func (s *Store) FindSimilar(ctx context.Context, embedding []float32, k int) ([]types.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.Wrap(types.ErrCancelled, "find_similar cancelled", err)
	}
	if k <= 0 {
		return nil, nil
	}

	type scored struct {
		pattern types.Pattern
		score   float64
	}

	s.mu.RLock()
	candidates := make([]scored, 0, len(s.patterns))
	for _, p := range s.patterns {
		if len(p.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{pattern: *p, score: cosineSimilarity(embedding, p.Embedding)})
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if k > len(candidates) {
		k = len(candidates)
	}

	out := make([]types.Pattern, k)
	for i := 0; i < k; i++ {
		out[i] = candidates[i].pattern
	}
	return out, nil
}

// UpdateConfidence applies the feedback rule of spec §4.4.
func (s *Store) UpdateConfidence(ctx context.Context, patternID string, success bool) (types.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return types.Pattern{}, types.Wrap(types.ErrCancelled, "update_confidence cancelled", err)
	}

	s.mu.Lock()
	p, ok := s.patterns[patternID]
	if !ok {
		s.mu.Unlock()
		return types.Pattern{}, types.NewError(types.ErrNotFound, "pattern not found: "+patternID)
	}

	p.UsageCount++
	u := float64(p.UsageCount)
	if success {
		p.Confidence = types.Clamp01(p.Confidence + s.config.LearningRate)
		p.SuccessRate = types.Clamp01(((p.SuccessRate * (u - 1)) + 1) / u)
	} else {
		p.Confidence = types.Clamp01(p.Confidence - s.config.LearningRate)
		p.SuccessRate = types.Clamp01((p.SuccessRate * (u - 1)) / u)
	}
	p.UpdatedAt = s.now()
	updated := *p
	s.mu.Unlock()

	if s.metric != nil {
		s.metric.RecordConfidence(updated.Confidence, success)
	}

	if s.persist != nil {
		if err := s.persist.Save(ctx, updated); err != nil {
			return types.Pattern{}, err
		}
	}

	s.mirror(ctx, updated)
	return updated, nil
}

// ExportAll returns every pattern in the store.
func (s *Store) ExportAll(ctx context.Context) ([]types.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, *p)
	}
	return out, nil
}

// Import adds patterns whose IDs are not already present, returning the
// count of newly added entries. export_patterns ∘ import_patterns is the
// identity on IDs: re-importing an export adds nothing new.
func (s *Store) Import(ctx context.Context, patterns []types.Pattern) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, types.Wrap(types.ErrCancelled, "import cancelled", err)
	}

	added := 0
	for _, p := range patterns {
		s.mu.RLock()
		_, exists := s.patterns[p.ID]
		s.mu.RUnlock()
		if exists {
			continue
		}
		if err := s.Store(ctx, p); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// Get returns one pattern by ID, used by the curator's review workflow.
func (s *Store) Get(ctx context.Context, id string) (types.Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patterns[id]
	if !ok {
		return types.Pattern{}, types.NewError(types.ErrNotFound, "pattern not found: "+id)
	}
	return *p, nil
}

// Delete removes a pattern, used by the curator's reject/auto-reject path.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	p, ok := s.patterns[id]
	delete(s.patterns, id)
	s.mu.Unlock()
	if ok && s.hot != nil {
		_ = s.hot.ZRem(ctx, hotKey(p.Type, p.Domain), id)
	}
	if s.persist != nil {
		if err := s.persist.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Len reports how many patterns are currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
