package pattern

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/agentic-qe/fleet/internal/database"
	"github.com/agentic-qe/fleet/types"
)

func newTestStore() *Store {
	return New(DefaultConfig(), nil, nil, zap.NewNop(), nil)
}

func TestStore_StoreAndQueryOrdersByConfidenceDesc(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p1", Type: "security", Domain: "sast", Confidence: 0.3}))
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p2", Type: "security", Domain: "sast", Confidence: 0.9}))
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p3", Type: "security", Domain: "sast", Confidence: 0.6}))

	results, err := s.Query(ctx, types.PatternQuery{Type: "security", Domain: "sast"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "p2", results[0].ID)
	assert.Equal(t, "p3", results[1].ID)
	assert.Equal(t, "p1", results[2].ID)
}

func TestStore_EvictsLowestConfidenceAtCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPatterns = 2
	s := New(cfg, nil, nil, zap.NewNop(), nil)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p1", Confidence: 0.2}))
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p2", Confidence: 0.8}))
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p3", Confidence: 0.5}))

	assert.Equal(t, 2, s.Len())
	_, err := s.Get(ctx, "p1")
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestStore_UpdateConfidenceConvergesToOneOnRepeatedSuccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LearningRate = 0.05
	s := New(cfg, nil, nil, zap.NewNop(), nil)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p1", Confidence: 0.5}))

	var last types.Pattern
	var err error
	for i := 0; i < 100; i++ {
		last, err = s.UpdateConfidence(ctx, "p1", true)
		require.NoError(t, err)
	}

	assert.Equal(t, 1.0, last.Confidence)
	assert.Equal(t, int64(100), last.UsageCount)
	assert.Equal(t, 1.0, last.SuccessRate)
}

func TestStore_UpdateConfidenceClampsAtZeroOnRepeatedFailure(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p1", Confidence: 0.15}))

	var last types.Pattern
	for i := 0; i < 10; i++ {
		var err error
		last, err = s.UpdateConfidence(ctx, "p1", false)
		require.NoError(t, err)
	}
	assert.Equal(t, 0.0, last.Confidence)
	assert.Equal(t, 0.0, last.SuccessRate)
}

func TestStore_FindSimilarSkipsPatternsWithoutEmbedding(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p1", Embedding: []float32{1, 0, 0}}))
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p2"})) // no embedding
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p3", Embedding: []float32{0.9, 0.1, 0}}))

	results, err := s.FindSimilar(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "p1", results[0].ID)
}

func TestStore_ExportImportRoundTripAddsNothingNew(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p1", Confidence: 0.5}))
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p2", Confidence: 0.7}))

	exported, err := s.ExportAll(ctx)
	require.NoError(t, err)

	added, err := s.Import(ctx, exported)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
}

func TestStore_ImportAddsOnlyNewIDs(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p1", Confidence: 0.5}))

	added, err := s.Import(ctx, []types.Pattern{
		{ID: "p1", Confidence: 0.9},
		{ID: "p2", Confidence: 0.3},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, added)
}

func TestStore_DeleteRemovesPattern(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p1"}))
	require.NoError(t, s.Delete(ctx, "p1"))

	_, err := s.Get(ctx, "p1")
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestStore_ConfidenceAndSuccessRateAlwaysClamped(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, types.Pattern{ID: "p1", Confidence: 1.5, SuccessRate: -0.2}))

	p, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Confidence)
	assert.Equal(t, 0.0, p.SuccessRate)
}

func newMockPersistStore(t *testing.T) (*Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := mysql.New(mysql.Config{Conn: mockDB, SkipInitializeWithVersion: true})
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	persist, err := NewSQLPersistence(gormDB, database.PoolConfig{MaxOpenConns: 5, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	store := New(DefaultConfig(), nil, persist, zap.NewNop(), nil)
	return store, mock, func() { mockDB.Close() }
}

func TestStore_StoreWritesThroughToSQLPersistence(t *testing.T) {
	s, mock, cleanup := newMockPersistStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT|REPLACE").WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Store(context.Background(), types.Pattern{ID: "p1", Confidence: 0.5})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_StorePropagatesSQLPersistenceFailure(t *testing.T) {
	s, mock, cleanup := newMockPersistStore(t)
	defer cleanup()

	mock.ExpectExec("INSERT|REPLACE").WillReturnError(assert.AnError)

	err := s.Store(context.Background(), types.Pattern{ID: "p1", Confidence: 0.5})
	assert.Equal(t, types.ErrStorage, types.KindOf(err))
}

func TestStore_LoadPopulatesFromSQLPersistence(t *testing.T) {
	s, mock, cleanup := newMockPersistStore(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "type", "domain", "content", "embedding", "confidence", "usage_count", "success_rate", "created_at", "updated_at"}).
		AddRow("p1", "security", "sast", "", nil, 0.7, int64(2), 0.5, time.Now(), time.Now())
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	n, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())

	p, err := s.Get(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 0.7, p.Confidence)
}

var _ = time.Now
