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

func newSQLTestPersistence(t *testing.T) (*SQLPersistence, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := mysql.New(mysql.Config{Conn: mockDB, SkipInitializeWithVersion: true})
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	persist, err := NewSQLPersistence(gormDB, database.PoolConfig{MaxOpenConns: 5, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	return persist, mock, func() { mockDB.Close() }
}

func TestSQLPersistence_SaveUpsertsRow(t *testing.T) {
	persist, mock, cleanup := newSQLTestPersistence(t)
	defer cleanup()

	mock.ExpectExec("INSERT|REPLACE").WillReturnResult(sqlmock.NewResult(1, 1))

	err := persist.Save(context.Background(), types.Pattern{
		ID:         "p1",
		Type:       "security",
		Domain:     "sast",
		Confidence: 0.7,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	})
	require.NoError(t, err)
}

func TestSQLPersistence_DeleteRemovesRow(t *testing.T) {
	persist, mock, cleanup := newSQLTestPersistence(t)
	defer cleanup()

	mock.ExpectExec("DELETE").WillReturnResult(sqlmock.NewResult(0, 1))

	err := persist.Delete(context.Background(), "p1")
	require.NoError(t, err)
}

func TestSQLPersistence_LoadAllDecodesEmbedding(t *testing.T) {
	persist, mock, cleanup := newSQLTestPersistence(t)
	defer cleanup()

	embedding := encodeEmbedding([]float32{0.25, -0.5, 1})
	rows := sqlmock.NewRows([]string{"id", "type", "domain", "content", "embedding", "confidence", "usage_count", "success_rate", "created_at", "updated_at"}).
		AddRow("p1", "security", "sast", "", embedding, 0.7, int64(3), 0.6, time.Now(), time.Now())
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	patterns, err := persist.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "p1", patterns[0].ID)
	assert.Equal(t, []float32{0.25, -0.5, 1}, patterns[0].Embedding)
}

func TestEncodeDecodeEmbeddingRoundTrips(t *testing.T) {
	original := []float32{0.1, -2.5, 3.75, 0}
	assert.Equal(t, original, decodeEmbedding(encodeEmbedding(original)))
}

func TestEncodeEmbeddingNilForEmpty(t *testing.T) {
	assert.Nil(t, encodeEmbedding(nil))
	assert.Nil(t, decodeEmbedding(nil))
}
