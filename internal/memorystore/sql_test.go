package memorystore

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

func newSQLTestStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := mysql.New(mysql.Config{Conn: mockDB, SkipInitializeWithVersion: true})
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	store, err := NewSQLStore(gormDB, database.PoolConfig{MaxOpenConns: 5, MaxIdleConns: 1}, zap.NewNop())
	require.NoError(t, err)

	return store, mock, func() { mockDB.Close() }
}

func TestSQLStore_StoreInsertsNewEntryAsVersionOne(t *testing.T) {
	store, mock, cleanup := newSQLTestStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT").WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectExec("INSERT|REPLACE").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	version, err := store.Store(context.Background(), "aqe", "security/baselines", []byte("x"), "json", "agent-1", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)
}

func TestSQLStore_StoreRejectsEmptyKey(t *testing.T) {
	store, _, cleanup := newSQLTestStore(t)
	defer cleanup()

	_, err := store.Store(context.Background(), "aqe", "", []byte("x"), "json", "w", 0)
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.KindOf(err))
}

func TestSQLStore_RetrieveMissingIsNotFound(t *testing.T) {
	store, mock, cleanup := newSQLTestStore(t)
	defer cleanup()

	mock.ExpectQuery("SELECT").WillReturnError(gorm.ErrRecordNotFound)

	_, err := store.Retrieve(context.Background(), "aqe", "missing")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestSQLStore_RetrieveExpiredIsNotFound(t *testing.T) {
	store, mock, cleanup := newSQLTestStore(t)
	defer cleanup()

	past := time.Now().Add(-time.Hour)
	rows := sqlmock.NewRows([]string{"partition", "key", "value", "format", "writer", "version", "expires_at", "created_at", "updated_at"}).
		AddRow("aqe", "k", []byte("v"), "json", "w", 1, past, past.Add(-time.Minute), past)
	mock.ExpectQuery("SELECT").WillReturnRows(rows)

	_, err := store.Retrieve(context.Background(), "aqe", "k")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.KindOf(err))
}

func TestSQLStore_DeleteFailurePropagatesAsStorageError(t *testing.T) {
	store, mock, cleanup := newSQLTestStore(t)
	defer cleanup()

	mock.ExpectExec("DELETE").WillReturnError(assertErr{})

	err := store.Delete(context.Background(), "aqe", "k")
	require.Error(t, err)
	assert.Equal(t, types.ErrStorage, types.KindOf(err))
}

func TestGlobToSQLLike(t *testing.T) {
	assert.Equal(t, "security/%", globToSQLLike("security/*"))
	assert.Equal(t, "%", globToSQLLike("*"))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
