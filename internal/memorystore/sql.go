package memorystore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/agentic-qe/fleet/internal/database"
	"github.com/agentic-qe/fleet/types"
)

// SQLStore is the durable Store backend: a GORM pool over the
// memory_entries table (modernc.org/sqlite in production, go-sqlmock in
// tests), matching the reference "local embedded database" persistence
// choice named in the configuration surface.
type SQLStore struct {
	pool   *database.PoolManager
	now    func() time.Time
	logger *zap.Logger
}

// NewSQLStore wraps an already-migrated *gorm.DB in connection pooling.
func NewSQLStore(db *gorm.DB, poolConfig database.PoolConfig, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := database.NewPoolManager(db, poolConfig, logger)
	if err != nil {
		return nil, types.Wrap(types.ErrStorage, "create pool manager", err)
	}
	return &SQLStore{
		pool:   pool,
		now:    time.Now,
		logger: logger.With(zap.String("component", "memorystore_sql")),
	}, nil
}

func (s *SQLStore) Store(ctx context.Context, partitionName, key string, value []byte, format, writer string, ttlSeconds int64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, types.Wrap(types.ErrCancelled, "store cancelled", err)
	}
	if key == "" {
		return 0, types.NewError(types.ErrValidation, "key is required")
	}

	now := s.now()
	var expiresAt *time.Time
	if ttlSeconds > 0 {
		t := now.Add(time.Duration(ttlSeconds) * time.Second)
		expiresAt = &t
	}

	var version uint64
	err := s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		var existing sqlMemoryEntry
		err := tx.Where("partition = ? AND key = ?", partitionName, key).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			version = 1
		case err != nil:
			return err
		default:
			version = existing.Version + 1
		}

		entry := sqlMemoryEntry{
			Partition: partitionName,
			Key:       key,
			Value:     value,
			Format:    format,
			Writer:    writer,
			Version:   version,
			ExpiresAt: expiresAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, types.Wrap(types.ErrStorage, "store failed", err)
	}
	return version, nil
}

func (s *SQLStore) Retrieve(ctx context.Context, partitionName, key string) (types.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return types.MemoryEntry{}, types.Wrap(types.ErrCancelled, "retrieve cancelled", err)
	}

	var row sqlMemoryEntry
	err := s.pool.DB().WithContext(ctx).Where("partition = ? AND key = ?", partitionName, key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.MemoryEntry{}, types.NewError(types.ErrNotFound, "key not found: "+key)
	}
	if err != nil {
		return types.MemoryEntry{}, types.Wrap(types.ErrStorage, "retrieve failed", err)
	}

	entry := toMemoryEntry(row)
	if entry.Expired(s.now()) {
		return types.MemoryEntry{}, types.NewError(types.ErrNotFound, "key not found: "+key)
	}
	return entry, nil
}

func (s *SQLStore) Query(ctx context.Context, partitionName, globPattern string) ([]types.MemoryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.Wrap(types.ErrCancelled, "query cancelled", err)
	}

	var rows []sqlMemoryEntry
	q := s.pool.DB().WithContext(ctx).Where("partition = ?", partitionName)
	if globPattern != "" && globPattern != "*" {
		q = q.Where("key LIKE ?", globToSQLLike(globPattern))
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, types.Wrap(types.ErrStorage, "query failed", err)
	}

	now := s.now()
	out := make([]types.MemoryEntry, 0, len(rows))
	for _, row := range rows {
		entry := toMemoryEntry(row)
		if !entry.Expired(now) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *SQLStore) StoreShared(ctx context.Context, ownerKind, key string, value []byte, format, writer string) (uint64, error) {
	return s.Store(ctx, types.PartitionFleet, ownerKind+"/"+key, value, format, writer, 0)
}

func (s *SQLStore) StoreEvent(ctx context.Context, event types.Event) error {
	if err := ctx.Err(); err != nil {
		return types.Wrap(types.ErrCancelled, "store_event cancelled", err)
	}
	key := eventKey(event)
	_, err := s.Store(ctx, types.PartitionEvents, key, []byte{}, "event", event.Source, 0)
	return err
}

func (s *SQLStore) Delete(ctx context.Context, partitionName, key string) error {
	if err := ctx.Err(); err != nil {
		return types.Wrap(types.ErrCancelled, "delete cancelled", err)
	}
	err := s.pool.DB().WithContext(ctx).Where("partition = ? AND key = ?", partitionName, key).Delete(&sqlMemoryEntry{}).Error
	if err != nil {
		return types.Wrap(types.ErrStorage, "delete failed", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.pool.Close() }

func toMemoryEntry(row sqlMemoryEntry) types.MemoryEntry {
	var ttl int64
	if row.ExpiresAt != nil {
		ttl = int64(row.ExpiresAt.Sub(row.CreatedAt) / time.Second)
		if ttl <= 0 {
			ttl = 1
		}
	}
	return types.MemoryEntry{
		Key:       row.Key,
		Partition: row.Partition,
		TTL:       ttl,
		Value:     row.Value,
		Format:    row.Format,
		Writer:    row.Writer,
		CreatedAt: row.CreatedAt,
		Version:   row.Version,
	}
}

// globToSQLLike turns a tail-wildcard glob ("security/*") into a SQL LIKE
// pattern; "*" maps to "%" and literal "%"/"_" are escaped.
func globToSQLLike(pattern string) string {
	out := make([]byte, 0, len(pattern)+4)
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*':
			out = append(out, '%')
		case '%', '_':
			out = append(out, '\\', pattern[i])
		default:
			out = append(out, pattern[i])
		}
	}
	return string(out)
}
