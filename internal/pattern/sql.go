package pattern

import (
	"context"
	"encoding/binary"
	"math"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/agentic-qe/fleet/internal/database"
	"github.com/agentic-qe/fleet/types"
)

// SQLPersistence is the canonical, durable backing for a Store: the same
// SQL backend (the patterns table) the memory store's SQLStore writes to,
// so learned patterns survive a process restart. A Store with a nil
// SQLPersistence keeps its in-memory map as the only copy.
type SQLPersistence struct {
	pool *database.PoolManager
}

// NewSQLPersistence wraps an already-migrated *gorm.DB in connection
// pooling for pattern reads and writes.
func NewSQLPersistence(db *gorm.DB, poolConfig database.PoolConfig, logger *zap.Logger) (*SQLPersistence, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := database.NewPoolManager(db, poolConfig, logger.With(zap.String("component", "pattern_sql")))
	if err != nil {
		return nil, types.Wrap(types.ErrStorage, "create pool manager", err)
	}
	return &SQLPersistence{pool: pool}, nil
}

// Save upserts one pattern row.
func (p *SQLPersistence) Save(ctx context.Context, pattern types.Pattern) error {
	row := sqlPattern{
		ID:          pattern.ID,
		Type:        pattern.Type,
		Domain:      pattern.Domain,
		Content:     pattern.Content,
		Embedding:   encodeEmbedding(pattern.Embedding),
		Confidence:  pattern.Confidence,
		UsageCount:  pattern.UsageCount,
		SuccessRate: pattern.SuccessRate,
		CreatedAt:   pattern.CreatedAt,
		UpdatedAt:   pattern.UpdatedAt,
	}
	if err := p.pool.DB().WithContext(ctx).Save(&row).Error; err != nil {
		return types.Wrap(types.ErrStorage, "save pattern failed", err)
	}
	return nil
}

// Delete removes one pattern row. Deleting an ID that is not present is
// not an error.
func (p *SQLPersistence) Delete(ctx context.Context, id string) error {
	if err := p.pool.DB().WithContext(ctx).Where("id = ?", id).Delete(&sqlPattern{}).Error; err != nil {
		return types.Wrap(types.ErrStorage, "delete pattern failed", err)
	}
	return nil
}

// LoadAll returns every persisted pattern, for populating a Store's
// in-memory map at startup.
func (p *SQLPersistence) LoadAll(ctx context.Context) ([]types.Pattern, error) {
	var rows []sqlPattern
	if err := p.pool.DB().WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, types.Wrap(types.ErrStorage, "load patterns failed", err)
	}

	out := make([]types.Pattern, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.Pattern{
			ID:          row.ID,
			Type:        row.Type,
			Domain:      row.Domain,
			Content:     row.Content,
			Embedding:   decodeEmbedding(row.Embedding),
			Confidence:  row.Confidence,
			UsageCount:  row.UsageCount,
			SuccessRate: row.SuccessRate,
			CreatedAt:   row.CreatedAt,
			UpdatedAt:   row.UpdatedAt,
		})
	}
	return out, nil
}

func (p *SQLPersistence) Close() error { return p.pool.Close() }

// encodeEmbedding packs a float32 embedding into the patterns table's
// BLOB column as a flat little-endian byte sequence.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	out := make([]byte, 4*len(embedding))
	for i, f := range embedding {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeEmbedding(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
