package memorystore

import "time"

// sqlMemoryEntry is the GORM model backing the memory_entries table
// (internal/migration/migrations/sqlite/000001_memory_entries).
type sqlMemoryEntry struct {
	Partition string `gorm:"column:partition;primaryKey"`
	Key       string `gorm:"column:key;primaryKey"`
	Value     []byte `gorm:"column:value"`
	Format    string `gorm:"column:format"`
	Writer    string `gorm:"column:writer"`
	Version   uint64 `gorm:"column:version"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
}

func (sqlMemoryEntry) TableName() string { return "memory_entries" }
