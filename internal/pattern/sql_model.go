package pattern

import "time"

// sqlPattern is the GORM model backing the patterns table
// (internal/migration/migrations/sqlite/000002_patterns).
type sqlPattern struct {
	ID          string    `gorm:"column:id;primaryKey"`
	Type        string    `gorm:"column:type"`
	Domain      string    `gorm:"column:domain"`
	Content     string    `gorm:"column:content"`
	Embedding   []byte    `gorm:"column:embedding"`
	Confidence  float64   `gorm:"column:confidence"`
	UsageCount  int64     `gorm:"column:usage_count"`
	SuccessRate float64   `gorm:"column:success_rate"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (sqlPattern) TableName() string { return "patterns" }
