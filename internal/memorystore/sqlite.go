package memorystore

import (
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/agentic-qe/fleet/types"
)

// OpenSQLite opens a production SQLStore backing file via the CGO-free
// glebarez/sqlite GORM dialector (itself a wrapper over modernc.org/
// sqlite, the same driver internal/migration registers under
// database/sql for schema migrations).
func OpenSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, types.Wrap(types.ErrStorage, "open sqlite database", err)
	}
	return db, nil
}
