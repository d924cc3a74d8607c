package services

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestStore gives each test its own in-memory database with the full
// schema. A single connection keeps sqlite writes serialized under the
// concurrency tests.
func newTestStore(t *testing.T) *PostgresService {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	ds := &PostgresService{db: db}
	require.NoError(t, ds.migrate())

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return ds
}
