// Package testutil holds shared helpers for package tests. It requires no
// external services: the database is an in-memory SQLite instance and the
// cache is the in-process implementation.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/lumahq/campusquest/server/cache"
	"github.com/lumahq/campusquest/server/config"
	dbadapter "github.com/lumahq/campusquest/server/db"
	"github.com/lumahq/campusquest/server/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// SetupTestDB opens a uniquely named in-memory SQLite database and runs
// AutoMigrate. Each call gets its own database, so parallel tests never
// share state.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode:       dbadapter.ModeSQLite,
		SQLitePath: path,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	return db
}

// SetupTestCache returns the in-process cache and pub/sub (no Redis needed).
func SetupTestCache(t *testing.T) (cache.Cache, cache.PubSub) {
	t.Helper()
	var cfg config.CacheConfig // empty RedisAddr → local implementations
	c, err := cache.NewCache(cfg)
	require.NoError(t, err, "SetupTestCache: NewCache")
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	t.Cleanup(func() {
		if closer, ok := c.(interface{ Close() }); ok {
			closer.Close()
		}
	})
	return c, ps
}
