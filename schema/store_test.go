package schema

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMemoryRevisionStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRevisionStore(3)

	for v := uint64(1); v <= 5; v++ {
		require.NoError(t, store.Record(ctx, &Revision{Version: v, Checksum: "c", Status: StatusInstalled}))
	}

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(5), all[0].Version)
	assert.Equal(t, uint64(3), all[2].Version)
	assert.False(t, all[0].CreatedAt.IsZero())
	assert.Equal(t, uint(5), all[0].ID)

	two, err := store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func setupRevisionDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "revisions.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Revision{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestGormRevisionStore(t *testing.T) {
	ctx := context.Background()
	store := NewGormRevisionStore(setupRevisionDB(t))

	require.NoError(t, store.Record(ctx, &Revision{Version: 1, Checksum: Checksum("a"), Source: "/data/a", Status: StatusInstalled, SDLSize: 10}))
	require.NoError(t, store.Record(ctx, &Revision{Version: 2, Checksum: Checksum("b"), Source: "/data/a", Status: StatusRejected, Reason: "bad url"}))

	revs, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, uint64(2), revs[0].Version)
	assert.Equal(t, StatusRejected, revs[0].Status)
	assert.Equal(t, "bad url", revs[0].Reason)
	assert.Equal(t, 10, revs[1].SDLSize)

	one, err := store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}

func TestGormRevisionStore_WithReconciler(t *testing.T) {
	store := NewGormRevisionStore(setupRevisionDB(t))
	src := newMemSource(validSDL("v1"))
	r := startReconciler(t, src, WithRevisionStore(store))

	src.Set(validSDL("v2"))
	_, err := r.Reload(context.Background())
	require.NoError(t, err)

	revs, err := r.Revisions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, revs, 2)
	assert.Equal(t, Checksum(validSDL("v2")), revs[0].Checksum)
}

func TestRevision_TableName(t *testing.T) {
	assert.Equal(t, "schema_revisions", Revision{}.TableName())
}
