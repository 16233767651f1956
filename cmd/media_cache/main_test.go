package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/media_cache/internal/content"
	"github.com/italolelis/media_cache/internal/evict"
	"github.com/italolelis/media_cache/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRearmTimers(t *testing.T) {
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	defer db.Close()

	ledger := sqlite.NewContentRepository(db)
	ctx := context.Background()

	require.NoError(t, ledger.Insert(ctx, content.NewRecord(content.Key{MovieID: "m1", Source: "YTS"}, 1, "/data/a.mp4", "mp4")))
	require.NoError(t, ledger.Insert(ctx, content.NewRecord(content.Key{MovieID: "m2", Source: "POPCORN"}, 2, "/data/b.mkv", "mkv")))

	scheduler := evict.NewScheduler(ctx, time.Hour, func(ctx context.Context, key content.Key) error {
		return nil
	})
	defer scheduler.Shutdown()

	require.NoError(t, rearmTimers(ctx, ledger, scheduler))
	assert.Equal(t, 2, scheduler.Len(), "every surviving row gets a countdown")
}

func TestRearmTimers_EmptyLedger(t *testing.T) {
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	scheduler := evict.NewScheduler(ctx, time.Hour, func(ctx context.Context, key content.Key) error {
		return nil
	})
	defer scheduler.Shutdown()

	require.NoError(t, rearmTimers(ctx, sqlite.NewContentRepository(db), scheduler))
	assert.Equal(t, 0, scheduler.Len())
}
