package infra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Vovarama1992/clipvault/internal/domain"
	"github.com/Vovarama1992/clipvault/internal/models"
	"github.com/Vovarama1992/clipvault/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepository runs the behaviour every MediaRepository must share.
func testRepository(t *testing.T, repo ports.MediaRepository) {
	ctx := context.Background()
	loc := "Dock 9"
	start := time.Date(2024, 3, 10, 18, 0, 0, 0, time.UTC)

	id, err := repo.Insert(ctx, &models.MediaRecord{
		PublicToken:      "1a2b3c4d",
		Title:            "sunset",
		Location:         &loc,
		StartTime:        start,
		OriginalFilename: "sunset.mp4",
		Status:           models.StatusPending,
	})
	require.NoError(t, err)
	require.Positive(t, id)

	t.Run("find pending", func(t *testing.T) {
		rec, err := repo.FindByToken(ctx, "1a2b3c4d")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, id, rec.ID)
		assert.Equal(t, "sunset", rec.Title)
		require.NotNil(t, rec.Location)
		assert.Equal(t, loc, *rec.Location)
		assert.True(t, start.Equal(rec.StartTime))
		assert.Nil(t, rec.StoragePath)
		assert.Equal(t, models.StatusPending, rec.Status)
		assert.False(t, rec.Placed())
	})

	t.Run("find absent", func(t *testing.T) {
		rec, err := repo.FindByToken(ctx, "ffffffff")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("duplicate token", func(t *testing.T) {
		_, err := repo.Insert(ctx, &models.MediaRecord{
			PublicToken:      "1a2b3c4d",
			Title:            "again",
			StartTime:        start,
			OriginalFilename: "again.mov",
		})
		require.ErrorIs(t, err, domain.ErrTokenConflict)
	})

	t.Run("orphans", func(t *testing.T) {
		orphans, err := repo.ListOrphans(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, orphans, 1)
		assert.Equal(t, id, orphans[0].ID)

		orphans, err = repo.ListOrphans(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, orphans)
	})

	t.Run("set storage path once", func(t *testing.T) {
		require.NoError(t, repo.SetStoragePath(ctx, id, "1.mp4"))
		require.Error(t, repo.SetStoragePath(ctx, id, "other.mp4"))

		rec, err := repo.FindByToken(ctx, "1a2b3c4d")
		require.NoError(t, err)
		require.NotNil(t, rec.StoragePath)
		assert.Equal(t, "1.mp4", *rec.StoragePath)
		assert.True(t, rec.Placed())

		require.Error(t, repo.MarkFailed(ctx, id), "placed records cannot fail")
	})

	t.Run("mark failed", func(t *testing.T) {
		failedID, err := repo.Insert(ctx, &models.MediaRecord{
			PublicToken:      "99999999",
			Title:            "broken",
			StartTime:        start,
			OriginalFilename: "broken.mp4",
			Status:           models.StatusPending,
		})
		require.NoError(t, err)
		require.NotEqual(t, id, failedID)

		require.NoError(t, repo.MarkFailed(ctx, failedID))
		require.Error(t, repo.SetStoragePath(ctx, failedID, "late.mp4"))

		rec, err := repo.FindByToken(ctx, "99999999")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, rec.Status)
		assert.False(t, rec.Placed())

		orphans, err := repo.ListOrphans(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, orphans)
	})

	t.Run("concurrent inserts of one token", func(t *testing.T) {
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok        int
			conflicts int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Insert(ctx, &models.MediaRecord{
					PublicToken:      "abcdef01",
					Title:            "race",
					StartTime:        start,
					OriginalFilename: "race.mp4",
					Status:           models.StatusPending,
				})
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					ok++
				} else if assert.ErrorIs(t, err, domain.ErrTokenConflict) {
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, 7, conflicts)
	})

	require.NoError(t, repo.Ping(ctx))
}
