package domain_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Vovarama1992/clipvault/internal/domain"
	"github.com/Vovarama1992/clipvault/internal/infra"
	"github.com/Vovarama1992/clipvault/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	items map[string]models.MediaRecord
	gets  int
}

func (c *mapCache) Get(_ context.Context, token string) (*models.MediaRecord, error) {
	c.gets++
	rec, ok := c.items[token]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (c *mapCache) Set(_ context.Context, rec *models.MediaRecord) error {
	c.items[rec.PublicToken] = *rec
	return nil
}

func TestDeliveryService_Open(t *testing.T) {
	f := newFixture(t)
	body := []byte("0123456789abcdef")

	res, err := f.ingest.Ingest(context.Background(), validRequest(body), nil)
	require.NoError(t, err)

	content, err := f.deliver.Open(context.Background(), res.PublicToken)
	require.NoError(t, err)
	defer content.Content.Close()

	assert.Equal(t, int64(len(body)), content.Size)
	got, err := io.ReadAll(content.Content)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestDeliveryService_Resolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Insert(ctx, &models.MediaRecord{
		PublicToken:      "0a0b0c0d",
		Title:            "pending",
		OriginalFilename: "p.mp4",
		Status:           models.StatusPending,
	})
	require.NoError(t, err)

	t.Run("unknown token", func(t *testing.T) {
		_, err := f.deliver.Resolve(ctx, "ffffffff")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("malformed token", func(t *testing.T) {
		for _, tok := range []string{"", "abc", "0A0B0C0D", "../../etc", "0a0b0c0d0"} {
			_, err := f.deliver.Resolve(ctx, tok)
			require.ErrorIs(t, err, domain.ErrNotFound, tok)
		}
	})

	t.Run("not placed", func(t *testing.T) {
		_, err := f.deliver.Resolve(ctx, "0a0b0c0d")
		require.ErrorIs(t, err, domain.ErrNotReady)
		assert.NotErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestDeliveryService_FileMissingFromDisk(t *testing.T) {
	f := newFixture(t)

	res, err := f.ingest.Ingest(context.Background(), validRequest([]byte("gone soon")), nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(f.dir, *res.Record.StoragePath)))

	_, err = f.deliver.Open(context.Background(), res.PublicToken)
	require.ErrorIs(t, err, domain.ErrPersistence)
}

func TestDeliveryService_Cache(t *testing.T) {
	dir := t.TempDir()
	files, err := infra.NewLocalFileStore(dir, "")
	require.NoError(t, err)
	repo := infra.NewMemoryMediaRepo()
	f := newFixtureWith(t, dir, repo, repo, files)
	cache := &mapCache{items: map[string]models.MediaRecord{}}
	deliver := domain.NewDeliveryService(repo, cache, files, nopLogger())
	ctx := context.Background()

	res, err := f.ingest.Ingest(ctx, validRequest([]byte("cached")), nil)
	require.NoError(t, err)

	rec, err := deliver.Resolve(ctx, res.PublicToken)
	require.NoError(t, err)
	assert.Contains(t, cache.items, res.PublicToken)

	again, err := deliver.Resolve(ctx, res.PublicToken)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, again.ID)
	assert.Equal(t, 2, cache.gets)
}
