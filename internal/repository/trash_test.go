package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/models"
)

func TestSoftDeleteRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	original, err := f.repo.Create(ctx, models.ContentItem{
		Title:    "Round trip",
		RemoteID: models.Int64(77),
		Status:   models.StatusPublished,
		Taxonomy: models.Taxonomy{Category: "news", Tags: []string{"a", "b"}},
	})
	require.NoError(t, err)

	f.tick()
	entry, err := f.repo.SoftDelete(ctx, original.LocalID)
	require.NoError(t, err)
	assert.NotEmpty(t, entry.TrashID)
	assert.Equal(t, f.now, entry.DeletedAt)

	_, err = f.repo.FindByLocalID(ctx, original.LocalID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	f.tick()
	restored, err := f.repo.Restore(ctx, entry.TrashID)
	require.NoError(t, err)

	assert.True(t, restored.Timestamps.UpdatedAt.After(original.Timestamps.UpdatedAt))

	// Equal to the original apart from updatedAt
	expected := original.Clone()
	expected.Timestamps.UpdatedAt = restored.Timestamps.UpdatedAt
	assert.Equal(t, expected, *restored)

	trash, err := f.repo.ListTrash(ctx)
	require.NoError(t, err)
	assert.Empty(t, trash)
}

func TestRestoreOverwritesSameLocalID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.repo.Create(ctx, models.ContentItem{Title: "Old title"})
	require.NoError(t, err)
	entry, err := f.repo.SoftDelete(ctx, item.LocalID)
	require.NoError(t, err)

	// Something re-creates the same local id meanwhile
	replacement := item.Clone()
	replacement.Title = "Newer title"
	items, err := f.repo.LoadAll(ctx)
	require.NoError(t, err)
	require.NoError(t, f.repo.SaveAll(ctx, append(items, replacement)))

	restored, err := f.repo.Restore(ctx, entry.TrashID)
	require.NoError(t, err)
	assert.Equal(t, "Old title", restored.Title)

	items, err = f.repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Old title", items[0].Title)
}

func TestRestoreRemoteIDConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.repo.Create(ctx, models.ContentItem{Title: "First", RemoteID: models.Int64(5)})
	require.NoError(t, err)
	entry, err := f.repo.SoftDelete(ctx, item.LocalID)
	require.NoError(t, err)

	_, err = f.repo.Create(ctx, models.ContentItem{Title: "Second", RemoteID: models.Int64(5)})
	require.NoError(t, err)

	_, err = f.repo.Restore(ctx, entry.TrashID)
	assert.ErrorIs(t, err, models.ErrRemoteIDConflict)

	trash, err := f.repo.ListTrash(ctx)
	require.NoError(t, err)
	assert.Len(t, trash, 1, "entry stays in trash")
}

func TestPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.repo.Create(ctx, models.ContentItem{Title: "Gone"})
	require.NoError(t, err)
	entry, err := f.repo.SoftDelete(ctx, item.LocalID)
	require.NoError(t, err)

	require.NoError(t, f.repo.Purge(ctx, entry.TrashID))
	assert.ErrorIs(t, f.repo.Purge(ctx, entry.TrashID), models.ErrNotFound)

	_, err = f.repo.Restore(ctx, entry.TrashID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSoftDeleteTwiceGetsDistinctTrashIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item, err := f.repo.Create(ctx, models.ContentItem{Title: "Again"})
	require.NoError(t, err)

	first, err := f.repo.SoftDelete(ctx, item.LocalID)
	require.NoError(t, err)
	_, err = f.repo.Restore(ctx, first.TrashID)
	require.NoError(t, err)
	second, err := f.repo.SoftDelete(ctx, item.LocalID)
	require.NoError(t, err)

	assert.NotEqual(t, first.TrashID, second.TrashID)

	_, err = f.repo.SoftDelete(ctx, item.LocalID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
