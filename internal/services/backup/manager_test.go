package backup_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/repository"
	"github.com/TheMichaelB/newsync/internal/services/backup"
	"github.com/TheMichaelB/newsync/internal/storage"
)

type fixture struct {
	repo    *repository.Repository
	backups *storage.MemoryStore
	manager *backup.Manager
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	f := &fixture{
		backups: storage.NewMemoryStore(),
		now:     time.Date(2026, 4, 2, 8, 15, 30, 0, time.UTC),
	}
	f.repo = repository.New(storage.NewMemoryStore(), "news.json", "trash.json", logger)
	f.repo.SetClock(func() time.Time { return f.now })

	f.manager = backup.NewManager(f.repo, f.backups, config.DefaultConfig().Backup, logger)
	f.manager.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) tick() {
	f.now = f.now.Add(time.Second)
}

func (f *fixture) create(t *testing.T, title string, remoteID *int64) *models.ContentItem {
	t.Helper()
	item, err := f.repo.Create(context.Background(), models.ContentItem{Title: title, RemoteID: remoteID})
	require.NoError(t, err)
	return item
}

func TestFileNameRoundTrip(t *testing.T) {
	at := time.Date(2026, 4, 2, 8, 15, 30, 123000000, time.UTC)

	name := backup.FileName(models.BackupPrePush, at)
	assert.Equal(t, "news-backup-pre-push-20260402T081530.123Z.json", name)

	kind, parsed, err := backup.ParseFileName(name)
	require.NoError(t, err)
	assert.Equal(t, models.BackupPrePush, kind)
	assert.True(t, at.Equal(parsed))

	for _, bad := range []string{"news.json", "news-backup-auto.json", "news-backup-weird-20260402T081530.123Z.json"} {
		_, _, err := backup.ParseFileName(bad)
		assert.ErrorIs(t, err, backup.ErrInvalidBackupName, bad)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "Spring fair", nil)
	f.create(t, "Summer fair", models.Int64(4))

	trashed := f.create(t, "Old post", nil)
	_, err := f.repo.SoftDelete(ctx, trashed.LocalID)
	require.NoError(t, err)

	info, err := f.manager.Snapshot(ctx, models.BackupManual)
	require.NoError(t, err)
	assert.Equal(t, "news-backup-manual-20260402T081530.000Z.json", info.Name)

	bundle, err := f.manager.Load(ctx, info.Name)
	require.NoError(t, err)
	assert.Equal(t, models.BundleVersion, bundle.Version)
	assert.Equal(t, models.BackupManual, bundle.Kind)
	assert.Equal(t, 2, bundle.Count, "trash is not part of a snapshot")
	assert.Len(t, bundle.Items, 2)
}

func TestSnapshotSameInstantGetsDistinctNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Snapshot(ctx, models.BackupManual)
	require.NoError(t, err)
	second, err := f.manager.Snapshot(ctx, models.BackupManual)
	require.NoError(t, err)

	assert.NotEqual(t, first.Name, second.Name)
}

func TestRetention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var names []string
	for i := 0; i < 12; i++ {
		kind := models.BackupAuto
		if i%3 == 0 {
			kind = models.BackupPrePush
		}
		info, err := f.manager.Snapshot(ctx, kind)
		require.NoError(t, err)
		names = append(names, info.Name)
		f.tick()
	}
	for i := 0; i < 7; i++ {
		_, err := f.manager.Snapshot(ctx, models.BackupPreDeploy)
		require.NoError(t, err)
		f.tick()
	}
	for i := 0; i < 3; i++ {
		_, err := f.manager.Snapshot(ctx, models.BackupManual)
		require.NoError(t, err)
		f.tick()
	}

	all, err := f.manager.List(ctx)
	require.NoError(t, err)

	counts := map[models.BackupKind]int{}
	for _, b := range all {
		counts[b.Kind.RetentionClass()]++
	}
	assert.Equal(t, 10, counts[models.BackupAuto], "auto and pre-push share the auto budget")
	assert.Equal(t, 5, counts[models.BackupPreDeploy])
	assert.Equal(t, 3, counts[models.BackupManual], "manual snapshots are never pruned")

	// Oldest two automatic snapshots are gone.
	for _, gone := range names[:2] {
		exists, err := f.backups.Exists(ctx, gone)
		require.NoError(t, err)
		assert.False(t, exists, gone)
	}
	exists, err := f.backups.Exists(ctx, names[2])
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListOrdersByTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Snapshot(ctx, models.BackupPreDeploy)
	require.NoError(t, err)
	f.tick()
	_, err = f.manager.Snapshot(ctx, models.BackupAuto)
	require.NoError(t, err)

	require.NoError(t, f.backups.Write(ctx, "notes.txt", []byte("x"), 0600))

	all, err := f.manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.BackupPreDeploy, all[0].Kind)
	assert.Equal(t, models.BackupAuto, all[1].Kind)
}

func TestRestoreReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "Kept in bundle", nil)
	info, err := f.manager.Snapshot(ctx, models.BackupManual)
	require.NoError(t, err)
	f.tick()

	f.create(t, "Added after snapshot", nil)

	result, err := f.manager.RestoreNamed(ctx, info.Name, backup.StrategyReplace)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.NotEmpty(t, result.SafetyRef)

	items, err := f.repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Kept in bundle", items[0].Title)

	safety, err := f.manager.Load(ctx, result.SafetyRef)
	require.NoError(t, err)
	assert.Equal(t, models.BackupPreRestore, safety.Kind)
	assert.Equal(t, 2, safety.Count, "pre-restore snapshot holds the state before replace")
}

func TestRestoreMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, "Alpha", models.Int64(10))
	b := f.create(t, "Beta", nil)

	info, err := f.manager.Snapshot(ctx, models.BackupManual)
	require.NoError(t, err)
	bundle, err := f.manager.Load(ctx, info.Name)
	require.NoError(t, err)
	f.tick()

	// Alpha edited locally, Beta unchanged, Gamma new and unrelated.
	newTitle := "Alpha edited"
	_, err = f.repo.Update(ctx, a.LocalID, repository.Patch{Title: &newTitle})
	require.NoError(t, err)
	f.create(t, "Gamma", nil)
	f.tick()

	// A bundle item that only matches by remote id.
	byRemote := bundle.Items[0].Clone()
	byRemote.LocalID = "from-other-machine"
	byRemote.Title = "Alpha from elsewhere"
	bundle.Items = append(bundle.Items, byRemote)

	result, err := f.manager.Restore(ctx, bundle, backup.StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, 2, result.Replaced)
	assert.Equal(t, 1, result.Skipped)

	items, err := f.repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 3, "unrelated items are kept")

	got, err := f.repo.FindByRemoteID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, a.LocalID, got.LocalID)
	assert.Equal(t, "Alpha from elsewhere", got.Title)
	assert.True(t, got.Sync.Dirty)
	assert.False(t, got.Timestamps.UpdatedAt.Before(f.now))

	unchanged, err := f.repo.FindByLocalID(ctx, b.LocalID)
	require.NoError(t, err)
	assert.Equal(t, b.Timestamps.UpdatedAt, unchanged.Timestamps.UpdatedAt)
}

func TestRestoreMergeAddsMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.create(t, "Only item", models.Int64(3))
	info, err := f.manager.Snapshot(ctx, models.BackupAuto)
	require.NoError(t, err)

	require.NoError(t, f.repo.Clear(ctx, repository.ScopeMain))

	result, err := f.manager.RestoreNamed(ctx, info.Name, backup.StrategyMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)

	got, err := f.repo.FindByRemoteID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Only item", got.Title)
}

func TestLoadMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Load(context.Background(), backup.FileName(models.BackupAuto, f.now))
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.manager.Load(context.Background(), "../news.json")
	assert.ErrorIs(t, err, backup.ErrInvalidBackupName)
}

func TestSnapshotWriteFailure(t *testing.T) {
	f := newFixture(t)
	f.backups.FailWrites(errors.New("disk full"))

	_, err := f.manager.Snapshot(context.Background(), models.BackupManual)
	require.Error(t, err)
	assert.Equal(t, models.KindLocalPersist, models.Classify(err))
}

func TestClear(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.manager.Snapshot(ctx, models.BackupManual)
		require.NoError(t, err)
		f.tick()
	}

	n, err := f.manager.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	all, err := f.manager.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
