package sync_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/remote"
	"github.com/TheMichaelB/newsync/internal/services/sync"
	"github.com/TheMichaelB/newsync/internal/state"
	"github.com/TheMichaelB/newsync/test/testutil"
)

func newService(t *testing.T, f *fixture) (*sync.Service, state.Store) {
	t.Helper()
	store, err := state.NewJSONStore(t.TempDir(), testutil.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return sync.NewService(f.engine, store, "news.example.org", testutil.NewTestLogger()), store
}

func sinceIs(want *time.Time) interface{} {
	return mock.MatchedBy(func(filter remote.PullFilter) bool {
		if want == nil {
			return filter.ModifiedAfter == nil
		}
		return filter.ModifiedAfter != nil && filter.ModifiedAfter.Equal(*want)
	})
}

func TestServiceUsesCheckpointForIncrementalPull(t *testing.T) {
	f := newFixture(t)
	svc, store := newService(t, f)
	ctx := context.Background()

	f.remote.On("Pull", mock.Anything, sinceIs(nil)).Return([]models.RemoteItem{testutil.RemoteNews(1, "First")}, nil).Once()
	first, err := svc.Sync(ctx, sync.Request{Direction: models.DirectionPull}, sync.SyncOptions{})
	require.NoError(t, err)
	require.NotNil(t, first.LastSyncDate)

	cp, err := store.Load(ctx, "news.example.org")
	require.NoError(t, err)
	assert.Equal(t, first.RunID, cp.LastRunID)
	assert.Equal(t, models.OutcomeSuccess, cp.LastOutcome)
	assert.Equal(t, 1, cp.Pulled)

	f.tick()
	f.remote.On("Pull", mock.Anything, sinceIs(first.LastSyncDate)).Return([]models.RemoteItem{}, nil).Once()
	_, err = svc.Sync(ctx, sync.Request{Direction: models.DirectionPull}, sync.SyncOptions{})
	require.NoError(t, err)

	f.tick()
	f.remote.On("Pull", mock.Anything, sinceIs(nil)).Return([]models.RemoteItem{}, nil).Once()
	_, err = svc.Sync(ctx, sync.Request{Direction: models.DirectionPull}, sync.SyncOptions{Full: true})
	require.NoError(t, err)

	f.remote.AssertExpectations(t)
}

func TestServiceKeepsSyncDateAfterFailure(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f)
	ctx := context.Background()

	f.remote.On("Pull", mock.Anything, mock.Anything).Return([]models.RemoteItem{}, nil).Once()
	ok, err := svc.Sync(ctx, sync.Request{Direction: models.DirectionPull}, sync.SyncOptions{})
	require.NoError(t, err)

	f.tick()
	f.remote.On("Pull", mock.Anything, mock.Anything).Return(nil, &models.APIError{Code: "HTTP_500", StatusCode: 500}).Once()
	failed, err := svc.Sync(ctx, sync.Request{Direction: models.DirectionPull}, sync.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, failed.Outcome())

	cp, err := svc.Checkpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, cp.LastSyncAt)
	assert.Equal(t, *ok.LastSyncDate, *cp.LastSyncAt)
	assert.Equal(t, models.OutcomeFailed, cp.LastOutcome)
	assert.NotEmpty(t, cp.LastError)
}

func TestServiceReset(t *testing.T) {
	f := newFixture(t)
	svc, _ := newService(t, f)
	ctx := context.Background()

	require.NoError(t, svc.Reset(ctx), "reset without checkpoint")

	f.remote.On("Pull", mock.Anything, mock.Anything).Return([]models.RemoteItem{}, nil).Once()
	_, err := svc.Sync(ctx, sync.Request{Direction: models.DirectionPull}, sync.SyncOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.Reset(ctx))
	cp, err := svc.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Nil(t, cp.LastSyncAt)
	assert.Equal(t, "news.example.org", cp.Site)
}
