package testutil

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/remote"
)

// MockRemote is a testify mock of the CMS client as the sync engine sees it.
type MockRemote struct {
	mock.Mock
}

// NewMockRemote creates a mock whose credential refresh succeeds.
func NewMockRemote() *MockRemote {
	m := &MockRemote{}
	m.On("RefreshCredentials", mock.Anything).Return(nil).Maybe()
	return m
}

// RefreshCredentials implements the engine's Remote.
func (m *MockRemote) RefreshCredentials(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Pull implements the engine's Remote.
func (m *MockRemote) Pull(ctx context.Context, filter remote.PullFilter) ([]models.RemoteItem, error) {
	args := m.Called(ctx, filter)
	items, _ := args.Get(0).([]models.RemoteItem)
	return items, args.Error(1)
}

// Push implements the engine's Remote.
func (m *MockRemote) Push(ctx context.Context, item *models.ContentItem, mode models.PushMode) (*models.PushResult, error) {
	args := m.Called(ctx, item, mode)
	res, _ := args.Get(0).(*models.PushResult)
	return res, args.Error(1)
}

// PushTitled matches a push of the item with the given title.
func PushTitled(title string) interface{} {
	return mock.MatchedBy(func(item *models.ContentItem) bool {
		return item != nil && item.Title == title
	})
}

// Acked is a successful push reply.
func Acked(remoteID int64) *models.PushResult {
	return &models.PushResult{RemoteID: remoteID, Channel: remote.ChannelPlugin}
}

// RecordingSnapshotter counts snapshot requests by kind.
type RecordingSnapshotter struct {
	mu    sync.Mutex
	kinds []models.BackupKind
	Err   error
}

// Snapshot records kind.
func (r *RecordingSnapshotter) Snapshot(ctx context.Context, kind models.BackupKind) (*models.BackupInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	r.kinds = append(r.kinds, kind)
	return &models.BackupInfo{Name: "snapshot-" + string(kind), Kind: kind}, nil
}

// Kinds returns the recorded kinds in order.
func (r *RecordingSnapshotter) Kinds() []models.BackupKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.BackupKind(nil), r.kinds...)
}
