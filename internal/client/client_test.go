package client_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/client"
	"github.com/TheMichaelB/newsync/internal/creds"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/services/sync"
	"github.com/TheMichaelB/newsync/test/testutil"
)

func TestNewWiresComponents(t *testing.T) {
	cms := testutil.NewFakeCMS()
	defer cms.Close()

	cfg := testutil.TestConfigWithDir(t.TempDir(), cms.URL)
	c, err := client.New(context.Background(), cfg, testutil.NewTestLogger())
	require.NoError(t, err)
	defer c.Close()

	assert.Same(t, cfg, c.Config())
	assert.Contains(t, c.Sync.Site(), "127.0.0.1")

	ctx := testutil.TestContext(t)
	require.NoError(t, c.Creds.SaveRemote(ctx, creds.RemoteCredentials{
		Username:            testutil.FakeUsername,
		ApplicationPassword: testutil.FakePassword,
	}))
	require.NoError(t, c.Creds.SavePlugin(ctx, creds.PluginSecret{APIKey: testutil.FakeAPIKey}))

	cms.SetNextID(102)
	_, err = c.Repo.Create(ctx, testutil.LocalDraft("Hello"))
	require.NoError(t, err)

	result, err := c.Sync.Sync(ctx, sync.DefaultRequest(), sync.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSuccess, result.Outcome())
	assert.Equal(t, 1, result.Pushed)

	items, err := c.Repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(102), items[0].RemoteKey())

	backups, err := c.Backups.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, backups, "repository was not empty at run start")
}

func TestNewWithoutMasterSecret(t *testing.T) {
	cfg := testutil.TestConfigWithDir(t.TempDir(), "http://127.0.0.1:1")
	cfg.Security.MasterSecret = ""

	c, err := client.New(context.Background(), cfg, testutil.NewTestLogger())
	require.NoError(t, err, "local operations stay available")
	defer c.Close()

	ctx := context.Background()
	items, err := c.Repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	err = c.Creds.SaveRemote(ctx, creds.RemoteCredentials{Username: "u", ApplicationPassword: "p"})
	assert.ErrorIs(t, err, models.ErrConfigMissing)

	result, err := c.Sync.Sync(ctx, sync.DefaultRequest(), sync.SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, result.Outcome())
	assert.Equal(t, models.KindConfigMissing, result.ErrorKind)
}
