package creds_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/creds"
	"github.com/TheMichaelB/newsync/internal/crypto"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/models"
	"github.com/TheMichaelB/newsync/internal/storage"
)

func newStore(t *testing.T, secret string) (*creds.Store, *storage.MemoryStore, *crypto.Vault) {
	t.Helper()
	vault, err := crypto.NewVault(secret, crypto.WithIterations(1000))
	require.NoError(t, err)
	blobs := storage.NewMemoryStore()
	return creds.NewStore(blobs, vault, "credentials.json", "plugin.json", events.Discard()), blobs, vault
}

func TestSaveRemoteEncryptsEveryField(t *testing.T) {
	ctx := context.Background()
	store, blobs, vault := newStore(t, "master")

	require.NoError(t, store.SaveRemote(ctx, creds.RemoteCredentials{
		Username:            "editor",
		ApplicationPassword: "abcd efgh",
		DatabasePassword:    "db-pass",
	}))

	raw, err := blobs.Read(ctx, "credentials.json")
	require.NoError(t, err)
	var onDisk creds.RemoteCredentials
	require.NoError(t, json.Unmarshal(raw, &onDisk))

	assert.True(t, vault.IsEncrypted(onDisk.Username))
	assert.True(t, vault.IsEncrypted(onDisk.ApplicationPassword))
	assert.True(t, vault.IsEncrypted(onDisk.DatabasePassword))
	assert.NotContains(t, string(raw), "abcd efgh")

	loaded, err := store.LoadRemote(ctx)
	require.NoError(t, err)
	assert.Equal(t, "editor", loaded.Username)
	assert.Equal(t, "abcd efgh", loaded.ApplicationPassword)
}

func TestSaveRemoteDoesNotDoubleEncrypt(t *testing.T) {
	ctx := context.Background()
	store, blobs, vault := newStore(t, "master")

	enc, err := vault.EnsureEncrypted("editor")
	require.NoError(t, err)

	require.NoError(t, store.SaveRemote(ctx, creds.RemoteCredentials{Username: enc, ApplicationPassword: "pw"}))

	raw, _ := blobs.Read(ctx, "credentials.json")
	var onDisk creds.RemoteCredentials
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.Equal(t, enc, onDisk.Username)
}

func TestLoadRemoteSelfHealsPlaintext(t *testing.T) {
	ctx := context.Background()
	store, blobs, vault := newStore(t, "master")

	require.NoError(t, blobs.Write(ctx, "credentials.json",
		[]byte(`{"username":"editor","application_password":"plain-pw"}`), 0600))

	loaded, err := store.LoadRemote(ctx)
	require.NoError(t, err)
	assert.Equal(t, "plain-pw", loaded.ApplicationPassword)

	raw, _ := blobs.Read(ctx, "credentials.json")
	var onDisk creds.RemoteCredentials
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	assert.True(t, vault.IsEncrypted(onDisk.ApplicationPassword))
}

func TestLoadRemoteMissing(t *testing.T) {
	store, _, _ := newStore(t, "master")

	_, err := store.LoadRemote(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.KindConfigMissing, models.Classify(err))
}

func TestLoadRemoteWrongSecretIsConfigMissing(t *testing.T) {
	ctx := context.Background()
	writer, blobs, _ := newStore(t, "right")
	require.NoError(t, writer.SaveRemote(ctx, creds.RemoteCredentials{
		Username:            "editor-with-a-long-enough-name-for-the-check",
		ApplicationPassword: "application-password-long-enough-to-check",
	}))

	vault, err := crypto.NewVault("wrong", crypto.WithIterations(1000))
	require.NoError(t, err)
	reader := creds.NewStore(blobs, vault, "credentials.json", "plugin.json", events.Discard())

	_, err = reader.LoadRemote(ctx)
	require.Error(t, err)
	assert.Equal(t, models.KindConfigMissing, models.Classify(err))
}

func TestPluginSecret(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newStore(t, "master")

	plugin, err := store.LoadPlugin(ctx)
	require.NoError(t, err)
	assert.Nil(t, plugin, "absent plugin config")

	require.NoError(t, store.SavePlugin(ctx, creds.PluginSecret{APIKey: "k-123"}))
	require.NoError(t, store.SaveRemote(ctx, creds.RemoteCredentials{Username: "u", ApplicationPassword: "p"}))

	bundle, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, bundle.HasBasicAuth())
	assert.True(t, bundle.HasPlugin())
	assert.Equal(t, "k-123", bundle.Plugin.APIKey)

	require.NoError(t, store.Clear(ctx))
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, models.ErrConfigMissing)
}

func TestLoadPluginOnly(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newStore(t, "master")

	require.NoError(t, store.SavePlugin(ctx, creds.PluginSecret{APIKey: "k-9"}))

	bundle, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, bundle.HasBasicAuth())
	assert.True(t, bundle.HasPlugin())
}

type fakeSecrets struct {
	value *string
	err   error
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestMasterSecretFrom(t *testing.T) {
	ctx := context.Background()

	secret, err := creds.MasterSecretFrom(ctx, &fakeSecrets{value: aws.String("raw-secret")}, "newsync/master")
	require.NoError(t, err)
	assert.Equal(t, "raw-secret", secret)

	secret, err = creds.MasterSecretFrom(ctx, &fakeSecrets{value: aws.String(`{"master_secret":"json-secret"}`)}, "newsync/master")
	require.NoError(t, err)
	assert.Equal(t, "json-secret", secret)

	_, err = creds.MasterSecretFrom(ctx, &fakeSecrets{}, "newsync/master")
	assert.ErrorIs(t, err, models.ErrConfigMissing)

	_, err = creds.MasterSecretFrom(ctx, &fakeSecrets{err: errors.New("AccessDenied")}, "newsync/master")
	assert.Error(t, err)
}

func TestMasterSecretFromConfig(t *testing.T) {
	secret, err := creds.MasterSecret(context.Background(), config.SecurityConfig{MasterSecret: "inline"})
	require.NoError(t, err)
	assert.Equal(t, "inline", secret)

	_, err = creds.MasterSecret(context.Background(), config.SecurityConfig{})
	assert.ErrorIs(t, err, models.ErrConfigMissing)
}
