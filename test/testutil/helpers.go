package testutil

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/newsync/internal/config"
	"github.com/TheMichaelB/newsync/internal/creds"
	"github.com/TheMichaelB/newsync/internal/crypto"
	"github.com/TheMichaelB/newsync/internal/events"
	"github.com/TheMichaelB/newsync/internal/storage"
)

// TestMasterSecret unlocks credentials written by SeedCredentials.
const TestMasterSecret = "test-master-secret"

// LogEntry represents a captured log entry for testing
type LogEntry struct {
	Level   string                 `json:"level"`
	Message string                 `json:"msg"`
	Time    time.Time              `json:"time"`
	Fields  map[string]interface{} `json:"-"`
}

// TestContext returns a context bounded for tests.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestConfigWithDir returns a configuration rooted at dataDir and pointed
// at baseURL, with short timeouts and retry delay.
func TestConfigWithDir(dataDir, baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Remote.BaseURL = baseURL
	cfg.Remote.RESTPrefix = RESTPrefix
	cfg.Remote.PluginEndpoint = PluginEndpoint
	cfg.Remote.PluginAction = PluginAction
	cfg.Remote.PullTimeout = 2 * time.Second
	cfg.Remote.PushTimeout = 2 * time.Second
	cfg.Remote.LightTimeout = time.Second
	cfg.Remote.RetryDelay = 10 * time.Millisecond
	cfg.Security.MasterSecret = TestMasterSecret
	cfg.Security.KDFIterations = 1000
	cfg.Storage.DataDir = dataDir
	cfg.Storage.BackupDir = filepath.Join(dataDir, "backups")
	cfg.State.Path = filepath.Join(dataDir, "state")
	cfg.Log.Level = "debug"
	return cfg
}

// TestVault creates a vault with a cheap key derivation.
func TestVault(t *testing.T) *crypto.Vault {
	t.Helper()
	v, err := crypto.NewVault(TestMasterSecret, crypto.WithIterations(1000))
	require.NoError(t, err)
	return v
}

// NewCredentialStore opens a credential store over blobs using the test vault.
func NewCredentialStore(t *testing.T, blobs storage.BlobStore) *creds.Store {
	t.Helper()
	return creds.NewStore(blobs, TestVault(t), "credentials.json", "plugin.json", events.Discard())
}

// SeedCredentials stores the fake CMS credentials. Either half may be
// skipped to simulate a partially configured site.
func SeedCredentials(t *testing.T, store *creds.Store, rest, plugin bool) {
	t.Helper()
	ctx := context.Background()
	if rest {
		require.NoError(t, store.SaveRemote(ctx, creds.RemoteCredentials{
			Username:            FakeUsername,
			ApplicationPassword: FakePassword,
		}))
	}
	if plugin {
		require.NoError(t, store.SavePlugin(ctx, creds.PluginSecret{APIKey: FakeAPIKey}))
	}
}

// WaitForCondition polls condition until it holds or timeout passes.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", timeout, message)
}

// LogOutput captures JSON log lines.
type LogOutput struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogOutput creates an empty capture.
func NewLogOutput() *LogOutput {
	return &LogOutput{}
}

// Logger returns a debug logger writing into the capture.
func (lo *LogOutput) Logger() *events.Logger {
	return events.NewTestLogger(events.DebugLevel, "json", lo)
}

func (lo *LogOutput) Write(p []byte) (n int, err error) {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	return lo.buf.Write(p)
}

// Entries parses captured lines; unparseable lines are skipped.
func (lo *LogOutput) Entries() []LogEntry {
	lo.mu.Lock()
	data := append([]byte(nil), lo.buf.Bytes()...)
	lo.mu.Unlock()

	var entries []LogEntry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var fields map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &fields); err != nil {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		entry.Fields = fields
		entries = append(entries, entry)
	}
	return entries
}

// HasMessage reports whether any entry's message contains message.
func (lo *LogOutput) HasMessage(message string) bool {
	for _, e := range lo.Entries() {
		if strings.Contains(e.Message, message) {
			return true
		}
	}
	return false
}

// String returns the raw capture.
func (lo *LogOutput) String() string {
	lo.mu.Lock()
	defer lo.mu.Unlock()
	return lo.buf.String()
}
