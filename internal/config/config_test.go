package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MICROSOFT_TENANT_ID", "tenant")
	t.Setenv("MICROSOFT_CLIENT_ID", "client")
	t.Setenv("MICROSOFT_CLIENT_SECRET", "secret")
	t.Setenv("MICROSOFT_USER_EMAIL", "bot@example.com")
	t.Setenv("MICROSOFT_USER_PASSWORD", "hunter2")
	t.Setenv("OPENPROJECT_URL", "https://op.example.com")
	t.Setenv("OPENPROJECT_TOKEN", "op-token")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, "/new-ticket", cfg.Graph.FolderPath)
	assert.Equal(t, "/new-ticket/archive", cfg.Graph.ArchivePath)
	assert.Equal(t, "/history-openproject.xlsx", cfg.Graph.WorkbookPath)
	assert.Equal(t, 6, cfg.OpenProject.TypeID)
	assert.Equal(t, time.Minute, cfg.Ingest.Interval())
	assert.Equal(t, 5*time.Minute, cfg.Queue.DrainInterval)
	assert.Equal(t, 5, cfg.Sheet.LockRetries)
	assert.Equal(t, "Asia/Singapore", cfg.Sheet.Timezone)
	assert.Equal(t, "bot@example.com", cfg.Graph.Username)
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("INTERVAL_CHECK", "3")
	t.Setenv("QUEUE_DRAIN_INTERVAL", "90s")
	t.Setenv("ONEDRIVE_FOLDER_PATH", "/inbox")
	t.Setenv("QUEUE_MAX_ATTEMPTS", "0")

	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, 3*time.Minute, cfg.Ingest.Interval())
	assert.Equal(t, 90*time.Second, cfg.Queue.DrainInterval)
	assert.Equal(t, "/inbox", cfg.Graph.FolderPath)
	assert.Equal(t, 0, cfg.Queue.MaxAttempts)
}

func TestLoad_FileThenEnv(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
logging:
  level: warn
  format: console
lookup:
  users:
    - name: A. Tan
      id: 42
    - name: Hanh Tran
      id: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	users := cfg.Lookup.UserIDs()
	assert.Equal(t, 42, users["A. Tan"])
	assert.Equal(t, 7, users["Hanh Tran"])
}

func TestLoad_MissingCredentials(t *testing.T) {
	t.Setenv("OPENPROJECT_URL", "https://op.example.com")

	_, err := load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestLoad_RejectsBadLogFormat(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LOG_FORMAT", "xml")

	_, err := load("")
	require.Error(t, err)
}
