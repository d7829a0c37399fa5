package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mirrorbackup/rtbackup/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
batchUploadConsolidationDelay: 30s
remoteFileStateCachePath: /var/lib/rtbackupd/cache
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.BatchUploadConsolidationDelay)
	require.Equal(t, "/var/lib/rtbackupd/cache", cfg.RemoteFileStateCachePath)
	require.Equal(t, filepath.Join(cfg.RemoteFileStateCachePath, "batches"), cfg.BatchesPath())
	require.Equal(t, filepath.Join(cfg.RemoteFileStateCachePath, "ActionQueue"), cfg.ActionQueuePath())
}

func TestLoadMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `
batchUploadConsolidationDelay: 30s
`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadNonPositiveDelay(t *testing.T) {
	path := writeConfig(t, `
batchUploadConsolidationDelay: 0s
remoteFileStateCachePath: /var/lib/rtbackupd/cache
`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
