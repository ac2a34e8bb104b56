package siridb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigNoPathUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().ListenClientPort, cfg.ListenClientPort)
	assert.Equal(t, DefaultConfig().HeartbeatInterval, cfg.HeartbeatInterval)
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "siridb.conf")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_client_port = 9999
db_path = "/data/siridb"
enable_shard_compression = false
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.ListenClientPort)
	assert.Equal(t, "/data/siridb", cfg.DBPath)
	assert.False(t, cfg.EnableShardCompression)
	// untouched fields keep the compiled-in default
	assert.Equal(t, DefaultConfig().HTTPStatusPort, cfg.HTTPStatusPort)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "siridb.conf")
	require.NoError(t, os.WriteFile(path, []byte(`listen_client_port = 9999`), 0644))

	t.Setenv("SIRIDB_LISTEN_CLIENT_PORT", "7000")
	t.Setenv("SIRIDB_HEARTBEAT_INTERVAL", "60")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.ListenClientPort, "env must override the config file")
	assert.Equal(t, 60*time.Second, cfg.HeartbeatInterval)
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.conf"))
	assert.Error(t, err)
}
