package buffercfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingPathUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "buffer.db", cfg.Buffer.DBPath)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Buffer.DBPath = filepath.Join(t.TempDir(), "buffer.db")
	cfg.Buffer.WorkerThreads = 7
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Buffer.WorkerThreads)
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("schema_version: 1\nbogus_top_level_key: true\nbuffer:\n  db_path: buffer.db\n  max_size: 10\n  worker_threads: 1\n")
	require.NoError(t, os.WriteFile(path, data, 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("IOBRIDGE_DB_PATH", "/tmp/overridden.db")
	t.Setenv("IOBRIDGE_WORKER_THREADS", "9")
	t.Setenv("IOBRIDGE_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	assert.Equal(t, "/tmp/overridden.db", cfg.Buffer.DBPath)
	assert.Equal(t, 9, cfg.Buffer.WorkerThreads)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestGenerateExampleConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	require.NoError(t, GenerateExampleConfig(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Mappings, 1)
	assert.Equal(t, "sensores/temperatura/sala", cfg.Mappings[0].MQTTTopic)
	assert.Equal(t, "ns=2;s=Temperature.Room", cfg.Mappings[0].OPCUANode)
}
