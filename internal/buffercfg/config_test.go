package buffercfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.DBPath = filepath.Join(t.TempDir(), "buffer.db")
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadSchemaVersion(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.DBPath = filepath.Join(t.TempDir(), "buffer.db")
	cfg.SchemaVersion = 99
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate_RejectsBackwardsBackoffWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.DBPath = filepath.Join(t.TempDir(), "buffer.db")
	cfg.Buffer.BaseBackoffS = 10
	cfg.Buffer.MaxBackoffS = 1
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_RejectsUnknownMappingDirection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.DBPath = filepath.Join(t.TempDir(), "buffer.db")
	cfg.Mappings = []MappingEntry{{MQTTTopic: "a/b", OPCUANode: "ns=1;s=X", Direction: "sideways"}}
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidate_SAPEnabledRequiresURLs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.DBPath = filepath.Join(t.TempDir(), "buffer.db")
	cfg.SAP.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)

	cfg.SAP.BaseURL = "https://sap.example.com"
	cfg.SAP.TokenURL = "https://sap.example.com/oauth/token"
	require.NoError(t, cfg.Validate())
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Buffer.LeaseDurationS = 30
	cfg.Buffer.MessageTTLMinutes = 1.5
	cfg.Buffer.RetentionDays = 2

	assert.Equal(t, int64(30e9), cfg.LeaseDuration().Nanoseconds())
	assert.Equal(t, int64(90e9), cfg.MessageTTL().Nanoseconds())
	assert.Equal(t, int64(48*3600e9), cfg.Retention().Nanoseconds())
}

func TestValidateDirectoryWritable_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "path")
	require.NoError(t, validateDirectoryWritable(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
