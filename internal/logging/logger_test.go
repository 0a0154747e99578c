package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormatBuildsLogger(t *testing.T) {
	logger, err := New(Config{Level: "info", Format: "json", Output: "stdout", Component: "test"})
	require.NoError(t, err)
	assert.NotNil(t, logger.Logger)
}

func TestNew_DefaultsWhenFieldsEmpty(t *testing.T) {
	logger, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "bridge", logger.component)
}

func TestWithComponent_ScopesWithoutMutatingParent(t *testing.T) {
	var buf bytes.Buffer
	base := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil)).With("component", "bridge"), component: "bridge"}
	scoped := base.WithComponent("store")

	scoped.Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "store", entry["component"])
	assert.Equal(t, "bridge", base.component)
}

func TestWithFields_AttachesKeyValuePairs(t *testing.T) {
	var buf bytes.Buffer
	base := &Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil)), component: "bridge"}
	scoped := base.WithFields("message_id", int64(42))

	scoped.Info("enqueued")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(42), entry["message_id"])
}

func TestGlobal_FallsBackWithoutInitialize(t *testing.T) {
	assert.NotNil(t, Global())
}
