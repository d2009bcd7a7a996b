package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.log")

	log, err := New(&Config{LogFile: path, MaxSize: 1, Debug: true})
	require.NoError(t, err)

	log.Debug("Transaction signed", zap.String("signature", "abc"))
	_ = Sync(log)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := strings.TrimSpace(string(data))
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "Transaction signed", entry["msg"])
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "abc", entry["signature"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewRespectsLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.log")

	log, err := New(&Config{LogFile: path, MaxSize: 1})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("shown")
	_ = Sync(log)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNewWithoutFile(t *testing.T) {
	log, err := New(&Config{Pretty: true})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestWithDispatch(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	log, id := WithDispatch(zap.New(core), "direct-priority", "high")
	WithComponent(log, "engine").Info("Submitting transaction")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, id.String(), fields["dispatch_id"])
	assert.Equal(t, "direct-priority", fields["mode"])
	assert.Equal(t, "high", fields["tier"])
	assert.Equal(t, "engine", fields["component"])
	assert.NotEqual(t, uuid.Nil, id)
}

func TestWithDispatchIDsAreUnique(t *testing.T) {
	_, a := WithDispatch(zap.NewNop(), "", "")
	_, b := WithDispatch(zap.NewNop(), "", "")
	assert.NotEqual(t, a, b)
}

func TestShortSignature(t *testing.T) {
	sig := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	assert.Equal(t, "5VERv8NM...diSZkQUW", ShortSignature(sig))
	assert.Equal(t, "short", ShortSignature("short"))
}
