package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(DebugLevel, "json", &buf)

	logger.WithComponent("sync_queue").
		WithField("entity", "product").
		WithError(errors.New("http 500")).
		Warn("Mutation failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "Mutation failed", entry["msg"])
	assert.Equal(t, "sync_queue", entry["component"])
	assert.Equal(t, "product", entry["entity"])
	assert.Equal(t, "http 500", entry["error"])
	assert.NotEmpty(t, entry["time"])
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(DebugLevel, "text", &buf)

	logger.WithFields(map[string]interface{}{
		"b_second": 2,
		"a_first":  1,
	}).Info("Hello")

	assert.Contains(t, buf.String(), "[INFO] Hello")
	assert.Less(t,
		bytes.Index(buf.Bytes(), []byte("a_first")),
		bytes.Index(buf.Bytes(), []byte("b_second")),
		"fields print in sorted order")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(WarnLevel, "text", &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestChainingDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewTestLogger(DebugLevel, "json", &buf)

	_ = parent.WithField("child_only", true)
	parent.Info("parent entry")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "child_only")
}

func TestWithErrorNil(t *testing.T) {
	logger := NewTestLogger(DebugLevel, "text", &bytes.Buffer{})
	assert.Same(t, logger, logger.WithError(nil))
}

func TestContextPlumbing(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(DebugLevel, "json", &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithStoreID(ctx, "store-9")

	assert.Equal(t, "store-9", GetStoreID(ctx))

	FromContext(ctx).Info("tagged")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "store-9", entry["store_id"])
}
