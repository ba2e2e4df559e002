package events

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-backend/internal/models"
)

func newBufferEmitter() (*LoggingEmitter, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return NewLoggingEmitter(log), buf
}

func TestLoggingEmitter_EmitsClusterPayload(t *testing.T) {
	emitter, buf := newBufferEmitter()
	e := ClusterEvent("cluster_create", models.ClusterActionPayload{
		ActionID: "act-1", ClusterID: "c1", Kind: models.ActionClusterCreate,
		Phase: models.EventPhaseEnd, Status: models.ResultOK, OccurredAt: time.Now(),
	})

	emitter.Emit(context.Background(), e)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cluster_create", line["name"])
	assert.Equal(t, "c1", line["cluster_id"])
	assert.Equal(t, "OK", line["status"])
}

func TestLoggingEmitter_EmitsNodePayload(t *testing.T) {
	emitter, buf := newBufferEmitter()
	e := NodeEvent("node_delete", models.NodeActionPayload{
		ActionID: "act-2", NodeID: "n1", ClusterID: "c1", ParentID: "act-1",
		Kind: models.ActionNodeDelete, Phase: models.EventPhaseError, Status: models.ResultError, Reason: "boom",
	})

	emitter.Emit(context.Background(), e)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "node_delete", line["name"])
	assert.Equal(t, "n1", line["node_id"])
	assert.Equal(t, "boom", line["reason"])
}

func TestLoggingEmitter_EmitsBareNameWhenNoPayload(t *testing.T) {
	emitter, buf := newBufferEmitter()
	emitter.Emit(context.Background(), models.Event{Name: "unknown"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "unknown", line["name"])
	assert.NotContains(t, line, "cluster_id")
}
