// Package logger provides structured JSON logging for action completions.
// No PII or secrets are logged; action_id and cluster_id enable traceability
// across a fan-out tree in log aggregation.
package logger

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

type contextKey string

const ActionIDKey contextKey = "action_id"

// LogEntry is the structured log payload (JSON) written for one terminal
// action outcome. Safe for aggregation; no secrets.
type LogEntry struct {
	Time       string  `json:"time"`
	Level      string  `json:"level"`
	ActionID   string  `json:"action_id,omitempty"`
	ClusterID  string  `json:"cluster_id,omitempty"`
	Kind       string  `json:"kind,omitempty"`
	Result     string  `json:"result,omitempty"`
	DurationMs float64 `json:"duration_ms,omitempty"`
	Message    string  `json:"message,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// ActionLog writes a single JSON line for one action's terminal result.
// Level escalates to warn/error by result code the way an HTTP access log
// escalates by status class.
func ActionLog(out *os.File, actionID, clusterID, kind, result string, duration time.Duration, errMsg string) {
	level := "info"
	switch result {
	case "ERROR":
		level = "error"
	case "TIMEOUT", "CANCEL":
		level = "warn"
	}
	entry := LogEntry{
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		ActionID:   actionID,
		ClusterID:  clusterID,
		Kind:       kind,
		Result:     result,
		DurationMs: float64(duration.Milliseconds()),
		Error:      errMsg,
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(entry)
}

// FromContext returns the action ID stashed in ctx, or empty string.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ActionIDKey).(string); ok {
		return id
	}
	return ""
}

// StdLogger returns the engine's slog.Logger for startup/shutdown and
// general operational logging. JSON by default; text when format is "text".
func StdLogger(format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
