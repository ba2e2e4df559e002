// Package events carries lifecycle notifications out of the executor. The
// real notification transport (a message bus) is out of scope; Emitter's
// logging-backed default implementation gives operators the same signal
// through structured logs instead.
package events

import (
	"context"
	"log/slog"

	"github.com/kubilitics/kubilitics-backend/internal/models"
)

// Emitter publishes a lifecycle Event. Emit must not block the caller on a
// slow or unavailable sink; the logging implementation never fails.
type Emitter interface {
	Emit(ctx context.Context, e models.Event)
}

// LoggingEmitter renders every Event as a structured log line.
type LoggingEmitter struct {
	log *slog.Logger
}

// NewLoggingEmitter wraps log as an Emitter.
func NewLoggingEmitter(log *slog.Logger) *LoggingEmitter {
	return &LoggingEmitter{log: log}
}

// Emit implements Emitter. Exactly one of e.Cluster or e.Node is expected to
// be non-nil; a line is still emitted if neither is, with just e.Name.
func (l *LoggingEmitter) Emit(ctx context.Context, e models.Event) {
	switch {
	case e.Cluster != nil:
		l.log.Info("event",
			"name", e.Name,
			"action_id", e.Cluster.ActionID,
			"cluster_id", e.Cluster.ClusterID,
			"kind", e.Cluster.Kind,
			"phase", e.Cluster.Phase,
			"status", e.Cluster.Status,
			"reason", e.Cluster.Reason,
		)
	case e.Node != nil:
		l.log.Info("event",
			"name", e.Name,
			"action_id", e.Node.ActionID,
			"node_id", e.Node.NodeID,
			"cluster_id", e.Node.ClusterID,
			"parent_id", e.Node.ParentID,
			"kind", e.Node.Kind,
			"phase", e.Node.Phase,
			"status", e.Node.Status,
			"reason", e.Node.Reason,
		)
	default:
		l.log.Info("event", "name", e.Name)
	}
}

// ClusterEvent wraps p in an Event named name. The name is used as given;
// no entity or phase part is added to it.
func ClusterEvent(name string, p models.ClusterActionPayload) models.Event {
	return models.Event{Name: name, Cluster: &p}
}

// NodeEvent wraps p in an Event named name. The name is used as given;
// no entity or phase part is added to it.
func NodeEvent(name string, p models.NodeActionPayload) models.Event {
	return models.Event{Name: name, Node: &p}
}
