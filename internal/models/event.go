package models

import "time"

// EventPhase marks where in an action's lifecycle an event was emitted.
type EventPhase string

const (
	EventPhaseStart EventPhase = "start"
	EventPhaseEnd   EventPhase = "end"
	EventPhaseError EventPhase = "error"
)

// ClusterActionPayload is the structured payload for a cluster-level action
// phase notification.
type ClusterActionPayload struct {
	ActionID  string     `json:"action_id"`
	ClusterID string     `json:"cluster_id"` // "" when the cluster failed to load
	Kind      ActionKind `json:"kind"`
	Phase     EventPhase `json:"phase"`
	Status    ResultCode `json:"status,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NodeActionPayload is the structured payload for a node-level derived
// action phase notification.
type NodeActionPayload struct {
	ActionID  string     `json:"action_id"`
	NodeID    string     `json:"node_id"`
	ClusterID string     `json:"cluster_id"`
	ParentID  string     `json:"parent_id"`
	Kind      ActionKind `json:"kind"`
	Phase     EventPhase `json:"phase"`
	Status    ResultCode `json:"status,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Event is the envelope handed to an Emitter. Exactly one of Cluster or
// Node is non-nil, matching the original implementation's entity-type
// dispatch (test_message.py: MessageEvent._check_entity).
type Event struct {
	Name    string                // e.g. "cluster_create", "node_delete"
	Cluster *ClusterActionPayload
	Node    *NodeActionPayload
}
