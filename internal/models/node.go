package models

import "time"

// NodeStatus is the lifecycle status of a Node.
type NodeStatus string

const (
	NodeStatusInit     NodeStatus = "INIT"
	NodeStatusCreating NodeStatus = "CREATING"
	NodeStatusActive   NodeStatus = "ACTIVE"
	NodeStatusUpdating NodeStatus = "UPDATING"
	NodeStatusDeleting NodeStatus = "DELETING"
	NodeStatusError    NodeStatus = "ERROR"
)

// OrphanIndex is the Index value for a node that is not bound to a cluster.
const OrphanIndex = -1

// Node is a single unit of compute materialized and mutated through a Profile.
type Node struct {
	ID           string            `json:"id" db:"id"`
	Name         string            `json:"name" db:"name"`
	ProfileID    string            `json:"profile_id" db:"profile_id"`
	ClusterID    string            `json:"cluster_id" db:"cluster_id"` // "" when orphan
	Index        int               `json:"index" db:"index"`          // >=1 when bound, OrphanIndex when not
	Status       NodeStatus        `json:"status" db:"status"`
	StatusReason string            `json:"status_reason" db:"status_reason"`
	Owner        string            `json:"owner" db:"owner"`
	Metadata     map[string]string `json:"metadata" db:"-"`
	// Placement is an opaque envelope set by placement policies at creation time.
	Placement map[string]any `json:"placement" db:"-"`
	// Data is opaque per-action scratch space, mutated by the profile during
	// an operation (e.g. provider resource id, physical id).
	Data      map[string]any `json:"data" db:"-"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// IsMember reports whether the node currently belongs to clusterID.
func (n *Node) IsMember(clusterID string) bool {
	return n.ClusterID != "" && n.ClusterID == clusterID
}

// IsOrphan reports whether the node has no cluster.
func (n *Node) IsOrphan() bool {
	return n.ClusterID == ""
}
