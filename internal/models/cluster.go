package models

import "time"

// ClusterStatus is the lifecycle status of a Cluster.
type ClusterStatus string

const (
	ClusterStatusInit     ClusterStatus = "INIT"
	ClusterStatusCreating ClusterStatus = "CREATING"
	ClusterStatusActive   ClusterStatus = "ACTIVE"
	ClusterStatusUpdating ClusterStatus = "UPDATING"
	ClusterStatusDeleting ClusterStatus = "DELETING"
	ClusterStatusError    ClusterStatus = "ERROR"
	ClusterStatusWarning  ClusterStatus = "WARNING"
)

// UnboundedMaxSize is the sentinel max_size value meaning "no upper bound".
const UnboundedMaxSize = -1

// Cluster is a homogeneous, elastically-sized group of nodes governed by
// zero or more attached policies.
type Cluster struct {
	ID              string            `json:"id" db:"id"`
	Name            string            `json:"name" db:"name"`
	ProfileID       string            `json:"profile_id" db:"profile_id"`
	DesiredCapacity int               `json:"desired_capacity" db:"desired_capacity"`
	MinSize         int               `json:"min_size" db:"min_size"`
	MaxSize         int               `json:"max_size" db:"max_size"` // -1 = unbounded
	Status          ClusterStatus     `json:"status" db:"status"`
	StatusReason    string            `json:"status_reason" db:"status_reason"`
	NextIndex       int               `json:"next_index" db:"next_index"`
	Owner           string            `json:"owner" db:"owner"`
	Metadata        map[string]string `json:"metadata" db:"-"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at" db:"updated_at"`

	// Nodes is the set of member node IDs, materialized by the repository
	// from node.cluster_id. It is not itself a stored column.
	Nodes []string `json:"nodes" db:"-"`
	// Policies is the set of attached policy bindings, materialized by the
	// repository from the policy binding table.
	Policies []*ClusterPolicyBinding `json:"policies" db:"-"`
}

// MemberCount returns the number of member nodes currently recorded on the
// cluster. It does not query the repository; callers must keep Nodes fresh.
func (c *Cluster) MemberCount() int {
	return len(c.Nodes)
}

// HasMember reports whether nodeID is a recorded member.
func (c *Cluster) HasMember(nodeID string) bool {
	for _, id := range c.Nodes {
		if id == nodeID {
			return true
		}
	}
	return false
}

// HasPolicy reports whether policyID is attached (enabled or not).
func (c *Cluster) HasPolicy(policyID string) bool {
	return c.Binding(policyID) != nil
}

// Binding returns the attached binding for policyID, or nil.
func (c *Cluster) Binding(policyID string) *ClusterPolicyBinding {
	for _, b := range c.Policies {
		if b.PolicyID == policyID {
			return b
		}
	}
	return nil
}

// AddPolicy appends a binding to the in-memory policy list (does not persist).
func (c *Cluster) AddPolicy(b *ClusterPolicyBinding) {
	c.Policies = append(c.Policies, b)
}

// RemovePolicy drops the binding for policyID from the in-memory list.
func (c *Cluster) RemovePolicy(policyID string) {
	out := c.Policies[:0]
	for _, b := range c.Policies {
		if b.PolicyID != policyID {
			out = append(out, b)
		}
	}
	c.Policies = out
}

// WithinBounds reports whether the given desired/min/max triple satisfies
// min <= desired <= max (max == UnboundedMaxSize always satisfies the upper bound).
func WithinBounds(desired, min, max int) bool {
	if desired < min {
		return false
	}
	if max != UnboundedMaxSize && desired > max {
		return false
	}
	return true
}
