package models

import "time"

// PolicyLevel gates whether a binding fires for a given severity level.
// Lower values are more permissive filters; semantics are policy-defined,
// the executor only persists and compares them.
type PolicyLevel int

// ClusterPolicyBinding attaches a policy to a cluster with its own priority,
// cooldown, level, and enabled flag. At most one enabled binding may exist
// per (cluster, policy); singleton policies additionally allow at most one
// enabled binding of that policy's type per cluster (spec.md §3).
type ClusterPolicyBinding struct {
	ID        string         `json:"id" db:"id"`
	ClusterID string         `json:"cluster_id" db:"cluster_id"`
	PolicyID  string         `json:"policy_id" db:"policy_id"`
	Priority  int            `json:"priority" db:"priority"` // lower runs first
	Cooldown  int            `json:"cooldown" db:"cooldown"` // seconds
	Level     PolicyLevel    `json:"level" db:"level"`
	Enabled   bool           `json:"enabled" db:"enabled"`
	Data      map[string]any `json:"data" db:"-"`
	LastRunAt time.Time      `json:"last_run_at" db:"last_run_at"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}
