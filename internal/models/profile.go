package models

import "time"

// ProfileSpec is the persisted, immutable identity of a Profile: a
// type+version pair plus validated properties. The behavior associated
// with a profile (create/delete/update/...) lives in the internal/profile
// package, keyed off Type+Version; ProfileSpec is pure data.
type ProfileSpec struct {
	ID         string         `json:"id" db:"id"`
	Type       string         `json:"type" db:"type"`       // e.g. "os.k8s_node", "os.helm_release"
	Version    string         `json:"version" db:"version"` // e.g. "1.0"
	Properties map[string]any `json:"properties" db:"-"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at" db:"updated_at"`
}

// TypeVersion is the lookup key into a profile type registry.
func (p *ProfileSpec) TypeVersion() string {
	return p.Type + "-" + p.Version
}
