// Package repository defines the persistence contracts the cluster action
// engine consumes (spec.md §1, §4.3) and ships two reference
// implementations (Postgres, SQLite) plus an in-memory fake for tests.
// Persistence mechanics themselves are out of scope for the engine; these
// interfaces are the seam the executor, action store, and policy engine are
// written against.
package repository

import (
	"context"

	"github.com/kubilitics/kubilitics-backend/internal/models"
)

// ClusterRepository provides cluster CRUD and membership queries.
type ClusterRepository interface {
	CreateCluster(ctx context.Context, cluster *models.Cluster) error
	GetCluster(ctx context.Context, id string) (*models.Cluster, error)
	ListClusters(ctx context.Context) ([]*models.Cluster, error)
	// StoreCluster persists a mutated cluster (status, profile_id,
	// desired/min/max size, etc.) fully, matching the executor's
	// "load, mutate, store" use.
	StoreCluster(ctx context.Context, cluster *models.Cluster) error
	DeleteCluster(ctx context.Context, id string) error
	// NextIndex returns the cluster's current monotonic node index counter
	// without incrementing it (spec.md §3: "next_index never decreases").
	NextIndex(ctx context.Context, clusterID string) (int, error)
	// ReserveIndices atomically advances the cluster's next_index counter by
	// count and returns the first index reserved.
	ReserveIndices(ctx context.Context, clusterID string, count int) (int, error)
}

// NodeRepository provides node CRUD and cluster-membership lookups. Method
// names are Node-suffixed so a single concrete type can satisfy both this
// and ClusterRepository without a Create/Create name collision.
type NodeRepository interface {
	CreateNode(ctx context.Context, node *models.Node) error
	GetNode(ctx context.Context, id string) (*models.Node, error)
	StoreNode(ctx context.Context, node *models.Node) error
	DeleteNode(ctx context.Context, id string) error
	// ListByCluster returns the ids of nodes whose cluster_id equals clusterID.
	ListByCluster(ctx context.Context, clusterID string) ([]string, error)
}

// ActionRepository is the durable action ledger the Action Store wraps
// (spec.md §4.3): store, get, dependency edges, status queries.
type ActionRepository interface {
	StoreAction(ctx context.Context, action *models.Action) error
	GetAction(ctx context.Context, id string) (*models.Action, error)
	// AddDependency registers a child -> parent dependency edge.
	AddDependency(ctx context.Context, childID, parentID string) error
	// ListDependents returns the ids of actions depending on parentID.
	ListDependents(ctx context.Context, parentID string) ([]string, error)
	SetActionStatus(ctx context.Context, id string, status models.ActionStatus, reason string) error
}

// PolicyBindingRepository provides ClusterPolicyBinding CRUD.
type PolicyBindingRepository interface {
	CreateBinding(ctx context.Context, binding *models.ClusterPolicyBinding) error
	GetBinding(ctx context.Context, clusterID, policyID string) (*models.ClusterPolicyBinding, error)
	ListBindingsByCluster(ctx context.Context, clusterID string) ([]*models.ClusterPolicyBinding, error)
	UpdateBinding(ctx context.Context, binding *models.ClusterPolicyBinding) error
	DeleteBinding(ctx context.Context, clusterID, policyID string) error
}

// ProfileRepository provides ProfileSpec CRUD.
type ProfileRepository interface {
	GetProfile(ctx context.Context, id string) (*models.ProfileSpec, error)
	ListProfiles(ctx context.Context) ([]*models.ProfileSpec, error)
	CreateProfile(ctx context.Context, profile *models.ProfileSpec) error
}

// Repository aggregates the five sub-contracts the engine needs. Both
// reference implementations (Postgres, SQLite) and the in-memory fake
// satisfy it.
type Repository interface {
	ClusterRepository
	NodeRepository
	ActionRepository
	PolicyBindingRepository
	ProfileRepository
}
