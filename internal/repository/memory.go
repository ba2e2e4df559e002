package repository

import (
	"context"
	"sync"

	"github.com/kubilitics/kubilitics-backend/internal/engineerr"
	"github.com/kubilitics/kubilitics-backend/internal/models"
)

// MemoryRepository is an in-memory Repository used by engine tests so the
// executor, action store, and policy engine can be exercised without a real
// database, mirroring the teacher's test-only K8sClientFactory seam.
type MemoryRepository struct {
	mu       sync.Mutex
	clusters map[string]*models.Cluster
	nodes    map[string]*models.Node
	actions  map[string]*models.Action
	deps     map[string][]string // parentID -> childIDs
	bindings map[string]map[string]*models.ClusterPolicyBinding // clusterID -> policyID -> binding
	profiles map[string]*models.ProfileSpec
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clusters: make(map[string]*models.Cluster),
		nodes:    make(map[string]*models.Node),
		actions:  make(map[string]*models.Action),
		deps:     make(map[string][]string),
		bindings: make(map[string]map[string]*models.ClusterPolicyBinding),
		profiles: make(map[string]*models.ProfileSpec),
	}
}

func cloneCluster(c *models.Cluster) *models.Cluster {
	cp := *c
	cp.Nodes = append([]string(nil), c.Nodes...)
	cp.Policies = append([]*models.ClusterPolicyBinding(nil), c.Policies...)
	cp.Metadata = cloneStringMap(c.Metadata)
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneNode(n *models.Node) *models.Node {
	cp := *n
	cp.Metadata = cloneStringMap(n.Metadata)
	cp.Placement = cloneAnyMap(n.Placement)
	cp.Data = cloneAnyMap(n.Data)
	return &cp
}

func cloneAction(a *models.Action) *models.Action {
	cp := *a
	cp.Inputs = cloneAnyMap(a.Inputs)
	cp.Data = cloneAnyMap(a.Data)
	return &cp
}

// --- ClusterRepository ---

func (m *MemoryRepository) CreateCluster(ctx context.Context, cluster *models.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clusters[cluster.ID] = cloneCluster(cluster)
	return nil
}

func (m *MemoryRepository) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return nil, engineerr.NotFoundf("cluster %s", id)
	}
	out := cloneCluster(c)
	out.Nodes = m.memberIDsLocked(id)
	out.Policies = m.bindingsLocked(id)
	return out, nil
}

func (m *MemoryRepository) ListClusters(ctx context.Context) ([]*models.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Cluster, 0, len(m.clusters))
	for _, c := range m.clusters {
		cp := cloneCluster(c)
		cp.Nodes = m.memberIDsLocked(c.ID)
		cp.Policies = m.bindingsLocked(c.ID)
		out = append(out, cp)
	}
	return out, nil
}

func (m *MemoryRepository) StoreCluster(ctx context.Context, cluster *models.Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clusters[cluster.ID]; !ok {
		return engineerr.NotFoundf("cluster %s", cluster.ID)
	}
	m.clusters[cluster.ID] = cloneCluster(cluster)
	return nil
}

func (m *MemoryRepository) DeleteCluster(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clusters, id)
	return nil
}

func (m *MemoryRepository) NextIndex(ctx context.Context, clusterID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[clusterID]
	if !ok {
		return 0, engineerr.NotFoundf("cluster %s", clusterID)
	}
	return c.NextIndex, nil
}

func (m *MemoryRepository) ReserveIndices(ctx context.Context, clusterID string, count int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[clusterID]
	if !ok {
		return 0, engineerr.NotFoundf("cluster %s", clusterID)
	}
	first := c.NextIndex + 1
	c.NextIndex += count
	return first, nil
}

// memberIDsLocked must be called with m.mu held.
func (m *MemoryRepository) memberIDsLocked(clusterID string) []string {
	var ids []string
	for _, n := range m.nodes {
		if n.ClusterID == clusterID {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// bindingsLocked materializes a cluster's Policies field from the binding
// table, mirroring memberIDsLocked's treatment of Nodes: Policies is never
// itself a stored column. Must be called with m.mu held.
func (m *MemoryRepository) bindingsLocked(clusterID string) []*models.ClusterPolicyBinding {
	byPolicy, ok := m.bindings[clusterID]
	if !ok {
		return nil
	}
	out := make([]*models.ClusterPolicyBinding, 0, len(byPolicy))
	for _, b := range byPolicy {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

// --- NodeRepository ---

func (m *MemoryRepository) CreateNode(ctx context.Context, node *models.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[node.ID] = cloneNode(node)
	return nil
}

func (m *MemoryRepository) GetNode(ctx context.Context, id string) (*models.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, engineerr.NotFoundf("node %s", id)
	}
	return cloneNode(n), nil
}

func (m *MemoryRepository) StoreNode(ctx context.Context, node *models.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nodes[node.ID]; !ok {
		return engineerr.NotFoundf("node %s", node.ID)
	}
	m.nodes[node.ID] = cloneNode(node)
	return nil
}

func (m *MemoryRepository) DeleteNode(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, id)
	return nil
}

func (m *MemoryRepository) ListByCluster(ctx context.Context, clusterID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memberIDsLocked(clusterID), nil
}

// --- ActionRepository ---

func (m *MemoryRepository) StoreAction(ctx context.Context, action *models.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[action.ID] = cloneAction(action)
	return nil
}

func (m *MemoryRepository) GetAction(ctx context.Context, id string) (*models.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return nil, engineerr.NotFoundf("action %s", id)
	}
	return cloneAction(a), nil
}

func (m *MemoryRepository) AddDependency(ctx context.Context, childID, parentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.deps[parentID] {
		if c == childID {
			return nil
		}
	}
	m.deps[parentID] = append(m.deps[parentID], childID)
	return nil
}

func (m *MemoryRepository) ListDependents(ctx context.Context, parentID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deps[parentID]...), nil
}

func (m *MemoryRepository) SetActionStatus(ctx context.Context, id string, status models.ActionStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[id]
	if !ok {
		return engineerr.NotFoundf("action %s", id)
	}
	a.Status = status
	a.StatusReason = reason
	return nil
}

// --- PolicyBindingRepository ---

func (m *MemoryRepository) CreateBinding(ctx context.Context, binding *models.ClusterPolicyBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPolicy, ok := m.bindings[binding.ClusterID]
	if !ok {
		byPolicy = make(map[string]*models.ClusterPolicyBinding)
		m.bindings[binding.ClusterID] = byPolicy
	}
	cp := *binding
	byPolicy[binding.PolicyID] = &cp
	return nil
}

func (m *MemoryRepository) GetBinding(ctx context.Context, clusterID, policyID string) (*models.ClusterPolicyBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPolicy, ok := m.bindings[clusterID]
	if !ok {
		return nil, engineerr.NotFoundf("policy binding %s/%s", clusterID, policyID)
	}
	b, ok := byPolicy[policyID]
	if !ok {
		return nil, engineerr.NotFoundf("policy binding %s/%s", clusterID, policyID)
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryRepository) ListBindingsByCluster(ctx context.Context, clusterID string) ([]*models.ClusterPolicyBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ClusterPolicyBinding, 0, len(m.bindings[clusterID]))
	for _, b := range m.bindings[clusterID] {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRepository) UpdateBinding(ctx context.Context, binding *models.ClusterPolicyBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPolicy, ok := m.bindings[binding.ClusterID]
	if !ok {
		return engineerr.NotFoundf("policy binding %s/%s", binding.ClusterID, binding.PolicyID)
	}
	if _, ok := byPolicy[binding.PolicyID]; !ok {
		return engineerr.NotFoundf("policy binding %s/%s", binding.ClusterID, binding.PolicyID)
	}
	cp := *binding
	byPolicy[binding.PolicyID] = &cp
	return nil
}

func (m *MemoryRepository) DeleteBinding(ctx context.Context, clusterID, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings[clusterID], policyID)
	return nil
}

// --- ProfileRepository ---

func (m *MemoryRepository) GetProfile(ctx context.Context, id string) (*models.ProfileSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, engineerr.NotFoundf("profile %s", id)
	}
	cp := *p
	cp.Properties = cloneAnyMap(p.Properties)
	return &cp, nil
}

func (m *MemoryRepository) ListProfiles(ctx context.Context) ([]*models.ProfileSpec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ProfileSpec, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		cp.Properties = cloneAnyMap(p.Properties)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRepository) CreateProfile(ctx context.Context, profile *models.ProfileSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *profile
	cp.Properties = cloneAnyMap(profile.Properties)
	m.profiles[profile.ID] = &cp
	return nil
}
