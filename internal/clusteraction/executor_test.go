package clusteraction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-backend/internal/actionstore"
	"github.com/kubilitics/kubilitics-backend/internal/lock"
	"github.com/kubilitics/kubilitics-backend/internal/models"
	"github.com/kubilitics/kubilitics-backend/internal/policy"
	"github.com/kubilitics/kubilitics-backend/internal/profile"
	"github.com/kubilitics/kubilitics-backend/internal/repository"
)

// recordingEmitter records every Event in order, so tests can assert the
// start/end/error phase sequence an action produces.
type recordingEmitter struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, e models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) clusterPhases() []models.EventPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	phases := make([]models.EventPhase, 0, len(r.events))
	for _, e := range r.events {
		if e.Cluster != nil {
			phases = append(phases, e.Cluster.Phase)
		}
	}
	return phases
}

func (r *recordingEmitter) nodePhases() []models.EventPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	phases := make([]models.EventPhase, 0, len(r.events))
	for _, e := range r.events {
		if e.Node != nil {
			phases = append(phases, e.Node.Phase)
		}
	}
	return phases
}

// fakeProfile is a stateless profile.Profile recording every call it sees.
type fakeProfile struct {
	typeVersion string
	createErr   error
	deleteErr   error
	updateErr   error
	joinErr     error
	leaveErr    error
}

func (f *fakeProfile) Type() string { return f.typeVersion }

func (f *fakeProfile) Create(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	return f.createErr
}
func (f *fakeProfile) Delete(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	return f.deleteErr
}
func (f *fakeProfile) Update(ctx context.Context, spec *models.ProfileSpec, node *models.Node, newSpec *models.ProfileSpec) error {
	return f.updateErr
}
func (f *fakeProfile) Check(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	return nil
}
func (f *fakeProfile) Join(ctx context.Context, spec *models.ProfileSpec, node *models.Node, clusterID string) error {
	return f.joinErr
}
func (f *fakeProfile) Leave(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	return f.leaveErr
}
func (f *fakeProfile) GetDetails(ctx context.Context, spec *models.ProfileSpec, node *models.Node) (map[string]any, error) {
	return map[string]any{}, nil
}

// inlineDispatcher runs every dispatched action synchronously against the
// same Executor, so a test observes a cluster action's fan-out complete
// before StartAction returns.
type inlineDispatcher struct {
	exec *Executor
}

func (d *inlineDispatcher) StartAction(ctx context.Context, actionID string) error {
	return d.exec.Execute(ctx, actionID)
}

type testEnv struct {
	repo    *repository.MemoryRepository
	store   *actionstore.Store
	exec    *Executor
	policy  *policy.Engine
	emitter *recordingEmitter
}

func newTestEnv(t *testing.T, profiles profile.Registry) *testEnv {
	t.Helper()
	repo := repository.NewMemoryRepository()
	store := actionstore.New(repo, nil, 0)
	polEngine := policy.New(repo, policy.MapRegistry{})
	emitter := &recordingEmitter{}

	env := &testEnv{repo: repo, store: store, policy: polEngine, emitter: emitter}
	env.exec = New(repo, lock.NewManager(), store, polEngine, profiles, nil, emitter, nil,
		WithYield(func(ctx context.Context) <-chan time.Time {
			c := make(chan time.Time, 1)
			c <- time.Now()
			return c
		}),
	)
	env.exec.dispatch = &inlineDispatcher{exec: env.exec}
	return env
}

func mustCreateProfile(t *testing.T, repo *repository.MemoryRepository, typeVersion string) *models.ProfileSpec {
	t.Helper()
	parts := splitTypeVersion(typeVersion)
	spec := &models.ProfileSpec{ID: uuid.NewString(), Type: parts[0], Version: parts[1], Properties: map[string]any{}}
	require.NoError(t, repo.CreateProfile(context.Background(), spec))
	return spec
}

func splitTypeVersion(tv string) [2]string {
	for i := len(tv) - 1; i >= 0; i-- {
		if tv[i] == '-' {
			return [2]string{tv[:i], tv[i+1:]}
		}
	}
	return [2]string{tv, ""}
}

func mustCreateCluster(t *testing.T, repo *repository.MemoryRepository, profileID string, desired, minSize, maxSize int) *models.Cluster {
	t.Helper()
	cluster := &models.Cluster{
		ID:              uuid.NewString(),
		Name:            "test-cluster",
		ProfileID:       profileID,
		DesiredCapacity: desired,
		MinSize:         minSize,
		MaxSize:         maxSize,
		Owner:           "owner-1",
		Metadata:        map[string]string{},
	}
	require.NoError(t, repo.CreateCluster(context.Background(), cluster))
	return cluster
}

func mustCreateClusterAction(t *testing.T, repo *repository.MemoryRepository, store *actionstore.Store, clusterID string, kind models.ActionKind, inputs map[string]any) *models.Action {
	t.Helper()
	action := models.NewAction(uuid.NewString(), clusterID, kind, models.CauseRPC, "owner-1")
	if inputs != nil {
		action.Inputs = inputs
	}
	require.NoError(t, store.Store(context.Background(), action))
	return action
}

func TestExecute_ClusterCreateProvisionsNodesAndActivates(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 2, 0, -1)
	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)

	err := env.exec.Execute(context.Background(), action.ID)
	require.NoError(t, err)

	got, err := env.store.Get(context.Background(), action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultOK, got.Result)
	assert.Equal(t, models.ActionStatusSucceeded, got.Status)

	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterStatusActive, storedCluster.Status)
	assert.Len(t, storedCluster.Nodes, 2)
}

func TestExecute_ClusterCreateEmitsStartEventBeforeEndEvent(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 2, 0, -1)
	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)

	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	phases := env.emitter.clusterPhases()
	require.NotEmpty(t, phases)
	assert.Equal(t, models.EventPhaseStart, phases[0])
	assert.Equal(t, models.EventPhaseEnd, phases[len(phases)-1])
}

func TestExecute_ClusterCreateFailsWhenProfileCreateErrors(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0", createErr: assertError("boom")}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 1, 0, -1)
	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)

	err := env.exec.Execute(context.Background(), action.ID)
	require.Error(t, err)

	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ClusterStatusError, storedCluster.Status)
}

func TestExecute_ClusterDeleteDestroysNodesAndRemovesCluster(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 2, 0, -1)
	createAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)
	require.NoError(t, env.exec.Execute(context.Background(), createAction.ID))

	deleteAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterDelete, nil)
	err := env.exec.Execute(context.Background(), deleteAction.ID)
	require.NoError(t, err)

	_, err = env.repo.GetCluster(context.Background(), cluster.ID)
	assert.Error(t, err)
}

func TestExecute_ClusterResizeGrowsMembership(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 2, 0, -1)
	createAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)
	require.NoError(t, env.exec.Execute(context.Background(), createAction.ID))

	resizeAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterResize, map[string]any{
		"adjustment_type": AdjustmentChangeInCapacity,
		"number":          2,
	})
	err := env.exec.Execute(context.Background(), resizeAction.ID)
	require.NoError(t, err)

	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, storedCluster.DesiredCapacity)
	assert.Len(t, storedCluster.Nodes, 4)
}

func TestExecute_ClusterScaleInRejectsNegativeCount(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 1, 0, -1)
	createAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)
	require.NoError(t, env.exec.Execute(context.Background(), createAction.ID))

	scaleAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterScaleIn, map[string]any{
		"count": -3,
	})
	err := env.exec.Execute(context.Background(), scaleAction.ID)
	require.Error(t, err)

	got, err := env.store.Get(context.Background(), scaleAction.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invalid count (-3) for scaling in.", got.ResultMsg)
}

func TestExecute_AttachPolicyRejectsMissingPolicyID(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 0, 0, -1)
	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterAttachPolicy, nil)

	err := env.exec.Execute(context.Background(), action.ID)
	require.Error(t, err)

	got, err := env.store.Get(context.Background(), action.ID)
	require.NoError(t, err)
	assert.Equal(t, "Policy not specified.", got.ResultMsg)
}

func TestExecute_UnknownClusterReturnsNotFound(t *testing.T) {
	env := newTestEnv(t, profile.MapRegistry{})
	action := mustCreateClusterAction(t, env.repo, env.store, "missing-cluster", models.ActionClusterCreate, nil)

	err := env.exec.Execute(context.Background(), action.ID)
	require.Error(t, err)

	got, err := env.store.Get(context.Background(), action.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cluster (missing-cluster) is not found", got.ResultMsg)
}

func TestWaitForDependents_CancelWinsOverEverythingElse(t *testing.T) {
	env := newTestEnv(t, profile.MapRegistry{})
	action := mustCreateClusterAction(t, env.repo, env.store, "cluster-x", models.ActionClusterCreate, nil)
	require.NoError(t, env.store.Store(context.Background(), action))
	require.NoError(t, env.store.SetStatus(context.Background(), action.ID, models.ActionStatusFailed, ""))
	env.exec.Cancel(action.ID)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, msg := env.exec.waitForDependents(ctx, action.ID, action.Kind)
	assert.Equal(t, models.ResultCancel, code)
	assert.Contains(t, msg, "cancelled")
}

func TestWaitForDependents_TimeoutFiresOnExpiredContext(t *testing.T) {
	env := newTestEnv(t, profile.MapRegistry{})
	action := mustCreateClusterAction(t, env.repo, env.store, "cluster-x", models.ActionClusterCreate, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, msg := env.exec.waitForDependents(ctx, action.ID, action.Kind)
	assert.Equal(t, models.ResultTimeout, code)
	assert.Contains(t, msg, "timeout")
}

func TestExecute_ClusterUpdateWithoutMembersSwapsProfileImmediately(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	newSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 0, 0, -1)

	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterUpdate, map[string]any{
		"new_profile_id": newSpec.ID,
	})
	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, newSpec.ID, storedCluster.ProfileID)
	assert.Equal(t, models.ClusterStatusActive, storedCluster.Status)
}

func TestExecute_ClusterUpdateWithMembersFansOutNodeUpdate(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	newSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 2, 0, -1)
	createAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)
	require.NoError(t, env.exec.Execute(context.Background(), createAction.ID))

	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterUpdate, map[string]any{
		"new_profile_id": newSpec.ID,
	})
	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.Equal(t, newSpec.ID, storedCluster.ProfileID)
	for _, nodeID := range storedCluster.Nodes {
		node, err := env.repo.GetNode(context.Background(), nodeID)
		require.NoError(t, err)
		assert.Equal(t, newSpec.ID, node.ProfileID)
		assert.Equal(t, models.NodeStatusActive, node.Status)
	}
}

func TestExecute_AddNodesJoinsOrphanNode(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 0, 0, -1)

	orphan := &models.Node{
		ID: uuid.NewString(), Name: "orphan-1", ProfileID: profSpec.ID,
		Index: models.OrphanIndex, Status: models.NodeStatusActive,
		Owner: "owner-1", Metadata: map[string]string{}, Data: map[string]any{},
	}
	require.NoError(t, env.repo.CreateNode(context.Background(), orphan))

	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterAddNodes, map[string]any{
		"nodes": []any{orphan.ID},
	})
	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	got, err := env.repo.GetNode(context.Background(), orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, cluster.ID, got.ClusterID)
	assert.NotEqual(t, models.OrphanIndex, got.Index)
	assert.Equal(t, models.NodeStatusActive, got.Status)
}

func TestExecute_AddNodesRejectsNodeOwnedByAnotherCluster(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	other := mustCreateCluster(t, env.repo, profSpec.ID, 1, 0, -1)
	createOther := mustCreateClusterAction(t, env.repo, env.store, other.ID, models.ActionClusterCreate, nil)
	require.NoError(t, env.exec.Execute(context.Background(), createOther.ID))
	storedOther, err := env.repo.GetCluster(context.Background(), other.ID)
	require.NoError(t, err)
	require.Len(t, storedOther.Nodes, 1)

	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 0, 0, -1)
	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterAddNodes, map[string]any{
		"nodes": []any{storedOther.Nodes[0]},
	})
	err = env.exec.Execute(context.Background(), action.ID)
	require.Error(t, err)

	got, err := env.store.Get(context.Background(), action.ID)
	require.NoError(t, err)
	assert.Contains(t, got.ResultMsg, "already owned")
}

func TestExecute_DelNodesDetachesMemberWithoutDestroying(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 2, 0, -1)
	createAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)
	require.NoError(t, env.exec.Execute(context.Background(), createAction.ID))
	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	require.Len(t, storedCluster.Nodes, 2)
	victim := storedCluster.Nodes[0]

	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterDelNodes, map[string]any{
		"nodes": []any{victim},
	})
	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	node, err := env.repo.GetNode(context.Background(), victim)
	require.NoError(t, err)
	assert.Equal(t, "", node.ClusterID)
	assert.Equal(t, models.OrphanIndex, node.Index)

	remaining, err := env.repo.ListByCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestExecute_ScaleOutGrowsMembership(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 2, 0, -1)
	createAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)
	require.NoError(t, env.exec.Execute(context.Background(), createAction.ID))

	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterScaleOut, map[string]any{
		"count": 3,
	})
	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.Len(t, storedCluster.Nodes, 5)
	assert.Equal(t, 5, storedCluster.DesiredCapacity)
}

func TestExecute_ScaleInShrinksMembership(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 3, 0, -1)
	createAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)
	require.NoError(t, env.exec.Execute(context.Background(), createAction.ID))

	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterScaleIn, map[string]any{
		"count": 2,
	})
	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.Len(t, storedCluster.Nodes, 1)
	assert.Equal(t, 1, storedCluster.DesiredCapacity)
}

func TestExecute_ScaleInClampsBelowMinSizeInsteadOfRejecting(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 3, 2, -1)
	createAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterCreate, nil)
	require.NoError(t, env.exec.Execute(context.Background(), createAction.ID))

	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterScaleIn, map[string]any{
		"count": 5,
	})
	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.Len(t, storedCluster.Nodes, 2)
}

// fakePolicy is a stateless policy.Policy recording its Attach/Detach/Check
// outcomes for assertions.
type fakePolicy struct {
	typ         string
	singleton   bool
	attachOK    bool
	attachMsg   string
	detachOK    bool
	detachMsg   string
}

func (p *fakePolicy) Type() string      { return p.typ }
func (p *fakePolicy) Singleton() bool   { return p.singleton }
func (p *fakePolicy) Attach(ctx context.Context, cluster *models.Cluster) (bool, string) {
	return p.attachOK, p.attachMsg
}
func (p *fakePolicy) Detach(ctx context.Context, cluster *models.Cluster) (bool, string) {
	return p.detachOK, p.detachMsg
}
func (p *fakePolicy) Check(ctx context.Context, phase policy.Phase, cluster *models.Cluster, action *models.Action, binding *models.ClusterPolicyBinding) (policy.CheckStatus, string) {
	return policy.CheckOK, ""
}

func TestExecute_AttachThenDetachPolicy(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 0, 0, -1)

	fpol := &fakePolicy{typ: "senlin.policy.deletion-1.0", attachOK: true, detachOK: true}
	env.policy = policy.New(env.repo, policy.MapRegistry{"pol-1": fpol})
	env.exec = New(env.repo, lock.NewManager(), env.store, env.policy, profile.MapRegistry{"os.k8s_node-1.0": fp}, nil, env.emitter, nil,
		WithYield(func(ctx context.Context) <-chan time.Time {
			c := make(chan time.Time, 1)
			c <- time.Now()
			return c
		}),
	)
	env.exec.dispatch = &inlineDispatcher{exec: env.exec}

	attachAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterAttachPolicy, map[string]any{
		"policy_id": "pol-1",
	})
	require.NoError(t, env.exec.Execute(context.Background(), attachAction.ID))

	storedCluster, err := env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.True(t, storedCluster.HasPolicy("pol-1"))

	detachAction := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterDetachPolicy, map[string]any{
		"policy_id": "pol-1",
	})
	require.NoError(t, env.exec.Execute(context.Background(), detachAction.ID))

	storedCluster, err = env.repo.GetCluster(context.Background(), cluster.ID)
	require.NoError(t, err)
	assert.False(t, storedCluster.HasPolicy("pol-1"))
}

func TestExecute_UpdatePolicyChangesCooldown(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 0, 0, -1)

	binding := &models.ClusterPolicyBinding{
		ID: uuid.NewString(), ClusterID: cluster.ID, PolicyID: "pol-1",
		Priority: 0, Cooldown: 0, Enabled: true, Data: map[string]any{},
	}
	require.NoError(t, env.repo.CreateBinding(context.Background(), binding))

	action := mustCreateClusterAction(t, env.repo, env.store, cluster.ID, models.ActionClusterUpdatePolicy, map[string]any{
		"policy_id": "pol-1",
		"cooldown":  60,
	})
	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	got, err := env.repo.GetBinding(context.Background(), cluster.ID, "pol-1")
	require.NoError(t, err)
	assert.Equal(t, 60, got.Cooldown)
}

// assertError is a tiny helper constructing an error with the given message
// without importing "errors" in every test that needs one.
type simpleError string

func (e simpleError) Error() string { return string(e) }

func assertError(msg string) error { return simpleError(msg) }
