package clusteraction

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-backend/internal/models"
	"github.com/kubilitics/kubilitics-backend/internal/profile"
)

func mustCreateNode(t *testing.T, env *testEnv, profileID, clusterID string, index int) *models.Node {
	t.Helper()
	node := &models.Node{
		ID: uuid.NewString(), Name: "node-under-test", ProfileID: profileID,
		ClusterID: clusterID, Index: index, Status: models.NodeStatusActive,
		Owner: "owner-1", Metadata: map[string]string{}, Data: map[string]any{},
	}
	require.NoError(t, env.repo.CreateNode(context.Background(), node))
	return node
}

func mustCreateNodeAction(t *testing.T, env *testEnv, nodeID string, kind models.ActionKind, inputs map[string]any) *models.Action {
	t.Helper()
	action := models.NewAction(uuid.NewString(), nodeID, kind, models.CauseDerivedAction, "owner-1")
	if inputs != nil {
		action.Inputs = inputs
	}
	require.NoError(t, env.store.Store(context.Background(), action))
	return action
}

func TestExecuteNodeAction_NodeCreateActivatesNode(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	node := mustCreateNode(t, env, profSpec.ID, "cluster-x", 1)
	node.Status = models.NodeStatusInit
	require.NoError(t, env.repo.StoreNode(context.Background(), node))
	action := mustCreateNodeAction(t, env, node.ID, models.ActionNodeCreate, nil)

	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	got, err := env.repo.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusActive, got.Status)

	gotAction, err := env.store.Get(context.Background(), action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultOK, gotAction.Result)
	assert.Equal(t, models.ActionStatusSucceeded, gotAction.Status)
}

func TestExecuteNodeAction_NodeCreateEmitsStartEventBeforeEndEvent(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	node := mustCreateNode(t, env, profSpec.ID, "cluster-x", 1)
	node.Status = models.NodeStatusInit
	require.NoError(t, env.repo.StoreNode(context.Background(), node))
	action := mustCreateNodeAction(t, env, node.ID, models.ActionNodeCreate, nil)

	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	phases := env.emitter.nodePhases()
	require.NotEmpty(t, phases)
	assert.Equal(t, models.EventPhaseStart, phases[0])
	assert.Equal(t, models.EventPhaseEnd, phases[len(phases)-1])
}

func TestExecuteNodeAction_NodeCreateErrorMarksNodeError(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0", createErr: assertError("provider unavailable")}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	node := mustCreateNode(t, env, profSpec.ID, "cluster-x", 1)
	action := mustCreateNodeAction(t, env, node.ID, models.ActionNodeCreate, nil)

	err := env.exec.Execute(context.Background(), action.ID)
	require.Error(t, err)

	got, err := env.repo.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusError, got.Status)
	assert.Equal(t, "provider unavailable", got.StatusReason)
}

func TestExecuteNodeAction_NodeDeleteRemovesNodeRow(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	node := mustCreateNode(t, env, profSpec.ID, "cluster-x", 1)
	action := mustCreateNodeAction(t, env, node.ID, models.ActionNodeDelete, nil)

	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	_, err := env.repo.GetNode(context.Background(), node.ID)
	assert.Error(t, err)
}

func TestExecuteNodeAction_NodeLeavePreservesNodeRowButOrphans(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	node := mustCreateNode(t, env, profSpec.ID, "cluster-x", 1)
	action := mustCreateNodeAction(t, env, node.ID, models.ActionNodeLeave, nil)

	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	got, err := env.repo.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.ClusterID)
	assert.Equal(t, models.OrphanIndex, got.Index)
	assert.Equal(t, models.NodeStatusActive, got.Status)
}

func TestExecuteNodeAction_NodeJoinReservesIndexAndBinds(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	cluster := mustCreateCluster(t, env.repo, profSpec.ID, 0, 0, -1)
	node := mustCreateNode(t, env, profSpec.ID, "", models.OrphanIndex)
	action := mustCreateNodeAction(t, env, node.ID, models.ActionNodeJoin, map[string]any{
		"cluster_id": cluster.ID,
	})

	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	got, err := env.repo.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, cluster.ID, got.ClusterID)
	assert.NotEqual(t, models.OrphanIndex, got.Index)
}

func TestExecuteNodeAction_NodeUpdateSwapsProfile(t *testing.T) {
	fp := &fakeProfile{typeVersion: "os.k8s_node-1.0"}
	env := newTestEnv(t, profile.MapRegistry{"os.k8s_node-1.0": fp})
	profSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	newSpec := mustCreateProfile(t, env.repo, "os.k8s_node-1.0")
	node := mustCreateNode(t, env, profSpec.ID, "cluster-x", 1)
	action := mustCreateNodeAction(t, env, node.ID, models.ActionNodeUpdate, map[string]any{
		"new_profile_id": newSpec.ID,
	})

	require.NoError(t, env.exec.Execute(context.Background(), action.ID))

	got, err := env.repo.GetNode(context.Background(), node.ID)
	require.NoError(t, err)
	assert.Equal(t, newSpec.ID, got.ProfileID)
	assert.Equal(t, models.NodeStatusActive, got.Status)
}

// TestWaitForDependents_ResolvesOnlyAfterAllSiblingsSucceed exercises the
// actionstore reconciliation hook directly against a parent with three
// registered dependents, confirming the parent only flips READY once the
// last one succeeds (not after the first).
func TestWaitForDependents_ResolvesOnlyAfterAllSiblingsSucceed(t *testing.T) {
	env := newTestEnv(t, profile.MapRegistry{})
	parent := mustCreateClusterAction(t, env.repo, env.store, "cluster-x", models.ActionClusterResize, nil)
	require.NoError(t, env.store.SetStatus(context.Background(), parent.ID, models.ActionStatusWaiting, ""))

	children := make([]*models.Action, 3)
	for i := range children {
		c := models.NewAction(uuid.NewString(), "node-x", models.ActionNodeCreate, models.CauseDerivedAction, "owner-1")
		c.ParentID = parent.ID
		require.NoError(t, env.store.Store(context.Background(), c))
		require.NoError(t, env.store.AddDependency(context.Background(), c.ID, parent.ID))
		require.NoError(t, env.store.SetStatus(context.Background(), c.ID, models.ActionStatusReady, ""))
		children[i] = c
	}

	for i, c := range children {
		require.NoError(t, env.store.SetStatus(context.Background(), c.ID, models.ActionStatusSucceeded, ""))
		got, err := env.store.Get(context.Background(), parent.ID)
		require.NoError(t, err)
		if i < len(children)-1 {
			assert.Equal(t, models.ActionStatusWaiting, got.Status, "parent must not resolve before every sibling has succeeded")
		} else {
			assert.Equal(t, models.ActionStatusReady, got.Status, "parent must resolve once the last sibling succeeds")
		}
	}
}

func TestWaitForDependents_OneFailedSiblingFailsParentImmediately(t *testing.T) {
	env := newTestEnv(t, profile.MapRegistry{})
	parent := mustCreateClusterAction(t, env.repo, env.store, "cluster-x", models.ActionClusterResize, nil)
	require.NoError(t, env.store.SetStatus(context.Background(), parent.ID, models.ActionStatusWaiting, ""))

	ok := models.NewAction(uuid.NewString(), "node-a", models.ActionNodeCreate, models.CauseDerivedAction, "owner-1")
	ok.ParentID = parent.ID
	require.NoError(t, env.store.Store(context.Background(), ok))
	require.NoError(t, env.store.AddDependency(context.Background(), ok.ID, parent.ID))

	bad := models.NewAction(uuid.NewString(), "node-b", models.ActionNodeCreate, models.CauseDerivedAction, "owner-1")
	bad.ParentID = parent.ID
	require.NoError(t, env.store.Store(context.Background(), bad))
	require.NoError(t, env.store.AddDependency(context.Background(), bad.ID, parent.ID))

	require.NoError(t, env.store.SetStatus(context.Background(), bad.ID, models.ActionStatusFailed, "boom"))

	got, err := env.store.Get(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusFailed, got.Status)

	// The still-pending sibling succeeding afterward must not resurrect the
	// already-failed parent.
	require.NoError(t, env.store.SetStatus(context.Background(), ok.ID, models.ActionStatusSucceeded, ""))
	got, err = env.store.Get(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionStatusFailed, got.Status)
}
