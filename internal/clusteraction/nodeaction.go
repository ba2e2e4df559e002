package clusteraction

import (
	"context"
	"fmt"

	"github.com/kubilitics/kubilitics-backend/internal/lock"
	"github.com/kubilitics/kubilitics-backend/internal/models"
	"github.com/kubilitics/kubilitics-backend/internal/profile"
)

// executeNodeAction runs a derived NODE_* action to terminal state. It
// reuses finish() so the same Result/Store/SetStatus path cluster actions
// take also drives actionstore's parent reconciliation for the fan-out
// this action belongs to.
func (e *Executor) executeNodeAction(ctx context.Context, action *models.Action) error {
	code, msg := e.runNode(ctx, action)
	if err := e.finish(ctx, action, code, msg); err != nil {
		return err
	}
	if code != models.ResultOK {
		return fmt.Errorf("action %s: %s", action.ID, msg)
	}
	return nil
}

func (e *Executor) runNode(ctx context.Context, action *models.Action) (models.ResultCode, string) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	node, err := e.repo.GetNode(ctx, action.Target)
	if err != nil {
		return models.ResultError, fmt.Sprintf("Node (%s) is not found", action.Target)
	}

	owner, ok := e.locks.Acquire(lock.ScopeNode, node.ID, action.ID, false)
	if !ok {
		return models.ResultError, "Failed in locking node."
	}
	defer e.locks.Release(lock.ScopeNode, node.ID, owner)

	e.emitNodeEvent(ctx, action, node, models.EventPhaseStart, models.ResultOK, "")

	p, spec, err := e.loadProfile(ctx, node.ProfileID)
	if err != nil {
		return models.ResultError, err.Error()
	}

	opErr := e.dispatchNodeOp(ctx, action, node, p, spec)

	phase := models.EventPhaseEnd
	result := models.ResultOK
	msg := fmt.Sprintf("node %s succeeded", derivedVerb(action.Kind))
	if opErr != nil {
		phase = models.EventPhaseError
		result = models.ResultError
		msg = opErr.Error()
	}
	e.emitNodeEvent(ctx, action, node, phase, result, msg)
	return result, msg
}

// dispatchNodeOp mutates node via p and persists the outcome, returning the
// profile call's error (nil on success).
func (e *Executor) dispatchNodeOp(ctx context.Context, action *models.Action, node *models.Node, p profile.Profile, spec *models.ProfileSpec) error {
	switch action.Kind {
	case models.ActionNodeCreate:
		return e.nodeCreate(ctx, p, spec, node)
	case models.ActionNodeDelete:
		return e.nodeDelete(ctx, p, spec, node)
	case models.ActionNodeUpdate:
		return e.nodeUpdate(ctx, action, p, spec, node)
	case models.ActionNodeJoin:
		return e.nodeJoin(ctx, action, p, spec, node)
	case models.ActionNodeLeave:
		return e.nodeLeave(ctx, p, spec, node)
	default:
		return fmt.Errorf("unsupported action: %s", action.Kind)
	}
}

func (e *Executor) nodeCreate(ctx context.Context, p profile.Profile, spec *models.ProfileSpec, node *models.Node) error {
	node.Status = models.NodeStatusCreating
	_ = e.repo.StoreNode(ctx, node)

	if err := p.Create(ctx, spec, node); err != nil {
		node.Status = models.NodeStatusError
		node.StatusReason = err.Error()
		_ = e.repo.StoreNode(ctx, node)
		return err
	}
	node.Status = models.NodeStatusActive
	node.StatusReason = ""
	return e.repo.StoreNode(ctx, node)
}

// nodeDelete destroys the node's underlying resource and removes its row
// entirely, per spec.md §3's ownership model: NODE_DELETE is destructive.
func (e *Executor) nodeDelete(ctx context.Context, p profile.Profile, spec *models.ProfileSpec, node *models.Node) error {
	if err := p.Delete(ctx, spec, node); err != nil {
		node.Status = models.NodeStatusError
		node.StatusReason = err.Error()
		_ = e.repo.StoreNode(ctx, node)
		return err
	}
	return e.repo.DeleteNode(ctx, node.ID)
}

func (e *Executor) nodeUpdate(ctx context.Context, action *models.Action, p profile.Profile, spec *models.ProfileSpec, node *models.Node) error {
	newProfileID := action.InputString("new_profile_id")
	newSpec, err := e.repo.GetProfile(ctx, newProfileID)
	if err != nil {
		return err
	}

	node.Status = models.NodeStatusUpdating
	_ = e.repo.StoreNode(ctx, node)

	if err := p.Update(ctx, spec, node, newSpec); err != nil {
		node.Status = models.NodeStatusError
		node.StatusReason = err.Error()
		_ = e.repo.StoreNode(ctx, node)
		return err
	}
	node.ProfileID = newProfileID
	node.Status = models.NodeStatusActive
	node.StatusReason = ""
	return e.repo.StoreNode(ctx, node)
}

// nodeJoin binds an orphan node to a cluster, reserving the next index off
// that cluster's counter. The underlying resource is left untouched by
// Join itself; the profile only needs to reconcile any cluster-scoped
// membership state (e.g. a Kubernetes label, a Helm release's namespace).
func (e *Executor) nodeJoin(ctx context.Context, action *models.Action, p profile.Profile, spec *models.ProfileSpec, node *models.Node) error {
	clusterID := action.InputString("cluster_id")
	if err := p.Join(ctx, spec, node, clusterID); err != nil {
		node.Status = models.NodeStatusError
		node.StatusReason = err.Error()
		_ = e.repo.StoreNode(ctx, node)
		return err
	}
	index, err := e.repo.ReserveIndices(ctx, clusterID, 1)
	if err != nil {
		return err
	}
	node.ClusterID = clusterID
	node.Index = index
	node.Status = models.NodeStatusActive
	node.StatusReason = ""
	return e.repo.StoreNode(ctx, node)
}

// nodeLeave detaches node from its cluster but preserves the underlying
// resource and the node row, the non-destructive counterpart to
// nodeDelete (spec.md §3).
func (e *Executor) nodeLeave(ctx context.Context, p profile.Profile, spec *models.ProfileSpec, node *models.Node) error {
	if err := p.Leave(ctx, spec, node); err != nil {
		node.Status = models.NodeStatusError
		node.StatusReason = err.Error()
		_ = e.repo.StoreNode(ctx, node)
		return err
	}
	node.ClusterID = ""
	node.Index = models.OrphanIndex
	node.Status = models.NodeStatusActive
	node.StatusReason = ""
	return e.repo.StoreNode(ctx, node)
}
