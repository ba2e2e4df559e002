package clusteraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kubilitics/kubilitics-backend/internal/models"
	"github.com/kubilitics/kubilitics-backend/internal/pkg/metrics"
)

// fanOutTarget describes one derived node action to create and dispatch.
type fanOutTarget struct {
	Target string
	Kind   models.ActionKind
	Inputs map[string]any
}

// waitForDependents implements spec.md §4.1.1's cooperative wait loop: poll
// cancel, then the context deadline, then the action's own status (flipped
// externally by actionstore.Store.SetStatus's parent reconciliation), and
// yield between polls. Tie-break order is cancel, timeout, failure, then
// completion, checked every iteration.
func (e *Executor) waitForDependents(ctx context.Context, actionID string, parentKind models.ActionKind) (models.ResultCode, string) {
	for {
		if e.isCancelled(actionID) {
			return models.ResultCancel, fmt.Sprintf("ACTION [%s] cancelled", actionID)
		}
		if ctx.Err() != nil {
			return models.ResultTimeout, fmt.Sprintf("ACTION [%s] timeout", actionID)
		}
		action, err := e.actions.Get(ctx, actionID)
		if err != nil {
			return models.ResultError, err.Error()
		}
		switch action.Status {
		case models.ActionStatusReady:
			return models.ResultOK, "All dependents ended with success"
		case models.ActionStatusFailed:
			return models.ResultError, fmt.Sprintf("ACTION [%s] failed", actionID)
		}
		metrics.WaitLoopIterationsTotal.WithLabelValues(string(parentKind)).Inc()
		select {
		case <-ctx.Done():
			return models.ResultTimeout, fmt.Sprintf("ACTION [%s] timeout", actionID)
		case <-e.yield(ctx):
		}
	}
}

// deriveChildAction creates and persists one NODE_* action derived from
// parent and registers the dependency edge, but does not dispatch it yet.
// Dispatch is a separate step (see fanOutAndWait) so that every sibling in
// a fan-out batch is a registered dependent before any of them can reach a
// terminal state — otherwise a fast dispatcher could run the first child
// to completion, and actionstore's parent reconciliation would see it as
// the only dependent and flip the parent READY before the rest even start.
func (e *Executor) deriveChildAction(ctx context.Context, parent *models.Action, kind models.ActionKind, target string, inputs map[string]any) (*models.Action, error) {
	child := models.NewAction(uuid.NewString(), target, kind, models.CauseDerivedAction, parent.Owner)
	child.Name = fmt.Sprintf("node_%s_%s", derivedVerb(kind), target)
	child.ParentID = parent.ID
	if inputs != nil {
		child.Inputs = inputs
	}
	if err := e.actions.Store(ctx, child); err != nil {
		return nil, err
	}
	if err := e.actions.AddDependency(ctx, child.ID, parent.ID); err != nil {
		return nil, err
	}
	return child, nil
}

// startChild flips a registered dependent to READY and dispatches it.
func (e *Executor) startChild(ctx context.Context, child *models.Action) error {
	if err := e.actions.SetStatus(ctx, child.ID, models.ActionStatusReady, ""); err != nil {
		return err
	}
	return e.dispatch.StartAction(ctx, child.ID)
}

func derivedVerb(kind models.ActionKind) string {
	switch kind {
	case models.ActionNodeCreate:
		return "create"
	case models.ActionNodeDelete:
		return "delete"
	case models.ActionNodeUpdate:
		return "update"
	case models.ActionNodeJoin:
		return "join"
	case models.ActionNodeLeave:
		return "leave"
	default:
		return strings.ToLower(string(kind))
	}
}

// fanOutAndWait sets parent to WAITING, derives and registers every target
// as a dependent, and only then dispatches them — in that order, so the
// reconciliation hook in actionstore never observes a parent still in INIT,
// nor a fan-out batch where some siblings haven't been registered yet when
// the first one completes. A zero-length targets list is a no-op success,
// matching _create_nodes(cluster, 0) and _delete_nodes(cluster, []) both
// being OK with no wait at all.
func (e *Executor) fanOutAndWait(ctx context.Context, parent *models.Action, targets []fanOutTarget) ([]string, models.ResultCode, string) {
	if len(targets) == 0 {
		return nil, models.ResultOK, ""
	}
	if err := e.actions.SetStatus(ctx, parent.ID, models.ActionStatusWaiting, ""); err != nil {
		return nil, models.ResultError, err.Error()
	}
	children := make([]*models.Action, 0, len(targets))
	for _, t := range targets {
		child, err := e.deriveChildAction(ctx, parent, t.Kind, t.Target, t.Inputs)
		if err != nil {
			ids := make([]string, len(children))
			for i, c := range children {
				ids[i] = c.ID
			}
			return ids, models.ResultError, err.Error()
		}
		children = append(children, child)
	}
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = c.ID
	}
	for _, c := range children {
		if err := e.startChild(ctx, c); err != nil {
			return ids, models.ResultError, err.Error()
		}
	}
	code, msg := e.waitForDependents(ctx, parent.ID, parent.Kind)
	return ids, code, msg
}

// createNodes implements _create_nodes(cluster, count): mint count new
// Node rows reserved off the cluster's index counter, derive a NODE_CREATE
// action per node (attaching any placement envelope the BEFORE policy
// check stashed in action.data['placement']), and wait. The node ids are
// recorded on action.data['nodes'] regardless of outcome.
func (e *Executor) createNodes(ctx context.Context, action *models.Action, cluster *models.Cluster, count int) (models.ResultCode, string) {
	if count <= 0 {
		return models.ResultOK, ""
	}
	first, err := e.repo.ReserveIndices(ctx, cluster.ID, count)
	if err != nil {
		return models.ResultError, err.Error()
	}
	placement, _ := action.Data["placement"].([]any)

	targets := make([]fanOutTarget, 0, count)
	nodeIDs := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		idx := first + i - 1
		node := &models.Node{
			ID:        uuid.NewString(),
			Name:      fmt.Sprintf("node-%s-%03d", shortID(cluster.ID), idx),
			ProfileID: cluster.ProfileID,
			ClusterID: cluster.ID,
			Index:     idx,
			Status:    models.NodeStatusInit,
			Owner:     cluster.Owner,
			Metadata:  map[string]string{},
			Data:      map[string]any{},
		}
		if i-1 < len(placement) {
			node.Placement = map[string]any{"placement": placement[i-1]}
		}
		if err := e.repo.CreateNode(ctx, node); err != nil {
			return models.ResultError, err.Error()
		}
		targets = append(targets, fanOutTarget{Target: node.ID, Kind: models.ActionNodeCreate, Inputs: map[string]any{}})
		nodeIDs = append(nodeIDs, node.ID)
	}

	_, code, msg := e.fanOutAndWait(ctx, action, targets)
	action.Data["nodes"] = nodeIDs
	return code, msg
}

// deleteNodes implements _delete_nodes(cluster, ids): derive NODE_DELETE
// (or NODE_LEAVE, when action.data['deletion']['destroy_after_delete'] is
// explicitly false) per id and wait. action.data['nodes'] is recorded only
// on success, per spec.md §4.1.2.
func (e *Executor) deleteNodes(ctx context.Context, action *models.Action, ids []string) (models.ResultCode, string) {
	if len(ids) == 0 {
		return models.ResultOK, ""
	}
	destroy := true
	if v, ok := action.DataMap("deletion")["destroy_after_delete"].(bool); ok {
		destroy = v
	}
	kind := models.ActionNodeDelete
	if !destroy {
		kind = models.ActionNodeLeave
	}
	targets := make([]fanOutTarget, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, fanOutTarget{Target: id, Kind: kind, Inputs: map[string]any{}})
	}
	_, code, msg := e.fanOutAndWait(ctx, action, targets)
	if code == models.ResultOK {
		action.Data["nodes"] = ids
	}
	return code, msg
}

// selectVictims picks count member ids to remove: a deletion policy's
// BEFORE check may have stashed an ordered candidate list in
// action.data['deletion']['candidates']; short of that (or short of
// count), it falls back to an arbitrary prefix of cluster.Nodes.
func selectVictims(action *models.Action, cluster *models.Cluster, count int) []string {
	del := action.DataMap("deletion")
	out := make([]string, 0, count)
	if raw, ok := del["candidates"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
			if len(out) == count {
				return out
			}
		}
	}
	for _, id := range cluster.Nodes {
		if len(out) == count {
			break
		}
		if !containsString(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func toStringSlice(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
