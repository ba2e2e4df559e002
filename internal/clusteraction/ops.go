package clusteraction

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kubilitics/kubilitics-backend/internal/models"
)

// clusterDoCreate marks cluster CREATING and persists it, mirroring
// cluster.do_create()'s DB transition. Returns false on a store failure.
func (e *Executor) clusterDoCreate(ctx context.Context, cluster *models.Cluster) bool {
	cluster.Status = models.ClusterStatusCreating
	cluster.StatusReason = ""
	if err := e.repo.StoreCluster(ctx, cluster); err != nil {
		e.log.Error("failed to persist cluster creating state", "cluster_id", cluster.ID, "error", err)
		return false
	}
	return true
}

// clusterDoDelete removes the cluster row, mirroring cluster.do_delete().
func (e *Executor) clusterDoDelete(ctx context.Context, cluster *models.Cluster) bool {
	if err := e.repo.DeleteCluster(ctx, cluster.ID); err != nil {
		e.log.Error("failed to delete cluster record", "cluster_id", cluster.ID, "error", err)
		return false
	}
	return true
}

// updateClusterProperties persists cluster's new size bounds. It is a no-op
// when desired/minSize/maxSize already match the cluster's current values,
// matching the short-circuit in _update_cluster_properties so a redundant
// resize doesn't churn the status row or a store-backed event listener.
func (e *Executor) updateClusterProperties(ctx context.Context, cluster *models.Cluster, desired, minSize, maxSize int) error {
	if cluster.DesiredCapacity == desired && cluster.MinSize == minSize && cluster.MaxSize == maxSize {
		return nil
	}
	cluster.DesiredCapacity = desired
	cluster.MinSize = minSize
	cluster.MaxSize = maxSize
	return e.repo.StoreCluster(ctx, cluster)
}

func (e *Executor) doCreate(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	if !e.clusterDoCreate(ctx, cluster) {
		cluster.Status = models.ClusterStatusError
		cluster.StatusReason = "Cluster creation failed."
		_ = e.repo.StoreCluster(ctx, cluster)
		return models.ResultError, "Cluster creation failed."
	}

	code, msg := e.createNodes(ctx, action, cluster, cluster.DesiredCapacity)
	switch code {
	case models.ResultOK:
		cluster.Status = models.ClusterStatusActive
		cluster.StatusReason = "Cluster creation succeeded."
		if err := e.repo.StoreCluster(ctx, cluster); err != nil {
			return models.ResultError, err.Error()
		}
		return models.ResultOK, "Cluster creation succeeded."
	case models.ResultRetry:
		return code, msg
	default:
		cluster.Status = models.ClusterStatusError
		cluster.StatusReason = msg
		_ = e.repo.StoreCluster(ctx, cluster)
		return code, msg
	}
}

func (e *Executor) doUpdate(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	newProfileID := action.InputString("new_profile_id")

	if len(cluster.Nodes) == 0 {
		cluster.ProfileID = newProfileID
		cluster.Status = models.ClusterStatusActive
		cluster.StatusReason = "Cluster update completed."
		if err := e.repo.StoreCluster(ctx, cluster); err != nil {
			return models.ResultError, err.Error()
		}
		return models.ResultOK, "Cluster update completed."
	}

	targets := make([]fanOutTarget, 0, len(cluster.Nodes))
	for _, nodeID := range cluster.Nodes {
		targets = append(targets, fanOutTarget{
			Target: nodeID,
			Kind:   models.ActionNodeUpdate,
			Inputs: map[string]any{"new_profile_id": newProfileID},
		})
	}
	_, code, msg := e.fanOutAndWait(ctx, action, targets)
	if code != models.ResultOK {
		return code, msg
	}

	cluster.ProfileID = newProfileID
	cluster.Status = models.ClusterStatusActive
	cluster.StatusReason = "Cluster update completed."
	if err := e.repo.StoreCluster(ctx, cluster); err != nil {
		return models.ResultError, err.Error()
	}
	return models.ResultOK, "Cluster update completed."
}

func (e *Executor) doDelete(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	action.DataMap("deletion")["destroy_after_delete"] = true
	cluster.Status = models.ClusterStatusDeleting
	cluster.StatusReason = "Deletion in progress."
	if err := e.repo.StoreCluster(ctx, cluster); err != nil {
		return models.ResultError, err.Error()
	}

	code, msg := e.deleteNodes(ctx, action, cluster.Nodes)
	switch code {
	case models.ResultTimeout, models.ResultError:
		cluster.Status = models.ClusterStatusWarning
		cluster.StatusReason = msg
		_ = e.repo.StoreCluster(ctx, cluster)
		return code, msg
	case models.ResultCancel:
		cluster.Status = models.ClusterStatusActive
		cluster.StatusReason = msg
		_ = e.repo.StoreCluster(ctx, cluster)
		return code, msg
	case models.ResultRetry:
		return code, msg
	}

	if !e.clusterDoDelete(ctx, cluster) {
		return models.ResultError, "Cannot delete cluster object."
	}
	return models.ResultOK, msg
}

func (e *Executor) doAddNodes(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	ids := toStringSlice(action.Inputs["nodes"])
	processed := make([]string, 0, len(ids))
	for _, id := range ids {
		node, err := e.repo.GetNode(ctx, id)
		if err != nil {
			return models.ResultError, fmt.Sprintf("Node [%s] is not found.", id)
		}
		if node.ClusterID == cluster.ID {
			continue
		}
		if node.ClusterID != "" {
			return models.ResultError, fmt.Sprintf("Node [%s] is already owned by cluster [%s].", id, node.ClusterID)
		}
		if node.Status != models.NodeStatusActive {
			return models.ResultError, fmt.Sprintf("Node [%s] is not in ACTIVE status.", id)
		}
		processed = append(processed, id)
	}
	if len(processed) == 0 {
		return models.ResultOK, ""
	}

	targets := make([]fanOutTarget, 0, len(processed))
	for _, id := range processed {
		targets = append(targets, fanOutTarget{
			Target: id,
			Kind:   models.ActionNodeJoin,
			Inputs: map[string]any{"cluster_id": cluster.ID},
		})
	}
	_, code, msg := e.fanOutAndWait(ctx, action, targets)
	if code == models.ResultOK {
		action.Data["nodes"] = processed
	}
	return code, msg
}

func (e *Executor) doDelNodes(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	ids := toStringSlice(action.Inputs["nodes"])
	toDelete := make([]string, 0, len(ids))
	for _, id := range ids {
		node, err := e.repo.GetNode(ctx, id)
		if err != nil {
			return models.ResultError, fmt.Sprintf("Node [%s] is not found.", id)
		}
		if node.ClusterID == "" || node.ClusterID != cluster.ID {
			continue
		}
		toDelete = append(toDelete, id)
	}
	action.DataMap("deletion")["destroy_after_delete"] = false
	return e.deleteNodes(ctx, action, toDelete)
}

func (e *Executor) doResize(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	minSize := cluster.MinSize
	if v, ok := action.InputInt("min_size"); ok {
		minSize = v
	}
	maxSize := cluster.MaxSize
	if v, ok := action.InputInt("max_size"); ok {
		maxSize = v
	}
	strict, _ := action.InputBool("strict")
	number, _ := action.InputInt("number")
	adjustmentType := action.InputString("adjustment_type")

	current := cluster.DesiredCapacity
	desired := calculateDesired(current, adjustmentType, number)
	desired = truncateDesired(desired, minSize, maxSize)
	if _, errMsg := checkResizeParams(current, desired, minSize, maxSize, strict); errMsg != "" {
		return models.ResultError, errMsg
	}

	if err := e.updateClusterProperties(ctx, cluster, desired, minSize, maxSize); err != nil {
		return models.ResultError, err.Error()
	}

	switch {
	case desired > current:
		action.DataMap("creation")["count"] = desired
		code, msg := e.createNodes(ctx, action, cluster, desired)
		if code != models.ResultOK {
			return code, msg
		}
	case desired < current:
		diff := current - desired
		action.DataMap("deletion")["count"] = diff
		code, msg := e.deleteNodes(ctx, action, selectVictims(action, cluster, diff))
		if code != models.ResultOK {
			return code, msg
		}
	}

	cluster.Status = models.ClusterStatusActive
	cluster.StatusReason = "Cluster resize succeeded."
	_ = e.repo.StoreCluster(ctx, cluster)
	return models.ResultOK, "Cluster resize succeeded."
}

func (e *Executor) doScaleOut(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	count := 1
	if v, ok := action.DataMap("creation")["count"].(int); ok {
		count = v
	} else if v, ok := action.InputInt("count"); ok {
		count = v
	}
	if count < 0 {
		return models.ResultError, fmt.Sprintf("Invalid count (%d) for scaling out.", count)
	}

	current := cluster.MemberCount()
	desired, errMsg := checkSizeParams(current, current+count, cluster.MinSize, cluster.MaxSize, false)
	if errMsg != "" {
		return models.ResultError, errMsg
	}

	if err := e.updateClusterProperties(ctx, cluster, desired, cluster.MinSize, cluster.MaxSize); err != nil {
		return models.ResultError, err.Error()
	}

	code, msg := e.createNodes(ctx, action, cluster, desired-current)
	if code != models.ResultOK {
		return code, msg
	}
	cluster.Status = models.ClusterStatusActive
	cluster.StatusReason = "Cluster scaling succeeded."
	_ = e.repo.StoreCluster(ctx, cluster)
	return models.ResultOK, "Cluster scaling succeeded."
}

func (e *Executor) doScaleIn(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	count := 1
	if v, ok := action.DataMap("deletion")["count"].(int); ok {
		count = v
	} else if v, ok := action.InputInt("count"); ok {
		count = v
	}
	if count < 0 {
		return models.ResultError, fmt.Sprintf("Invalid count (%d) for scaling in.", count)
	}

	current := cluster.MemberCount()
	desired, errMsg := checkSizeParams(current, current-count, cluster.MinSize, cluster.MaxSize, false)
	if errMsg != "" {
		return models.ResultError, errMsg
	}

	if err := e.updateClusterProperties(ctx, cluster, desired, cluster.MinSize, cluster.MaxSize); err != nil {
		return models.ResultError, err.Error()
	}

	code, msg := e.deleteNodes(ctx, action, selectVictims(action, cluster, current-desired))
	if code != models.ResultOK {
		return code, msg
	}
	cluster.Status = models.ClusterStatusActive
	cluster.StatusReason = "Cluster scaling succeeded."
	_ = e.repo.StoreCluster(ctx, cluster)
	return models.ResultOK, "Cluster scaling succeeded."
}

func (e *Executor) doAttachPolicy(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	policyID := action.InputString("policy_id")
	if policyID == "" {
		return models.ResultError, "Policy not specified."
	}
	if cluster.HasPolicy(policyID) {
		return models.ResultOK, "Policy already attached."
	}
	p, ok := e.policies.Resolve(policyID)
	if !ok {
		return models.ResultError, fmt.Sprintf("Policy (%s) is not found.", policyID)
	}

	conflict, err := e.policies.SingletonConflict(ctx, cluster, policyID, p)
	if err != nil {
		return models.ResultError, err.Error()
	}
	if conflict != nil {
		return models.ResultError, fmt.Sprintf(
			"Only one instance of policy type (%s) can be attached to a cluster, but another instance (%s) is found attached to the cluster (%s) already.",
			p.Type(), conflict.PolicyID, cluster.ID)
	}

	if attached, reason := p.Attach(ctx, cluster); !attached {
		return models.ResultError, reason
	}

	binding := &models.ClusterPolicyBinding{
		ID:        uuid.NewString(),
		ClusterID: cluster.ID,
		PolicyID:  policyID,
		Priority:  0,
		Cooldown:  0,
		Level:     0,
		Enabled:   true,
		Data:      map[string]any{},
	}
	if v, ok := action.InputInt("priority"); ok {
		binding.Priority = v
	}
	if v, ok := action.InputInt("cooldown"); ok {
		binding.Cooldown = v
	}
	if v, ok := action.InputInt("level"); ok {
		binding.Level = models.PolicyLevel(v)
	}
	if v, ok := action.InputBool("enabled"); ok {
		binding.Enabled = v
	}
	if err := e.repo.CreateBinding(ctx, binding); err != nil {
		return models.ResultError, err.Error()
	}
	cluster.AddPolicy(binding)
	return models.ResultOK, "Policy attached."
}

func (e *Executor) doDetachPolicy(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	policyID := action.InputString("policy_id")
	if policyID == "" {
		return models.ResultError, "Policy not specified."
	}
	binding := cluster.Binding(policyID)
	if binding == nil {
		return models.ResultOK, "Policy not attached."
	}
	p, ok := e.policies.Resolve(policyID)
	if !ok {
		return models.ResultError, fmt.Sprintf("Policy (%s) is not found.", policyID)
	}
	if detached, reason := p.Detach(ctx, cluster); !detached {
		return models.ResultError, reason
	}
	if err := e.repo.DeleteBinding(ctx, cluster.ID, policyID); err != nil {
		return models.ResultError, err.Error()
	}
	cluster.RemovePolicy(policyID)
	return models.ResultOK, "Policy detached."
}

func (e *Executor) doUpdatePolicy(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	policyID := action.InputString("policy_id")
	if policyID == "" {
		return models.ResultError, "Policy not specified."
	}
	binding := cluster.Binding(policyID)
	if binding == nil {
		return models.ResultError, "Policy not attached."
	}

	changed := false
	if v, ok := action.InputInt("cooldown"); ok {
		binding.Cooldown = v
		changed = true
	}
	if v, ok := action.InputInt("level"); ok {
		binding.Level = models.PolicyLevel(v)
		changed = true
	}
	if v, ok := action.InputInt("priority"); ok {
		binding.Priority = v
		changed = true
	}
	if v, ok := action.InputBool("enabled"); ok {
		binding.Enabled = v
		changed = true
	}
	if !changed {
		return models.ResultOK, "No update is needed."
	}
	if err := e.repo.UpdateBinding(ctx, binding); err != nil {
		return models.ResultError, err.Error()
	}
	return models.ResultOK, "Policy updated."
}
