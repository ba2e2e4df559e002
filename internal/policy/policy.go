// Package policy implements the two-phase Policy Engine hook described in
// spec.md §4.2: priority-ordered, cooldown-gated evaluation of a cluster's
// enabled policy bindings, short-circuiting on the first check failure.
package policy

import (
	"context"
	"sort"
	"time"

	"github.com/kubilitics/kubilitics-backend/internal/models"
	"github.com/kubilitics/kubilitics-backend/internal/pkg/metrics"
	"github.com/kubilitics/kubilitics-backend/internal/repository"
)

// Phase names which half of a cluster action a Check call is evaluating.
type Phase string

const (
	PhaseBefore Phase = "BEFORE"
	PhaseAfter  Phase = "AFTER"
)

// CheckStatus is the per-binding outcome of a phase handler.
type CheckStatus string

const (
	CheckOK    CheckStatus = "OK"
	CheckError CheckStatus = "CHECK_ERROR"
)

// Policy is a stateless strategy the engine consults at BEFORE and AFTER
// phases of a cluster action, and at attach/detach time. Implementations
// never mutate the cluster directly; they return data the executor applies.
type Policy interface {
	// Type identifies the policy's kind for singleton-conflict checks
	// (e.g. "senlin.policy.deletion-1.0").
	Type() string
	// Singleton reports whether at most one enabled binding of this
	// policy's type may be attached to a cluster at once.
	Singleton() bool
	// Attach validates the policy can be bound to cluster. A false result
	// with a reason aborts do_attach_policy with that reason as the error.
	Attach(ctx context.Context, cluster *models.Cluster) (bool, string)
	// Detach validates the policy can be unbound from cluster.
	Detach(ctx context.Context, cluster *models.Cluster) (bool, string)
	// Check runs the phase handler, writing opaque hints into action.Data
	// (deletion candidates, placement, counts) as a side effect.
	Check(ctx context.Context, phase Phase, cluster *models.Cluster, action *models.Action, binding *models.ClusterPolicyBinding) (CheckStatus, string)
}

// Registry resolves a ClusterPolicyBinding's policy_id to its Policy
// implementation.
type Registry interface {
	Get(policyID string) (Policy, bool)
}

// MapRegistry is a Registry backed by a plain map, sufficient for the
// in-process policy set the engine ships with.
type MapRegistry map[string]Policy

// Get implements Registry.
func (m MapRegistry) Get(policyID string) (Policy, bool) {
	p, ok := m[policyID]
	return p, ok
}

// Engine is the Policy Engine hook of spec.md §4.2.
type Engine struct {
	bindings repository.PolicyBindingRepository
	policies Registry
}

// New builds an Engine over bindings, resolving attached policies through
// policies.
func New(bindings repository.PolicyBindingRepository, policies Registry) *Engine {
	return &Engine{bindings: bindings, policies: policies}
}

// Result is the combined outcome of evaluating all of a cluster's enabled
// bindings for one phase, written verbatim into action.Data["status"] /
// action.Data["reason"] by the caller.
type Result struct {
	Status CheckStatus
	Reason string
}

// Check enumerates clusterID's enabled bindings ordered by priority
// ascending, skips any still within its cooldown window, invokes each
// resolved policy's phase handler, and returns on the first CHECK_ERROR.
// A binding whose policy_id is not registered is skipped — an unregistered
// policy type must not block actions on clusters that attached it before
// the policy was deregistered.
func (e *Engine) Check(ctx context.Context, cluster *models.Cluster, action *models.Action, phase Phase, now time.Time) (Result, error) {
	bindings, err := e.bindings.ListBindingsByCluster(ctx, cluster.ID)
	if err != nil {
		return Result{}, err
	}

	enabled := make([]*models.ClusterPolicyBinding, 0, len(bindings))
	for _, b := range bindings {
		if b.Enabled {
			enabled = append(enabled, b)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	result := Result{Status: CheckOK}
	for _, b := range enabled {
		if b.Cooldown > 0 && now.Sub(b.LastRunAt) < time.Duration(b.Cooldown)*time.Second {
			continue
		}
		p, ok := e.policies.Get(b.PolicyID)
		if !ok {
			continue
		}

		start := time.Now()
		status, reason := p.Check(ctx, phase, cluster, action, b)
		metrics.PolicyCheckDurationSeconds.WithLabelValues(p.Type(), string(phase)).Observe(time.Since(start).Seconds())

		b.LastRunAt = now
		if err := e.bindings.UpdateBinding(ctx, b); err != nil {
			return Result{}, err
		}

		if status == CheckError {
			return Result{Status: CheckError, Reason: reason}, nil
		}
		if reason != "" {
			result.Reason = reason
		}
	}
	return result, nil
}

// Resolve looks up policyID's implementation, for callers (do_attach_policy,
// do_detach_policy) that need to invoke Attach/Detach/Type directly rather
// than through Check.
func (e *Engine) Resolve(policyID string) (Policy, bool) {
	return e.policies.Get(policyID)
}

// SingletonConflict returns the existing enabled binding of the same policy
// type as newPolicyID, if newPolicy is a singleton and such a binding
// already exists on the cluster — per spec.md's do_attach_policy contract,
// only ENABLED bindings are considered. Returns (nil, nil) when there is no
// conflict.
func (e *Engine) SingletonConflict(ctx context.Context, cluster *models.Cluster, newPolicyID string, newPolicy Policy) (*models.ClusterPolicyBinding, error) {
	if !newPolicy.Singleton() {
		return nil, nil
	}
	bindings, err := e.bindings.ListBindingsByCluster(ctx, cluster.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		if !b.Enabled || b.PolicyID == newPolicyID {
			continue
		}
		existing, ok := e.policies.Get(b.PolicyID)
		if !ok || existing.Type() != newPolicy.Type() {
			continue
		}
		return b, nil
	}
	return nil, nil
}
