// Package clusteraction is the Cluster Action Executor of spec.md §4.1: the
// component that runs one top-level cluster action to terminal state,
// fanning out per-node derived actions and consulting the Policy Engine
// hook before and after.
package clusteraction

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kubilitics/kubilitics-backend/internal/actionstore"
	"github.com/kubilitics/kubilitics-backend/internal/dispatcher"
	"github.com/kubilitics/kubilitics-backend/internal/engineerr"
	"github.com/kubilitics/kubilitics-backend/internal/events"
	"github.com/kubilitics/kubilitics-backend/internal/lock"
	"github.com/kubilitics/kubilitics-backend/internal/models"
	"github.com/kubilitics/kubilitics-backend/internal/pkg/logger"
	"github.com/kubilitics/kubilitics-backend/internal/pkg/metrics"
	"github.com/kubilitics/kubilitics-backend/internal/pkg/tracing"
	"github.com/kubilitics/kubilitics-backend/internal/policy"
	"github.com/kubilitics/kubilitics-backend/internal/profile"
	"github.com/kubilitics/kubilitics-backend/internal/repository"
)

// Yield is the scheduler hook wait_for_dependents polls against. It must
// return a channel that fires after one polling tick; the default
// implementation wraps time.After, tests inject one that fires immediately.
type Yield func(ctx context.Context) <-chan time.Time

func defaultYield(interval time.Duration) Yield {
	return func(ctx context.Context) <-chan time.Time {
		return time.After(interval)
	}
}

// Executor runs cluster and derived node actions to terminal state.
type Executor struct {
	repo     repository.Repository
	locks    *lock.Manager
	actions  *actionstore.Store
	policies *policy.Engine
	profiles profile.Registry
	dispatch dispatcher.Dispatcher
	emit     events.Emitter
	log      *slog.Logger

	now     func() time.Time
	yield   Yield
	timeout time.Duration

	mu        sync.Mutex
	cancelled map[string]bool
	inFlight  map[string]InFlightAction
}

// InFlightAction describes one action currently executing, surfaced by
// InFlight() for the engine's debug endpoint.
type InFlightAction struct {
	ActionID  string            `json:"action_id"`
	Kind      models.ActionKind `json:"kind"`
	Target    string            `json:"target"`
	StartedAt time.Time         `json:"started_at"`
}

// Option configures an Executor at construction time.
type Option func(*Executor)

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithYield overrides the wait_for_dependents poll hook.
func WithYield(y Yield) Option {
	return func(e *Executor) { e.yield = y }
}

// WithTimeout overrides the action-wide wall-clock budget.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// DefaultActionTimeout bounds how long execute() and its wait loop run
// before is_timeout() fires, absent a WithTimeout override.
const DefaultActionTimeout = 30 * time.Minute

// DefaultPollInterval is how often wait_for_dependents re-checks status
// when no WithYield override is supplied.
const DefaultPollInterval = 500 * time.Millisecond

// New builds an Executor over its collaborators.
func New(repo repository.Repository, locks *lock.Manager, actions *actionstore.Store, policies *policy.Engine, profiles profile.Registry, dispatch dispatcher.Dispatcher, emit events.Emitter, log *slog.Logger, opts ...Option) *Executor {
	if log == nil {
		log = slog.Default()
	}
	e := &Executor{
		repo:      repo,
		locks:     locks,
		actions:   actions,
		policies:  policies,
		profiles:  profiles,
		dispatch:  dispatch,
		emit:      emit,
		log:       log,
		now:       time.Now,
		yield:     defaultYield(DefaultPollInterval),
		timeout:   DefaultActionTimeout,
		cancelled: make(map[string]bool),
		inFlight:  make(map[string]InFlightAction),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Cancel sets the cooperative cancel flag for actionID, consulted at the
// next wait_for_dependents poll. It always succeeds.
func (e *Executor) Cancel(actionID string) {
	e.mu.Lock()
	e.cancelled[actionID] = true
	e.mu.Unlock()
}

func (e *Executor) isCancelled(actionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled[actionID]
}

// InFlight returns a snapshot of every action currently executing.
func (e *Executor) InFlight() []InFlightAction {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]InFlightAction, 0, len(e.inFlight))
	for _, a := range e.inFlight {
		out = append(out, a)
	}
	return out
}

func (e *Executor) trackInFlight(action *models.Action) {
	e.mu.Lock()
	e.inFlight[action.ID] = InFlightAction{
		ActionID:  action.ID,
		Kind:      action.Kind,
		Target:    action.Target,
		StartedAt: e.now(),
	}
	e.mu.Unlock()
}

func (e *Executor) untrackInFlight(actionID string) {
	e.mu.Lock()
	delete(e.inFlight, actionID)
	delete(e.cancelled, actionID)
	e.mu.Unlock()
}

// Execute implements dispatcher.Executor: it runs actionID to terminal
// state, persisting the outcome onto the action record, and returns an
// error only when the dispatcher's own bookkeeping needs to know the run
// did not complete with OK (so it can be logged); the authoritative result
// lives on the Action itself.
func (e *Executor) Execute(ctx context.Context, actionID string) error {
	action, err := e.actions.Get(ctx, actionID)
	if err != nil {
		return err
	}

	ctx, span := tracing.StartSpanWithAttributes(ctx, "clusteraction.Execute",
		attribute.String("action.id", actionID),
		attribute.String("action.kind", string(action.Kind)),
		attribute.String("action.target", action.Target),
	)
	defer span.End()

	kind := string(action.Kind)
	clusterID := ""
	if action.Kind.IsClusterAction() {
		clusterID = action.Target
	}
	metrics.ActionsInFlight.WithLabelValues(kind).Inc()
	e.trackInFlight(action)
	start := time.Now()
	result := string(models.ResultError)
	errMsg := ""
	defer func() {
		metrics.ActionsInFlight.WithLabelValues(kind).Dec()
		e.untrackInFlight(actionID)
		metrics.ActionDurationSeconds.WithLabelValues(kind, result).Observe(time.Since(start).Seconds())
		logger.ActionLog(os.Stdout, actionID, clusterID, kind, result, time.Since(start), errMsg)
		span.SetAttributes(attribute.String("action.result", result))
		if errMsg != "" {
			span.SetStatus(codes.Error, errMsg)
		}
	}()

	if action.Target != "" && action.Kind.IsClusterAction() {
		code, msg := e.run(ctx, action)
		result = string(code)
		if code != models.ResultOK {
			errMsg = msg
		}
		if err := e.finish(ctx, action, code, msg); err != nil {
			return err
		}
		if code != models.ResultOK {
			return fmt.Errorf("action %s: %s", actionID, msg)
		}
		return nil
	}
	err = e.executeNodeAction(ctx, action)
	if err == nil {
		result = string(models.ResultOK)
	} else {
		errMsg = err.Error()
	}
	return err
}

func (e *Executor) finish(ctx context.Context, action *models.Action, code models.ResultCode, msg string) error {
	action.Result = code
	action.ResultMsg = msg
	status := models.ActionStatusSucceeded
	if code != models.ResultOK {
		status = models.ActionStatusFailed
	}
	if err := e.actions.Store(ctx, action); err != nil {
		return err
	}
	return e.actions.SetStatus(ctx, action.ID, status, msg)
}

// run implements execute()'s public algorithm (spec.md §4.1): load the
// cluster, take its lock, delegate to runLocked, always release.
func (e *Executor) run(ctx context.Context, action *models.Action) (models.ResultCode, string) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cluster, err := e.repo.GetCluster(ctx, action.Target)
	if err != nil {
		e.emitClusterEvent(ctx, action, cluster, models.EventPhaseError, models.ResultError, "not found")
		return models.ResultError, fmt.Sprintf("Cluster (%s) is not found", action.Target)
	}

	forced := action.Kind == models.ActionClusterDelete
	owner, ok := e.locks.Acquire(lock.ScopeCluster, cluster.ID, action.ID, forced)
	if !ok {
		return models.ResultError, "Failed in locking cluster."
	}
	defer e.locks.Release(lock.ScopeCluster, cluster.ID, owner)

	return e.runLocked(ctx, action, cluster)
}

func (e *Executor) runLocked(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	e.emitClusterEvent(ctx, action, cluster, models.EventPhaseStart, models.ResultOK, "")

	before, err := e.policies.Check(ctx, cluster, action, policy.PhaseBefore, e.now())
	if err != nil {
		return models.ResultError, err.Error()
	}
	action.Data["status"] = string(before.Status)
	action.Data["reason"] = before.Reason
	if before.Status == policy.CheckError {
		e.emitClusterEvent(ctx, action, cluster, models.EventPhaseError, models.ResultError, before.Reason)
		return models.ResultError, fmt.Sprintf("Policy check failure: %s", before.Reason)
	}

	code, msg := e.dispatch_(ctx, action, cluster)
	if code != models.ResultOK {
		e.emitClusterEvent(ctx, action, cluster, models.EventPhaseError, code, msg)
		return code, msg
	}

	after, err := e.policies.Check(ctx, cluster, action, policy.PhaseAfter, e.now())
	if err != nil {
		return models.ResultError, err.Error()
	}
	action.Data["status"] = string(after.Status)
	action.Data["reason"] = after.Reason
	if after.Status == policy.CheckError {
		e.emitClusterEvent(ctx, action, cluster, models.EventPhaseError, models.ResultError, after.Reason)
		return models.ResultError, fmt.Sprintf("Policy check failure: %s", after.Reason)
	}

	e.emitClusterEvent(ctx, action, cluster, models.EventPhaseEnd, models.ResultOK, msg)
	return code, msg
}

// dispatch_ dispatches on action kind to the do_* operation contracts of
// spec.md §4.1.2. Named with a trailing underscore to avoid colliding with
// the dispatcher package import.
func (e *Executor) dispatch_(ctx context.Context, action *models.Action, cluster *models.Cluster) (models.ResultCode, string) {
	switch action.Kind {
	case models.ActionClusterCreate:
		return e.doCreate(ctx, action, cluster)
	case models.ActionClusterUpdate:
		return e.doUpdate(ctx, action, cluster)
	case models.ActionClusterDelete:
		return e.doDelete(ctx, action, cluster)
	case models.ActionClusterAddNodes:
		return e.doAddNodes(ctx, action, cluster)
	case models.ActionClusterDelNodes:
		return e.doDelNodes(ctx, action, cluster)
	case models.ActionClusterResize:
		return e.doResize(ctx, action, cluster)
	case models.ActionClusterScaleIn:
		return e.doScaleIn(ctx, action, cluster)
	case models.ActionClusterScaleOut:
		return e.doScaleOut(ctx, action, cluster)
	case models.ActionClusterAttachPolicy:
		return e.doAttachPolicy(ctx, action, cluster)
	case models.ActionClusterDetachPolicy:
		return e.doDetachPolicy(ctx, action, cluster)
	case models.ActionClusterUpdatePolicy:
		return e.doUpdatePolicy(ctx, action, cluster)
	default:
		return models.ResultError, fmt.Sprintf("Unsupported action: %s", action.Kind)
	}
}

func (e *Executor) emitClusterEvent(ctx context.Context, action *models.Action, cluster *models.Cluster, phase models.EventPhase, status models.ResultCode, reason string) {
	clusterID := ""
	if cluster != nil {
		clusterID = cluster.ID
	}
	e.emit.Emit(ctx, events.ClusterEvent(string(action.Kind), models.ClusterActionPayload{
		ActionID:   action.ID,
		ClusterID:  clusterID,
		Kind:       action.Kind,
		Phase:      phase,
		Status:     status,
		Reason:     reason,
		OccurredAt: e.now(),
	}))
}

func (e *Executor) emitNodeEvent(ctx context.Context, action *models.Action, node *models.Node, phase models.EventPhase, status models.ResultCode, reason string) {
	nodeID, clusterID := "", ""
	if node != nil {
		nodeID, clusterID = node.ID, node.ClusterID
	}
	e.emit.Emit(ctx, events.NodeEvent(string(action.Kind), models.NodeActionPayload{
		ActionID:   action.ID,
		NodeID:     nodeID,
		ClusterID:  clusterID,
		ParentID:   action.ParentID,
		Kind:       action.Kind,
		Phase:      phase,
		Status:     status,
		Reason:     reason,
		OccurredAt: e.now(),
	}))
}

// loadClusterProfile resolves cluster's current ProfileSpec and its Profile
// strategy implementation.
func (e *Executor) loadClusterProfile(ctx context.Context, cluster *models.Cluster) (profile.Profile, *models.ProfileSpec, error) {
	return e.loadProfile(ctx, cluster.ProfileID)
}

func (e *Executor) loadProfile(ctx context.Context, profileID string) (profile.Profile, *models.ProfileSpec, error) {
	spec, err := e.repo.GetProfile(ctx, profileID)
	if err != nil {
		return nil, nil, err
	}
	p, ok := e.profiles.Get(spec.TypeVersion())
	if !ok {
		return nil, nil, engineerr.NotFoundf("profile implementation %s", spec.TypeVersion())
	}
	return p, spec, nil
}
