// Package actionstore wraps the durable action ledger (spec.md §4.3) with
// the narrow contract the executor actually calls — store, get, dependency
// edges, status transitions — and a bounded cache of resolved dependent
// lists so the parent reconciliation that runs whenever a child reaches a
// terminal status doesn't round-trip to the repository every time.
package actionstore

import (
	"context"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kubilitics/kubilitics-backend/internal/models"
	"github.com/kubilitics/kubilitics-backend/internal/repository"
)

// Store is the Action Store component of spec.md §4.3.
type Store struct {
	repo repository.ActionRepository
	log  *slog.Logger

	// dependents caches parentID -> child ids. Entries are invalidated on
	// AddDependency, the only Store call that changes a parent's list;
	// SetStatus reads the cache but leaves it as is.
	dependents *lru.Cache[string, []string]
}

// DefaultCacheSize bounds the dependent-list cache. Sized for a dispatcher
// running a few hundred concurrent cluster actions, each looked up once
// per child that reaches a terminal status.
const DefaultCacheSize = 512

// New wraps repo with a dependents cache of size cacheSize (DefaultCacheSize
// if cacheSize <= 0).
func New(repo repository.ActionRepository, log *slog.Logger, cacheSize int) *Store {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, []string](cacheSize)
	if err != nil {
		// Only returns an error for size <= 0, which is excluded above.
		panic(err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{repo: repo, log: log, dependents: cache}
}

// Store persists action, inserting or updating it.
func (s *Store) Store(ctx context.Context, action *models.Action) error {
	return s.repo.StoreAction(ctx, action)
}

// Get returns the action recorded under id.
func (s *Store) Get(ctx context.Context, id string) (*models.Action, error) {
	return s.repo.GetAction(ctx, id)
}

// AddDependency registers a child -> parent dependency edge and drops any
// cached dependent list for parentID so the next ListDependents call
// observes it.
func (s *Store) AddDependency(ctx context.Context, childID, parentID string) error {
	if err := s.repo.AddDependency(ctx, childID, parentID); err != nil {
		return err
	}
	s.dependents.Remove(parentID)
	return nil
}

// ListDependents returns the ids of actions depending on parentID, serving
// from cache when possible.
func (s *Store) ListDependents(ctx context.Context, parentID string) ([]string, error) {
	if cached, ok := s.dependents.Get(parentID); ok {
		return cached, nil
	}
	ids, err := s.repo.ListDependents(ctx, parentID)
	if err != nil {
		return nil, err
	}
	s.dependents.Add(parentID, ids)
	return ids, nil
}

// SetStatus persists the action's status and reason. When id reaches a
// terminal status and is itself a derived child (ParentID set) of a parent
// currently WAITING, it reconciles the parent: FAILED immediately if this
// child failed or was cancelled, READY once every dependent has succeeded.
// This is the external status-flip wait_for_dependents polls for.
func (s *Store) SetStatus(ctx context.Context, id string, status models.ActionStatus, reason string) error {
	if err := s.repo.SetActionStatus(ctx, id, status, reason); err != nil {
		return err
	}
	s.log.Debug("action status transition", "action_id", id, "status", status, "reason", reason)
	if !isTerminal(status) {
		return nil
	}
	if err := s.reconcileParent(ctx, id); err != nil {
		s.log.Error("failed to reconcile parent action", "child_id", id, "error", err)
		return err
	}
	return nil
}

func isTerminal(status models.ActionStatus) bool {
	switch status {
	case models.ActionStatusSucceeded, models.ActionStatusFailed, models.ActionStatusCancelled:
		return true
	default:
		return false
	}
}

func (s *Store) reconcileParent(ctx context.Context, childID string) error {
	child, err := s.repo.GetAction(ctx, childID)
	if err != nil {
		return err
	}
	if child.ParentID == "" {
		return nil
	}
	parent, err := s.repo.GetAction(ctx, child.ParentID)
	if err != nil {
		return err
	}
	if parent.Status != models.ActionStatusWaiting {
		return nil
	}
	if child.Status != models.ActionStatusSucceeded {
		return s.SetStatus(ctx, parent.ID, models.ActionStatusFailed,
			fmt.Sprintf("dependent action %s failed", childID))
	}
	siblings, err := s.ListDependents(ctx, parent.ID)
	if err != nil {
		return err
	}
	for _, sibID := range siblings {
		sib, err := s.repo.GetAction(ctx, sibID)
		if err != nil {
			return err
		}
		if sib.Status != models.ActionStatusSucceeded {
			return nil
		}
	}
	return s.SetStatus(ctx, parent.ID, models.ActionStatusReady, "")
}
