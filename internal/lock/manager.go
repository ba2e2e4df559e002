// Package lock implements the process-coherent exclusive lock manager
// described in spec.md §4.4: CLUSTER and NODE scoped locks with owner
// identity and forced-steal semantics. Acquire never blocks; callers poll
// or fail, matching the cooperative-wait model the rest of the engine uses.
package lock

import (
	"sync"

	"github.com/kubilitics/kubilitics-backend/internal/pkg/metrics"
)

// Scope names a lock namespace. Cluster-scope and node-scope locks never
// contend with each other even if the underlying id happens to collide.
type Scope string

const (
	ScopeCluster Scope = "CLUSTER"
	ScopeNode    Scope = "NODE"
)

type key struct {
	scope Scope
	id    string
}

type entry struct {
	owner string
}

// Manager is an in-memory, process-coherent lock table. The zero value is
// not usable; construct with NewManager.
type Manager struct {
	mu    sync.Mutex
	locks map[key]entry
}

// NewManager returns an empty lock manager.
func NewManager() *Manager {
	return &Manager{locks: make(map[key]entry)}
}

// Acquire attempts to take the lock for (scope, id) as owner. If the lock
// is free, owner becomes the holder and Acquire returns (owner, true). If
// the lock is already held by owner, it is idempotently reaffirmed and
// Acquire returns (owner, true). If held by someone else:
//   - forced=false: Acquire returns ("", false) — no blocking, caller polls.
//   - forced=true: the existing holder is preempted, owner installed, and
//     Acquire returns (owner, true).
func (m *Manager) Acquire(scope Scope, id, owner string, forced bool) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{scope, id}
	cur, held := m.locks[k]
	if !held || cur.owner == owner || forced {
		m.locks[k] = entry{owner: owner}
		return owner, true
	}
	metrics.LockContentionTotal.WithLabelValues(string(scope)).Inc()
	return "", false
}

// Release drops the lock for (scope, id) if owner currently holds it.
// Releasing a lock not held by owner (including one already released) is a
// no-op, making Release idempotent as required by spec.md §4.4.
func (m *Manager) Release(scope Scope, id, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{scope, id}
	if cur, held := m.locks[k]; held && cur.owner == owner {
		delete(m.locks, k)
	}
}

// Owner returns the current holder of (scope, id), or ("", false) if free.
func (m *Manager) Owner(scope Scope, id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, held := m.locks[key{scope, id}]
	return cur.owner, held
}
