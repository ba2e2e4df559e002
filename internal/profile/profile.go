// Package profile defines the stateless Profile abstraction (spec.md §4.5):
// the strategy interface the executor drives to actually create, delete,
// update, and inspect node resources, without ever looking inside it.
package profile

import (
	"context"
	"fmt"

	"github.com/kubilitics/kubilitics-backend/internal/engineerr"
	"github.com/kubilitics/kubilitics-backend/internal/models"
)

// RecoverOperation selects the recovery strategy do_recover applies.
type RecoverOperation string

const (
	// RecoverDefault is a no-op success: the profile reports the node is
	// fine as-is.
	RecoverDefault RecoverOperation = ""
	// RecoverRecreate sequences Delete then Create.
	RecoverRecreate RecoverOperation = "RECREATE"
)

// Profile is a stateless, per-call strategy parameterized by an immutable
// ProfileSpec. One Profile value is shared across concurrent calls; all
// state the operation needs travels in the node and spec arguments.
type Profile interface {
	Type() string
	Create(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error
	Delete(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error
	Update(ctx context.Context, spec *models.ProfileSpec, node *models.Node, newSpec *models.ProfileSpec) error
	Check(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error
	Join(ctx context.Context, spec *models.ProfileSpec, node *models.Node, clusterID string) error
	Leave(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error
	GetDetails(ctx context.Context, spec *models.ProfileSpec, node *models.Node) (map[string]any, error)
}

// Registry resolves a ProfileSpec's type+version to its Profile
// implementation.
type Registry interface {
	Get(typeVersion string) (Profile, bool)
}

// MapRegistry is a Registry backed by a plain map of "type-version" keys
// (see models.ProfileSpec.TypeVersion).
type MapRegistry map[string]Profile

// Get implements Registry.
func (m MapRegistry) Get(typeVersion string) (Profile, bool) {
	p, ok := m[typeVersion]
	return p, ok
}

// Recover implements the do_recover hook of spec.md §4.5: a no-op success
// unless operation is RECREATE, in which case it sequences Delete then
// Create and wraps any failure as EResourceOperation with the exact
// "Failed in recovering node <id>: <inner>" message template.
func Recover(ctx context.Context, p Profile, spec *models.ProfileSpec, node *models.Node, operation RecoverOperation) error {
	if operation != RecoverRecreate {
		return nil
	}
	if err := p.Delete(ctx, spec, node); err != nil {
		return engineerr.ResourceOperationf("Failed in recovering node %s: %s", node.ID, err)
	}
	if err := p.Create(ctx, spec, node); err != nil {
		return engineerr.ResourceOperationf("Failed in recovering node %s: %s", node.ID, err)
	}
	return nil
}

// wrapResourceOperation is a small helper reference implementations can use
// to build the taxonomy's ErrResourceOperation-wrapped errors consistently.
func wrapResourceOperation(verb string, node *models.Node, err error) error {
	return engineerr.ResourceOperationf("%s node %s: %s", verb, node.ID, fmt.Sprintf("%v", err))
}
