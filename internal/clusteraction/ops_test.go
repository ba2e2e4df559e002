package clusteraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-backend/internal/models"
	"github.com/kubilitics/kubilitics-backend/internal/repository"
)

// storeCountingRepo wraps a Repository and counts StoreCluster calls, so a
// test can assert updateClusterProperties's no-op fast path actually skips
// the store rather than just writing back identical values.
type storeCountingRepo struct {
	repository.Repository
	storeClusterCalls int
}

func (r *storeCountingRepo) StoreCluster(ctx context.Context, cluster *models.Cluster) error {
	r.storeClusterCalls++
	return r.Repository.StoreCluster(ctx, cluster)
}

func TestUpdateClusterProperties_NoOpWhenUnchanged(t *testing.T) {
	mem := repository.NewMemoryRepository()
	profile := mustCreateProfile(t, mem, "test-type-1.0")
	cluster := mustCreateCluster(t, mem, profile.ID, 3, 1, 10)

	counting := &storeCountingRepo{Repository: mem}
	exec := New(counting, nil, nil, nil, nil, nil, nil, nil)

	err := exec.updateClusterProperties(context.Background(), cluster, 3, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, counting.storeClusterCalls, "StoreCluster must be skipped when desired/min/max already match")
}

func TestUpdateClusterProperties_StoresWhenChanged(t *testing.T) {
	mem := repository.NewMemoryRepository()
	profile := mustCreateProfile(t, mem, "test-type-1.0")
	cluster := mustCreateCluster(t, mem, profile.ID, 3, 1, 10)

	counting := &storeCountingRepo{Repository: mem}
	exec := New(counting, nil, nil, nil, nil, nil, nil, nil)

	err := exec.updateClusterProperties(context.Background(), cluster, 5, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, counting.storeClusterCalls)
	assert.Equal(t, 5, cluster.DesiredCapacity)
}
