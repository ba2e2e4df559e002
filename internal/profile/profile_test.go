package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-backend/internal/engineerr"
	"github.com/kubilitics/kubilitics-backend/internal/models"
)

type stubProfile struct {
	deleteErr error
	createErr error
	deleted   bool
	created   bool
}

func (s *stubProfile) Type() string { return "stub-1.0" }
func (s *stubProfile) Create(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	s.created = true
	return s.createErr
}
func (s *stubProfile) Delete(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	s.deleted = true
	return s.deleteErr
}
func (s *stubProfile) Update(ctx context.Context, spec *models.ProfileSpec, node *models.Node, newSpec *models.ProfileSpec) error {
	return nil
}
func (s *stubProfile) Check(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	return nil
}
func (s *stubProfile) Join(ctx context.Context, spec *models.ProfileSpec, node *models.Node, clusterID string) error {
	return nil
}
func (s *stubProfile) Leave(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	return nil
}
func (s *stubProfile) GetDetails(ctx context.Context, spec *models.ProfileSpec, node *models.Node) (map[string]any, error) {
	return nil, nil
}

func TestRecover_DefaultIsNoopSuccess(t *testing.T) {
	p := &stubProfile{}
	err := Recover(context.Background(), p, &models.ProfileSpec{}, &models.Node{ID: "n1"}, RecoverDefault)
	require.NoError(t, err)
	assert.False(t, p.deleted)
	assert.False(t, p.created)
}

func TestRecover_RecreateSequencesDeleteThenCreate(t *testing.T) {
	p := &stubProfile{}
	err := Recover(context.Background(), p, &models.ProfileSpec{}, &models.Node{ID: "n1"}, RecoverRecreate)
	require.NoError(t, err)
	assert.True(t, p.deleted)
	assert.True(t, p.created)
}

func TestRecover_RecreateWrapsDeleteFailure(t *testing.T) {
	p := &stubProfile{deleteErr: errors.New("driver unreachable")}
	err := Recover(context.Background(), p, &models.ProfileSpec{}, &models.Node{ID: "n1"}, RecoverRecreate)
	require.Error(t, err)
	assert.ErrorIs(t, err, engineerr.ErrResourceOperation)
	assert.Equal(t, "resource operation failed: Failed in recovering node n1: driver unreachable", err.Error())
	assert.False(t, p.created, "create must not run after delete fails")
}

func TestRecover_RecreateWrapsCreateFailure(t *testing.T) {
	p := &stubProfile{createErr: errors.New("quota exceeded")}
	err := Recover(context.Background(), p, &models.ProfileSpec{}, &models.Node{ID: "n1"}, RecoverRecreate)
	require.Error(t, err)
	assert.ErrorIs(t, err, engineerr.ErrResourceOperation)
	assert.Equal(t, "resource operation failed: Failed in recovering node n1: quota exceeded", err.Error())
}
