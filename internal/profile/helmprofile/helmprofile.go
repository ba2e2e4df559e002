// Package helmprofile is a reference Profile (spec.md §4.5) that realizes a
// node as a Helm release, driven through the engine's Helm SDK wrapper in
// internal/addon/helm.
package helmprofile

import (
	"context"
	"fmt"

	"github.com/kubilitics/kubilitics-backend/internal/addon/helm"
	"github.com/kubilitics/kubilitics-backend/internal/engineerr"
	"github.com/kubilitics/kubilitics-backend/internal/models"
)

// Profile realizes "os.helm_release" ProfileSpecs: ProfileSpec.Properties
// carries chart_ref ("repoURL|chartName"), namespace, and values; the
// chart version passed to Helm is ProfileSpec.Version.
// Release name is derived from the node id so Create/Delete are idempotent
// across retries.
type Profile struct {
	client helm.HelmClient
}

// New wraps client as a Profile implementation.
func New(client helm.HelmClient) *Profile {
	return &Profile{client: client}
}

// Type implements profile.Profile.
func (p *Profile) Type() string { return "os.helm_release-1.0" }

func releaseName(node *models.Node) string { return "node-" + node.ID }

func namespaceOf(spec *models.ProfileSpec) string {
	if ns, ok := spec.Properties["namespace"].(string); ok && ns != "" {
		return ns
	}
	return "default"
}

func chartRefOf(spec *models.ProfileSpec) string {
	ref, _ := spec.Properties["chart_ref"].(string)
	return ref
}

func valuesOf(spec *models.ProfileSpec) map[string]interface{} {
	if v, ok := spec.Properties["values"].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// Create installs node's release, waiting for it to become ready.
func (p *Profile) Create(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	res, err := p.client.Install(ctx, helm.InstallRequest{
		ReleaseName:     releaseName(node),
		Namespace:       namespaceOf(spec),
		ChartRef:        chartRefOf(spec),
		Version:         spec.Version,
		Values:          valuesOf(spec),
		CreateNamespace: true,
		Wait:            true,
		Atomic:          true,
	})
	if err != nil {
		return engineerr.ResourceOperationf("install release for node %s: %s", node.ID, err)
	}
	node.Data["release_name"] = res.ReleaseName
	node.Data["namespace"] = namespaceOf(spec)
	return nil
}

// Delete uninstalls node's release.
func (p *Profile) Delete(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	err := p.client.Uninstall(ctx, helm.UninstallRequest{
		ReleaseName: releaseName(node),
		Namespace:   namespaceOf(spec),
	})
	if err != nil {
		return engineerr.ResourceOperationf("uninstall release for node %s: %s", node.ID, err)
	}
	return nil
}

// Update upgrades node's release in place to newSpec's chart/version/values.
func (p *Profile) Update(ctx context.Context, spec *models.ProfileSpec, node *models.Node, newSpec *models.ProfileSpec) error {
	_, err := p.client.Upgrade(ctx, helm.UpgradeRequest{
		ReleaseName: releaseName(node),
		Namespace:   namespaceOf(spec),
		ChartRef:    chartRefOf(newSpec),
		Version:     newSpec.Version,
		Values:      valuesOf(newSpec),
		Wait:        true,
		Atomic:      true,
	})
	if err != nil {
		return engineerr.ResourceOperationf("upgrade release for node %s: %s", node.ID, err)
	}
	return nil
}

// Check reports whether node's release status is "deployed".
func (p *Profile) Check(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	status, err := p.client.Status(ctx, releaseName(node), namespaceOf(spec))
	if err != nil {
		return engineerr.ResourceOperationf("check release for node %s: %s", node.ID, err)
	}
	if status.Status != "deployed" {
		return engineerr.ResourceOperationf("node %s release status is %s", node.ID, status.Status)
	}
	return nil
}

// Join is a no-op: a Helm release has no separate cluster-membership
// concept beyond the engine's own node.cluster_id bookkeeping.
func (p *Profile) Join(ctx context.Context, spec *models.ProfileSpec, node *models.Node, clusterID string) error {
	return nil
}

// Leave is a no-op for the same reason Join is.
func (p *Profile) Leave(ctx context.Context, spec *models.ProfileSpec, node *models.Node) error {
	return nil
}

// GetDetails returns the release's status and revision history length.
func (p *Profile) GetDetails(ctx context.Context, spec *models.ProfileSpec, node *models.Node) (map[string]any, error) {
	status, err := p.client.Status(ctx, releaseName(node), namespaceOf(spec))
	if err != nil {
		return nil, engineerr.ResourceOperationf("get details for node %s: %s", node.ID, err)
	}
	history, err := p.client.History(ctx, releaseName(node), namespaceOf(spec))
	if err != nil {
		return nil, engineerr.ResourceOperationf("get history for node %s: %s", node.ID, err)
	}
	return map[string]any{
		"status":    status.Status,
		"revision":  status.Revision,
		"revisions": fmt.Sprintf("%d", len(history)),
	}, nil
}
