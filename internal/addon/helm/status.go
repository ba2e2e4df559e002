package helm

import (
	"context"
	"fmt"

	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/release"
)

// Status returns the current status of a release.
func (c *helmClientImpl) Status(ctx context.Context, releaseName, namespace string) (*ReleaseStatus, error) {
	_ = ctx
	cfg, err := c.newActionConfig(namespace)
	if err != nil {
		return nil, err
	}
	statusAction := action.NewStatus(cfg)
	rel, err := statusAction.Run(releaseName)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return releaseToStatus(rel), nil
}

func releaseToStatus(rel *release.Release) *ReleaseStatus {
	if rel == nil {
		return nil
	}
	out := &ReleaseStatus{
		ReleaseName:  rel.Name,
		Namespace:    rel.Namespace,
		Revision:     rel.Version,
		ChartVersion: "",
		AppVersion:   "",
		Description:  "",
	}
	if rel.Info != nil {
		out.Status = rel.Info.Status.String()
		out.Description = rel.Info.Description
		out.DeployedAt = rel.Info.LastDeployed.Time
		if out.DeployedAt.IsZero() {
			out.DeployedAt = rel.Info.FirstDeployed.Time
		}
	}
	if rel.Chart != nil && rel.Chart.Metadata != nil {
		out.ChartVersion = rel.Chart.Metadata.Version
		out.AppVersion = rel.Chart.Metadata.AppVersion
	}
	out.Manifest = rel.Manifest
	return out
}
