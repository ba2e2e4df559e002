package helm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/chart/loader"

	"github.com/kubilitics/kubilitics-backend/internal/pkg/tracing"
)

// PullChart downloads a chart from repoURL at the given version into destDir.
// Uses the Helm SDK Pull action with RepoURL, Version, DestDir, Untar=false.
// Returns the path to the downloaded chart archive (.tgz).
func (c *helmClientImpl) PullChart(ctx context.Context, repoURL, chartName, version, destDir string) (string, error) {
	_ = ctx
	cfg, err := c.newActionConfig("default")
	if err != nil {
		return "", err
	}
	pull := action.NewPullWithOpts(action.WithConfig(cfg))
	pull.Settings = c.envSettings
	pull.RepoURL = repoURL
	pull.Version = version
	pull.DestDir = destDir
	pull.Untar = false

	_, err = pull.Run(chartName)
	if err != nil {
		return "", fmt.Errorf("helm pull %q: %w", chartName, err)
	}
	// Run returns the action's log output, not the saved path, when Untar is
	// false; the archive it wrote is the only .tgz in destDir.
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("read dest dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".tgz" {
			return filepath.Join(destDir, name), nil
		}
	}
	return "", fmt.Errorf("no chart archive found in %s after pull", destDir)
}

// resolveChartRef pulls the chart referenced by repoURL/chartName/version to a
// temp directory and loads it into a *chart.Chart ready for install or
// upgrade. If repoURL is an OCI ref (oci://...), uses OCIClient.PullFromOCI
// instead of an HTTP chart repo pull.
func (c *helmClientImpl) resolveChartRef(ctx context.Context, repoURL, chartName, version string) (*chart.Chart, error) {
	ctx, span := tracing.StartSpanWithAttributes(ctx, "helm.resolve_chart",
		attribute.String("helm.chart", chartName),
		attribute.String("helm.chart_version", version),
		attribute.String("helm.repo_url", repoURL),
	)
	defer span.End()

	destDir, err := os.MkdirTemp(c.repoCachePath, "chart-")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create chart temp dir: %w", err)
	}
	defer os.RemoveAll(destDir)

	var chartPath string
	if IsOCIRef(repoURL) {
		if c.ociClient == nil {
			err := fmt.Errorf("OCI ref %q not supported: OCI client unavailable", repoURL)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		fullRef := strings.TrimSuffix(repoURL, "/") + "/" + chartName
		chartPath, err = c.ociClient.PullFromOCI(ctx, fullRef, version, destDir)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	} else {
		chartPath, err = c.PullChart(ctx, repoURL, chartName, version, destDir)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	ch, err := loader.Load(chartPath)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("load chart from %s: %w", chartPath, err)
	}
	return ch, nil
}
