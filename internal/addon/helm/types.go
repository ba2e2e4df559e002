package helm

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-backend/internal/models"
)

// HelmClient is the Helm SDK surface the helm-backed Profile (spec.md §4.5)
// drives a node through: install on create, upgrade on update, uninstall on
// delete, and status/history for Check and GetDetails.
type HelmClient interface {
	Install(ctx context.Context, req InstallRequest) (*InstallResult, error)
	Upgrade(ctx context.Context, req UpgradeRequest) (*UpgradeResult, error)
	Uninstall(ctx context.Context, req UninstallRequest) error
	Status(ctx context.Context, releaseName, namespace string) (*ReleaseStatus, error)
	History(ctx context.Context, releaseName, namespace string) ([]models.HelmReleaseRevision, error)
}

type InstallRequest struct {
	ReleaseName     string
	Namespace       string
	ChartRef        string
	Version         string
	Values          map[string]interface{}
	CreateNamespace bool
	Wait            bool
	Timeout         time.Duration
	Atomic          bool
}

type UpgradeRequest struct {
	ReleaseName string
	Namespace   string
	ChartRef    string
	Version     string
	Values      map[string]interface{}
	Wait        bool
	Timeout     time.Duration
	Atomic      bool
	ReuseValues bool
}

type UninstallRequest struct {
	ReleaseName string
	Namespace   string
	KeepHistory bool
	DeleteCRDs  bool
}

type InstallResult struct {
	ReleaseName string
	Namespace   string
	Status      string
	Revision    int
	Manifest    string
	Notes       string
	DeployedAt  time.Time
}

type UpgradeResult struct {
	ReleaseName      string
	Namespace        string
	Status           string
	Revision         int
	PreviousRevision int
	Manifest         string
	Notes            string
	DeployedAt       time.Time
}

type ReleaseStatus struct {
	ReleaseName  string
	Namespace    string
	Status       string
	ChartVersion string
	AppVersion   string
	Revision     int
	DeployedAt   time.Time
	Description  string
	// Manifest is the rendered template of the release (for drift detection).
	Manifest string
}
