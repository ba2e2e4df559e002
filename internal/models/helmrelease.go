package models

import "time"

// HelmReleaseRevision is one entry in a release's upgrade/rollback history.
type HelmReleaseRevision struct {
	Revision     int       `json:"revision"`
	Status       string    `json:"status"`
	ChartVersion string    `json:"chart_version"`
	Description  string    `json:"description"`
	DeployedAt   time.Time `json:"deployed_at"`
	ValuesHash   string    `json:"values_hash"`
}
