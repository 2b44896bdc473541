package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/statusdeck/internal/schema"
)

// Alert describes one newly-failed deployment surfaced to sinks.
type Alert struct {
	ID            string                 `json:"id"`
	Provider      schema.ProviderID      `json:"provider"`
	ProjectID     string                 `json:"projectId"`
	ProjectName   string                 `json:"projectName,omitempty"`
	Environment   schema.EnvironmentName `json:"environment"`
	DeploymentID  string                 `json:"deploymentId"`
	URL           string                 `json:"url,omitempty"`
	CommitMessage string                 `json:"commitMessage,omitempty"`
	Author        string                 `json:"author,omitempty"`
	DetectedAt    time.Time              `json:"detectedAt"`
}

// NewAlert builds an alert for one failed deployment. projectName may be
// empty when the project record is not in the snapshot.
func NewAlert(dep schema.DeploymentSummary, projectName string, detectedAt time.Time) Alert {
	return Alert{
		ID:            uuid.NewString(),
		Provider:      dep.Provider,
		ProjectID:     dep.ProjectID,
		ProjectName:   projectName,
		Environment:   dep.Environment,
		DeploymentID:  dep.DeploymentID,
		URL:           dep.URL,
		CommitMessage: dep.CommitMessage,
		Author:        dep.Author,
		DetectedAt:    detectedAt,
	}
}
