// Package schema defines the canonical deployment data model shared across statusdeck.
package schema

import (
	"strings"
	"time"

	"github.com/coachpo/statusdeck/errs"
)

// ProviderID identifies a hosting provider integration.
type ProviderID string

const (
	// ProviderVercel represents the Vercel integration key.
	ProviderVercel ProviderID = "vercel"
	// ProviderNetlify represents the Netlify integration key.
	ProviderNetlify ProviderID = "netlify"
	// ProviderAmplify represents the AWS Amplify integration key.
	ProviderAmplify ProviderID = "awsAmplify"
)

// Validate ensures the provider id is non-empty.
func (p ProviderID) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return errs.New("schema/provider", errs.CodeInvalid, errs.WithMessage("provider id required"))
	}
	return nil
}

// DeploymentState identifies the lifecycle phase of a deployment.
type DeploymentState string

const (
	// StateQueued represents a deployment waiting to build.
	StateQueued DeploymentState = "queued"
	// StateBuilding represents a deployment currently building.
	StateBuilding DeploymentState = "building"
	// StateReady represents a successfully published deployment.
	StateReady DeploymentState = "ready"
	// StateFailed represents a deployment that errored.
	StateFailed DeploymentState = "failed"
	// StateCanceled represents a deployment aborted before completion.
	StateCanceled DeploymentState = "canceled"
)

// Valid reports whether the deployment state is recognised.
func (s DeploymentState) Valid() bool {
	switch s {
	case StateQueued, StateBuilding, StateReady, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// EnvironmentName is the canonical environment bucket an adapter assigns.
type EnvironmentName string

const (
	// EnvProduction represents production deployments.
	EnvProduction EnvironmentName = "production"
	// EnvPreview represents preview/branch deployments.
	EnvPreview EnvironmentName = "preview"
	// EnvStaging represents staging deployments.
	EnvStaging EnvironmentName = "staging"
	// EnvOther buckets environments with no canonical mapping.
	EnvOther EnvironmentName = "other"
)

// CanonicalEnvironment maps a provider-specific environment label onto the
// shared buckets. Unknown labels land in EnvOther.
func CanonicalEnvironment(raw string) EnvironmentName {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod", "main", "live":
		return EnvProduction
	case "preview", "deploy-preview", "branch-deploy", "branch":
		return EnvPreview
	case "staging", "stage", "beta", "develop", "development":
		return EnvStaging
	default:
		return EnvOther
	}
}

// Environment describes one deploy target within a hosted project.
type Environment struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Type EnvironmentName `json:"type"`
}

// RepoLink points at the source repository backing a project.
type RepoLink struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Branch string `json:"branch,omitempty"`
}

// HostedProject describes a project hosted on a provider.
// Identity is (Provider, ProjectID).
type HostedProject struct {
	Provider     ProviderID    `json:"provider"`
	ProjectID    string        `json:"projectId"`
	Name         string        `json:"name"`
	Environments []Environment `json:"environments,omitempty"`
	Repo         *RepoLink     `json:"repo,omitempty"`
}

// Key returns the project identity tuple.
func (p HostedProject) Key() ProjectKey {
	return ProjectKey{Provider: p.Provider, ProjectID: p.ProjectID}
}

// ProjectKey identifies a project within a provider.
type ProjectKey struct {
	Provider  ProviderID
	ProjectID string
}

// DeploymentSummary is the normalized view of one deployment.
// Identity is (Provider, ProjectID, DeploymentID).
type DeploymentSummary struct {
	Provider      ProviderID      `json:"provider"`
	ProjectID     string          `json:"projectId"`
	Environment   EnvironmentName `json:"environment"`
	DeploymentID  string          `json:"deploymentId"`
	State         DeploymentState `json:"state"`
	URL           string          `json:"url,omitempty"`
	CommitSHA     string          `json:"commitSha,omitempty"`
	CommitMessage string          `json:"commitMessage,omitempty"`
	Author        string          `json:"author,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Key returns the deployment identity tuple.
func (d DeploymentSummary) Key() DeploymentKey {
	return DeploymentKey{Provider: d.Provider, ProjectID: d.ProjectID, DeploymentID: d.DeploymentID}
}

// EnvKey returns the environment-slot identity used for transition tracking:
// the latest known state per (provider, project, environment), independent of
// which concrete deployment currently occupies the slot.
func (d DeploymentSummary) EnvKey() EnvSlotKey {
	return EnvSlotKey{Provider: d.Provider, ProjectID: d.ProjectID, Environment: d.Environment}
}

// DeploymentKey identifies one deployment within a provider.
type DeploymentKey struct {
	Provider     ProviderID
	ProjectID    string
	DeploymentID string
}

// EnvSlotKey identifies the conceptual environment slot of a project.
type EnvSlotKey struct {
	Provider    ProviderID
	ProjectID   string
	Environment EnvironmentName
}

// DeploymentDetail is the richer record returned by detail lookups.
type DeploymentDetail struct {
	Summary    DeploymentSummary `json:"summary"`
	BuildLogs  string            `json:"buildLogs,omitempty"`
	ErrorText  string            `json:"errorText,omitempty"`
	DurationMS int64             `json:"durationMs,omitempty"`
	Placehold  bool              `json:"placeholder,omitempty"`
}

// PlaceholderDetail synthesizes the empty detail record rendered when a
// provider reports the deployment as missing.
func PlaceholderDetail(provider ProviderID, deploymentID string) DeploymentDetail {
	return DeploymentDetail{
		Summary: DeploymentSummary{
			Provider:     provider,
			ProjectID:    "",
			Environment:  EnvOther,
			DeploymentID: deploymentID,
			State:        StateCanceled,
		},
		BuildLogs:  "",
		ErrorText:  "deployment no longer available",
		DurationMS: 0,
		Placehold:  true,
	}
}

// ProviderStatus tracks connectivity and freshness for one provider.
type ProviderStatus struct {
	Provider      ProviderID `json:"provider"`
	DisplayName   string     `json:"displayName"`
	Connected     bool       `json:"connected"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	StaleSince    *time.Time `json:"staleSince,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// AuthSession is the credential material an adapter yields after authentication.
type AuthSession struct {
	Provider     ProviderID `json:"provider"`
	AccessToken  string     `json:"-"`
	AccountLabel string     `json:"accountLabel,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// ProviderResult is the unit of input the refresh routine applies to the store.
type ProviderResult struct {
	Provider    ProviderID
	Connected   bool
	Projects    []HostedProject
	Deployments []DeploymentSummary
	Error       string
	FetchedAt   time.Time
}

// Snapshot is an immutable, deterministically sorted view of all known state.
type Snapshot struct {
	Projects    []HostedProject     `json:"projects"`
	Deployments []DeploymentSummary `json:"deployments"`
	Providers   []ProviderStatus    `json:"providers"`
	FetchedAt   *time.Time          `json:"fetchedAt,omitempty"`
}

// Update is the unit of change propagated to store subscribers.
type Update struct {
	Previous Snapshot
	Current  Snapshot
}
