// Package fake provides a deterministic in-memory adapter for tests and
// local development.
package fake

import (
	"context"
	"sync"

	"github.com/coachpo/statusdeck/errs"
	"github.com/coachpo/statusdeck/internal/adapters"
	"github.com/coachpo/statusdeck/internal/schema"
)

// Adapter serves scripted project and deployment data.
type Adapter struct {
	id          schema.ProviderID
	displayName string

	mu          sync.Mutex
	connected   bool
	projects    []schema.HostedProject
	deployments []schema.DeploymentSummary
	details     map[string]schema.DeploymentDetail
	fetchErr    error
	authErr     error
	opened      []string

	fetches int
}

// New creates a fake adapter under the given provider id.
func New(id schema.ProviderID, displayName string) *Adapter {
	return &Adapter{
		id:          id,
		displayName: displayName,
		mu:          sync.Mutex{},
		connected:   false,
		projects:    nil,
		deployments: nil,
		details:     make(map[string]schema.DeploymentDetail),
		fetchErr:    nil,
		authErr:     nil,
		opened:      nil,
		fetches:     0,
	}
}

// SetData replaces the scripted projects and deployments.
func (a *Adapter) SetData(projects []schema.HostedProject, deployments []schema.DeploymentSummary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.projects = projects
	a.deployments = deployments
}

// SetDetail scripts one deployment detail record.
func (a *Adapter) SetDetail(deploymentID string, detail schema.DeploymentDetail) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.details[deploymentID] = detail
}

// SetFetchError makes subsequent fetches fail with err. Nil clears.
func (a *Adapter) SetFetchError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetchErr = err
}

// SetAuthError makes Authenticate fail with err. Nil clears.
func (a *Adapter) SetAuthError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authErr = err
}

// SetConnected forces the connected flag without authentication.
func (a *Adapter) SetConnected(connected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = connected
}

// Fetches counts GetProjects calls, for assertions on polling cadence.
func (a *Adapter) Fetches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

// Opened returns the URLs passed to OpenInBrowser.
func (a *Adapter) Opened() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.opened))
	copy(out, a.opened)
	return out
}

// Provider returns the configured provider id.
func (a *Adapter) Provider() schema.ProviderID { return a.id }

// DisplayName returns the configured display name.
func (a *Adapter) DisplayName() string { return a.displayName }

// Connected reports the scripted connection flag.
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Authenticate succeeds unless an auth error is scripted.
func (a *Adapter) Authenticate(context.Context) (schema.AuthSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.authErr != nil {
		return schema.AuthSession{}, a.authErr
	}
	a.connected = true
	return schema.AuthSession{
		Provider:     a.id,
		AccessToken:  "fake-token",
		AccountLabel: "fake-account",
		ExpiresAt:    nil,
	}, nil
}

// Logout clears the connected flag.
func (a *Adapter) Logout(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

// GetProjects returns the scripted projects.
func (a *Adapter) GetProjects(context.Context, string) ([]schema.HostedProject, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	out := make([]schema.HostedProject, len(a.projects))
	copy(out, a.projects)
	return out, nil
}

// GetLatestDeployments returns the scripted deployments for the given projects.
func (a *Adapter) GetLatestDeployments(_ context.Context, projectIDs []string) ([]schema.DeploymentSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	wanted := make(map[string]bool, len(projectIDs))
	for _, id := range projectIDs {
		wanted[id] = true
	}
	var out []schema.DeploymentSummary
	for _, dep := range a.deployments {
		if wanted[dep.ProjectID] {
			out = append(out, dep)
		}
	}
	return out, nil
}

// GetDeploymentDetails returns the scripted detail or a not_found envelope.
func (a *Adapter) GetDeploymentDetails(_ context.Context, deploymentID string) (schema.DeploymentDetail, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if detail, ok := a.details[deploymentID]; ok {
		return detail, nil
	}
	return schema.DeploymentDetail{}, errs.New(string(a.id), errs.CodeNotFound,
		errs.WithMessage("deployment "+deploymentID+" not found"))
}

// OpenInBrowser records the request.
func (a *Adapter) OpenInBrowser(_ context.Context, target adapters.BrowserTarget, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opened = append(a.opened, string(target)+":"+id)
	return nil
}
