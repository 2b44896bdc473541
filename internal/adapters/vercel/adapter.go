package vercel

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/statusdeck/errs"
	"github.com/coachpo/statusdeck/internal/adapters"
	"github.com/coachpo/statusdeck/internal/httpx"
	"github.com/coachpo/statusdeck/internal/schema"
)

type userResponse struct {
	User struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

type projectsResponse struct {
	Projects []projectRecord `json:"projects"`
}

type projectRecord struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Link *struct {
		Type             string `json:"type"`
		Org              string `json:"org"`
		Repo             string `json:"repo"`
		ProductionBranch string `json:"productionBranch"`
	} `json:"link"`
	Targets map[string]struct {
		ID string `json:"id"`
	} `json:"targets"`
}

type deploymentsResponse struct {
	Deployments []deploymentRecord `json:"deployments"`
}

type deploymentRecord struct {
	UID       string `json:"uid"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	State     string `json:"state"`
	Target    string `json:"target"`
	CreatedAt int64  `json:"createdAt"`
	Ready     int64  `json:"ready"`
	Meta      struct {
		CommitSHA     string `json:"githubCommitSha"`
		CommitMessage string `json:"githubCommitMessage"`
		CommitAuthor  string `json:"githubCommitAuthorName"`
	} `json:"meta"`
}

type deploymentDetailRecord struct {
	deploymentRecord
	ErrorMessage string `json:"errorMessage"`
	BuildingAt   int64  `json:"buildingAt"`
}

// Adapter talks to the Vercel REST API.
type Adapter struct {
	opts   Options
	client *httpx.Client
	open   func(context.Context, string) error

	mu      sync.RWMutex
	session *schema.AuthSession
}

// Option configures adapter construction.
type Option func(*Adapter)

// WithClient substitutes the HTTP client, mainly for tests.
func WithClient(client *httpx.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.client = client
		}
	}
}

// WithBrowserOpener substitutes the browser launcher, mainly for tests.
func WithBrowserOpener(open func(context.Context, string) error) Option {
	return func(a *Adapter) {
		if open != nil {
			a.open = open
		}
	}
}

// New constructs the Vercel adapter.
func New(opts Options, adapterOpts ...Option) *Adapter {
	a := &Adapter{
		opts:    opts,
		client:  httpx.NewClient(vercelMetadata.identifier),
		open:    adapters.OpenURL,
		mu:      sync.RWMutex{},
		session: nil,
	}
	for _, opt := range adapterOpts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Provider returns the stable provider id.
func (a *Adapter) Provider() schema.ProviderID { return schema.ProviderVercel }

// DisplayName returns the human-readable provider name.
func (a *Adapter) DisplayName() string { return vercelMetadata.displayName }

// Connected reports whether an authenticated session exists.
func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session != nil
}

// Authenticate validates the configured token against the Vercel user endpoint.
func (a *Adapter) Authenticate(ctx context.Context) (schema.AuthSession, error) {
	token := strings.TrimSpace(a.opts.Token)
	if token == "" {
		return schema.AuthSession{}, errs.NotConnected(vercelMetadata.identifier)
	}
	var user userResponse
	if err := a.get(ctx, userPath, nil, &user); err != nil {
		return schema.AuthSession{}, fmt.Errorf("verify vercel token: %w", err)
	}
	session := schema.AuthSession{
		Provider:     schema.ProviderVercel,
		AccessToken:  token,
		AccountLabel: user.User.Username,
		ExpiresAt:    nil,
	}
	a.mu.Lock()
	a.session = &session
	a.mu.Unlock()
	return session, nil
}

// Logout discards the in-memory session.
func (a *Adapter) Logout(context.Context) error {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
	return nil
}

// GetProjects lists projects for the configured team scope.
func (a *Adapter) GetProjects(ctx context.Context, scope string) ([]schema.HostedProject, error) {
	params := url.Values{}
	if team := firstNonEmpty(scope, a.opts.TeamID); team != "" {
		params.Set("teamId", team)
	}
	var payload projectsResponse
	if err := a.get(ctx, projectsPath, params, &payload); err != nil {
		return nil, fmt.Errorf("fetch vercel projects: %w", err)
	}
	projects := make([]schema.HostedProject, 0, len(payload.Projects))
	for _, record := range payload.Projects {
		if strings.TrimSpace(record.ID) == "" {
			continue
		}
		projects = append(projects, mapProject(record))
	}
	return projects, nil
}

// GetLatestDeployments fetches recent deployments for each given project.
func (a *Adapter) GetLatestDeployments(ctx context.Context, projectIDs []string) ([]schema.DeploymentSummary, error) {
	var deployments []schema.DeploymentSummary
	for _, projectID := range projectIDs {
		projectID = strings.TrimSpace(projectID)
		if projectID == "" {
			continue
		}
		params := url.Values{}
		params.Set("projectId", projectID)
		params.Set("limit", strconv.Itoa(a.opts.perProject()))
		if team := a.opts.TeamID; team != "" {
			params.Set("teamId", team)
		}
		var payload deploymentsResponse
		if err := a.get(ctx, deploymentsPath, params, &payload); err != nil {
			return nil, fmt.Errorf("fetch vercel deployments for %s: %w", projectID, err)
		}
		for _, record := range payload.Deployments {
			deployments = append(deployments, mapDeployment(projectID, record))
		}
	}
	return deployments, nil
}

// GetDeploymentDetails fetches the richer record for one deployment.
func (a *Adapter) GetDeploymentDetails(ctx context.Context, deploymentID string) (schema.DeploymentDetail, error) {
	var record deploymentDetailRecord
	if err := a.get(ctx, deploymentDetailPath+url.PathEscape(deploymentID), nil, &record); err != nil {
		if errs.IsNotFound(err) {
			return schema.DeploymentDetail{}, errs.New(vercelMetadata.identifier, errs.CodeNotFound,
				errs.WithMessage("deployment "+deploymentID+" not found"),
				errs.WithCause(err))
		}
		return schema.DeploymentDetail{}, fmt.Errorf("fetch vercel deployment %s: %w", deploymentID, err)
	}
	summary := mapDeployment("", record.deploymentRecord)
	detail := schema.DeploymentDetail{
		Summary:    summary,
		BuildLogs:  "",
		ErrorText:  record.ErrorMessage,
		DurationMS: 0,
		Placehold:  false,
	}
	if record.BuildingAt > 0 && record.Ready > record.BuildingAt {
		detail.DurationMS = record.Ready - record.BuildingAt
	}
	return detail, nil
}

// OpenInBrowser opens the deployment or project page on vercel.com.
func (a *Adapter) OpenInBrowser(ctx context.Context, target adapters.BrowserTarget, id string) error {
	switch target {
	case adapters.TargetDeployment:
		if !strings.HasPrefix(id, "http") {
			id = "https://" + id
		}
		return a.open(ctx, id)
	case adapters.TargetProject:
		return a.open(ctx, defaultDashboardURL+"/"+url.PathEscape(id))
	default:
		return errs.New(vercelMetadata.identifier, errs.CodeInvalid, errs.WithMessage("unknown browser target"))
	}
}

func (a *Adapter) get(ctx context.Context, path string, params url.Values, out any) error {
	token := strings.TrimSpace(a.opts.Token)
	if token == "" {
		return errs.NotConnected(vercelMetadata.identifier)
	}
	endpoint := a.opts.baseURL() + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return httpx.WithRetry(ctx, httpx.DefaultMaxAttempts, httpx.DefaultBaseDelay, httpx.DefaultRetriable, func() error {
		return a.client.RequestJSON(ctx, endpoint, httpx.RequestOptions{
			Method:  "",
			Headers: map[string]string{"Authorization": "Bearer " + token},
			Body:    nil,
			RawBody: nil,
			Timeout: a.opts.RequestTimeout,
		}, out)
	})
}

func mapProject(record projectRecord) schema.HostedProject {
	project := schema.HostedProject{
		Provider:     schema.ProviderVercel,
		ProjectID:    record.ID,
		Name:         record.Name,
		Environments: nil,
		Repo:         nil,
	}
	// Targets is a map; fix the order so identical fetches produce
	// deep-equal snapshots.
	targets := make([]string, 0, len(record.Targets))
	for name := range record.Targets {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	for _, name := range targets {
		project.Environments = append(project.Environments, schema.Environment{
			ID:   record.ID + ":" + name,
			Name: name,
			Type: schema.CanonicalEnvironment(name),
		})
	}
	if record.Link != nil && record.Link.Repo != "" {
		project.Repo = &schema.RepoLink{
			Owner:  record.Link.Org,
			Name:   record.Link.Repo,
			Branch: record.Link.ProductionBranch,
		}
	}
	return project
}

func mapDeployment(projectID string, record deploymentRecord) schema.DeploymentSummary {
	environment := schema.EnvPreview
	if strings.EqualFold(record.Target, "production") {
		environment = schema.EnvProduction
	}
	created := time.UnixMilli(record.CreatedAt).UTC()
	updated := created
	if record.Ready > record.CreatedAt {
		updated = time.UnixMilli(record.Ready).UTC()
	}
	return schema.DeploymentSummary{
		Provider:      schema.ProviderVercel,
		ProjectID:     projectID,
		Environment:   environment,
		DeploymentID:  record.UID,
		State:         mapState(record.State),
		URL:           record.URL,
		CommitSHA:     record.Meta.CommitSHA,
		CommitMessage: record.Meta.CommitMessage,
		Author:        record.Meta.CommitAuthor,
		CreatedAt:     created,
		UpdatedAt:     updated,
	}
}

func mapState(raw string) schema.DeploymentState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "READY":
		return schema.StateReady
	case "ERROR":
		return schema.StateFailed
	case "BUILDING", "DEPLOYING":
		return schema.StateBuilding
	case "QUEUED", "INITIALIZING":
		return schema.StateQueued
	case "CANCELED":
		return schema.StateCanceled
	default:
		return schema.StateQueued
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
