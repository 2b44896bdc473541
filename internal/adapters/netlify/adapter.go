// Package netlify implements the Netlify hosting provider adapter.
package netlify

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coachpo/statusdeck/errs"
	"github.com/coachpo/statusdeck/internal/adapters"
	"github.com/coachpo/statusdeck/internal/httpx"
	"github.com/coachpo/statusdeck/internal/schema"
)

type publicMetadata struct {
	identifier  string
	displayName string
	description string
}

var netlifyMetadata = publicMetadata{
	identifier:  "netlify",
	displayName: "Netlify",
	description: "Netlify deployment status adapter",
}

const (
	defaultBaseURL      = "https://api.netlify.com"
	defaultDashboardURL = "https://app.netlify.com"
	userPath            = "/api/v1/user"
	sitesPath           = "/api/v1/sites"
	deployDetailPath    = "/api/v1/deploys/"
	defaultDeploysPer   = 10
)

type userRecord struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

type siteRecord struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	URL           string `json:"url"`
	AccountSlug   string `json:"account_slug"`
	BuildSettings struct {
		RepoURL    string `json:"repo_url"`
		RepoBranch string `json:"repo_branch"`
	} `json:"build_settings"`
}

type deployRecord struct {
	ID           string `json:"id"`
	SiteID       string `json:"site_id"`
	State        string `json:"state"`
	Context      string `json:"context"`
	Branch       string `json:"branch"`
	CommitRef    string `json:"commit_ref"`
	Title        string `json:"title"`
	CommitAuthor string `json:"committer"`
	DeploySSLURL string `json:"deploy_ssl_url"`
	ErrorMessage string `json:"error_message"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
	DeployTime   int64  `json:"deploy_time"`
}

// Options configures the Netlify adapter.
type Options struct {
	Token          string
	AccountSlug    string
	BaseURL        string
	RequestTimeout time.Duration
	DeploysPer     int
}

func (o Options) baseURL() string {
	if trimmed := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/"); trimmed != "" {
		return trimmed
	}
	return defaultBaseURL
}

func (o Options) perSite() int {
	if o.DeploysPer > 0 {
		return o.DeploysPer
	}
	return defaultDeploysPer
}

// Adapter talks to the Netlify REST API.
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

// New constructs the Netlify adapter.
func New(opts Options, adapterOpts ...Option) *Adapter {
	a := &Adapter{
		opts:    opts,
		client:  httpx.NewClient(netlifyMetadata.identifier),
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
func (a *Adapter) Provider() schema.ProviderID { return schema.ProviderNetlify }

// DisplayName returns the human-readable provider name.
func (a *Adapter) DisplayName() string { return netlifyMetadata.displayName }

// Connected reports whether an authenticated session exists.
func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session != nil
}

// Authenticate validates the configured token against the Netlify user endpoint.
func (a *Adapter) Authenticate(ctx context.Context) (schema.AuthSession, error) {
	token := strings.TrimSpace(a.opts.Token)
	if token == "" {
		return schema.AuthSession{}, errs.NotConnected(netlifyMetadata.identifier)
	}
	var user userRecord
	if err := a.get(ctx, userPath, nil, &user); err != nil {
		return schema.AuthSession{}, fmt.Errorf("verify netlify token: %w", err)
	}
	session := schema.AuthSession{
		Provider:     schema.ProviderNetlify,
		AccessToken:  token,
		AccountLabel: user.FullName,
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

// GetProjects lists sites, optionally filtered to an account slug.
func (a *Adapter) GetProjects(ctx context.Context, scope string) ([]schema.HostedProject, error) {
	account := strings.TrimSpace(scope)
	if account == "" {
		account = strings.TrimSpace(a.opts.AccountSlug)
	}
	var sites []siteRecord
	if err := a.get(ctx, sitesPath, nil, &sites); err != nil {
		return nil, fmt.Errorf("fetch netlify sites: %w", err)
	}
	projects := make([]schema.HostedProject, 0, len(sites))
	for _, site := range sites {
		if strings.TrimSpace(site.ID) == "" {
			continue
		}
		if account != "" && !strings.EqualFold(site.AccountSlug, account) {
			continue
		}
		projects = append(projects, mapSite(site))
	}
	return projects, nil
}

// GetLatestDeployments fetches recent deploys for each given site.
func (a *Adapter) GetLatestDeployments(ctx context.Context, projectIDs []string) ([]schema.DeploymentSummary, error) {
	var deployments []schema.DeploymentSummary
	for _, siteID := range projectIDs {
		siteID = strings.TrimSpace(siteID)
		if siteID == "" {
			continue
		}
		params := url.Values{}
		params.Set("per_page", strconv.Itoa(a.opts.perSite()))
		var deploys []deployRecord
		path := sitesPath + "/" + url.PathEscape(siteID) + "/deploys"
		if err := a.get(ctx, path, params, &deploys); err != nil {
			return nil, fmt.Errorf("fetch netlify deploys for %s: %w", siteID, err)
		}
		for _, deploy := range deploys {
			deployments = append(deployments, mapDeploy(siteID, deploy))
		}
	}
	return deployments, nil
}

// GetDeploymentDetails fetches the richer record for one deploy.
func (a *Adapter) GetDeploymentDetails(ctx context.Context, deploymentID string) (schema.DeploymentDetail, error) {
	var deploy deployRecord
	if err := a.get(ctx, deployDetailPath+url.PathEscape(deploymentID), nil, &deploy); err != nil {
		if errs.IsNotFound(err) {
			return schema.DeploymentDetail{}, errs.New(netlifyMetadata.identifier, errs.CodeNotFound,
				errs.WithMessage("deploy "+deploymentID+" not found"),
				errs.WithCause(err))
		}
		return schema.DeploymentDetail{}, fmt.Errorf("fetch netlify deploy %s: %w", deploymentID, err)
	}
	return schema.DeploymentDetail{
		Summary:    mapDeploy(deploy.SiteID, deploy),
		BuildLogs:  "",
		ErrorText:  deploy.ErrorMessage,
		DurationMS: deploy.DeployTime * 1000,
		Placehold:  false,
	}, nil
}

// OpenInBrowser opens the deploy or site page on app.netlify.com.
func (a *Adapter) OpenInBrowser(ctx context.Context, target adapters.BrowserTarget, id string) error {
	switch target {
	case adapters.TargetDeployment:
		if !strings.HasPrefix(id, "http") {
			id = "https://" + id
		}
		return a.open(ctx, id)
	case adapters.TargetProject:
		return a.open(ctx, defaultDashboardURL+"/sites/"+url.PathEscape(id))
	default:
		return errs.New(netlifyMetadata.identifier, errs.CodeInvalid, errs.WithMessage("unknown browser target"))
	}
}

func (a *Adapter) get(ctx context.Context, path string, params url.Values, out any) error {
	token := strings.TrimSpace(a.opts.Token)
	if token == "" {
		return errs.NotConnected(netlifyMetadata.identifier)
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

func mapSite(site siteRecord) schema.HostedProject {
	project := schema.HostedProject{
		Provider:     schema.ProviderNetlify,
		ProjectID:    site.ID,
		Name:         site.Name,
		Environments: nil,
		Repo:         nil,
	}
	for _, name := range []string{"production", "deploy-preview", "branch-deploy"} {
		project.Environments = append(project.Environments, schema.Environment{
			ID:   site.ID + ":" + name,
			Name: name,
			Type: schema.CanonicalEnvironment(name),
		})
	}
	if repoURL := strings.TrimSpace(site.BuildSettings.RepoURL); repoURL != "" {
		if owner, name, ok := splitRepoURL(repoURL); ok {
			project.Repo = &schema.RepoLink{Owner: owner, Name: name, Branch: site.BuildSettings.RepoBranch}
		}
	}
	return project
}

func splitRepoURL(repoURL string) (owner, name string, ok bool) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[len(parts)-2], parts[len(parts)-1], true
}

func mapDeploy(siteID string, deploy deployRecord) schema.DeploymentSummary {
	created := parseTime(deploy.CreatedAt)
	updated := parseTime(deploy.UpdatedAt)
	if updated.IsZero() {
		updated = created
	}
	return schema.DeploymentSummary{
		Provider:      schema.ProviderNetlify,
		ProjectID:     siteID,
		Environment:   schema.CanonicalEnvironment(deploy.Context),
		DeploymentID:  deploy.ID,
		State:         mapState(deploy.State),
		URL:           deploy.DeploySSLURL,
		CommitSHA:     deploy.CommitRef,
		CommitMessage: deploy.Title,
		Author:        deploy.CommitAuthor,
		CreatedAt:     created,
		UpdatedAt:     updated,
	}
}

func mapState(raw string) schema.DeploymentState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "ready", "current":
		return schema.StateReady
	case "error":
		return schema.StateFailed
	case "building", "processing", "uploading", "uploaded", "preparing":
		return schema.StateBuilding
	case "new", "enqueued", "pending_review", "accepted":
		return schema.StateQueued
	case "rejected", "deleted", "skipped":
		return schema.StateCanceled
	default:
		return schema.StateQueued
	}
}

func parseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return at.UTC()
}
