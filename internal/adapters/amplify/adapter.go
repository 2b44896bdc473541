// Package amplify implements the AWS Amplify hosting provider adapter on top
// of the official AWS SDK.
package amplify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsamplify "github.com/aws/aws-sdk-go-v2/service/amplify"
	"github.com/aws/aws-sdk-go-v2/service/amplify/types"

	"github.com/coachpo/statusdeck/errs"
	"github.com/coachpo/statusdeck/internal/adapters"
	"github.com/coachpo/statusdeck/internal/schema"
)

type publicMetadata struct {
	identifier  string
	displayName string
	description string
}

var amplifyMetadata = publicMetadata{
	identifier:  "awsAmplify",
	displayName: "AWS Amplify",
	description: "AWS Amplify deployment status adapter",
}

// API is the subset of the Amplify SDK client the adapter consumes.
type API interface {
	ListApps(ctx context.Context, params *awsamplify.ListAppsInput, optFns ...func(*awsamplify.Options)) (*awsamplify.ListAppsOutput, error)
	ListBranches(ctx context.Context, params *awsamplify.ListBranchesInput, optFns ...func(*awsamplify.Options)) (*awsamplify.ListBranchesOutput, error)
	ListJobs(ctx context.Context, params *awsamplify.ListJobsInput, optFns ...func(*awsamplify.Options)) (*awsamplify.ListJobsOutput, error)
	GetJob(ctx context.Context, params *awsamplify.GetJobInput, optFns ...func(*awsamplify.Options)) (*awsamplify.GetJobOutput, error)
}

// Options configures the Amplify adapter.
type Options struct {
	Region         string
	Profile        string
	RequestTimeout time.Duration
}

// Adapter reads deployment state from AWS Amplify.
type Adapter struct {
	opts Options
	open func(context.Context, string) error

	mu      sync.RWMutex
	api     API
	session *schema.AuthSession
}

// Option configures adapter construction.
type Option func(*Adapter)

// WithAPI injects a prebuilt Amplify client, mainly for tests.
func WithAPI(api API) Option {
	return func(a *Adapter) {
		if api != nil {
			a.api = api
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

// New constructs the Amplify adapter.
func New(opts Options, adapterOpts ...Option) *Adapter {
	a := &Adapter{
		opts:    opts,
		open:    adapters.OpenURL,
		mu:      sync.RWMutex{},
		api:     nil,
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
func (a *Adapter) Provider() schema.ProviderID { return schema.ProviderAmplify }

// DisplayName returns the human-readable provider name.
func (a *Adapter) DisplayName() string { return amplifyMetadata.displayName }

// Connected reports whether a usable AWS client exists.
func (a *Adapter) Connected() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session != nil && a.api != nil
}

// Authenticate resolves the default AWS credential chain and verifies it by
// listing Amplify apps.
func (a *Adapter) Authenticate(ctx context.Context) (schema.AuthSession, error) {
	a.mu.RLock()
	api := a.api
	a.mu.RUnlock()

	if api == nil {
		loadOpts := []func(*awsconfig.LoadOptions) error{}
		if region := strings.TrimSpace(a.opts.Region); region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(region))
		}
		if profile := strings.TrimSpace(a.opts.Profile); profile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(profile))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return schema.AuthSession{}, errs.New(amplifyMetadata.identifier, errs.CodeAuth,
				errs.WithMessage("load aws credential chain"),
				errs.WithCause(err))
		}
		api = awsamplify.NewFromConfig(cfg)
	}

	if _, err := api.ListApps(ctx, &awsamplify.ListAppsInput{}); err != nil {
		return schema.AuthSession{}, errs.New(amplifyMetadata.identifier, errs.CodeAuth,
			errs.WithMessage("verify amplify access"),
			errs.WithCause(err))
	}

	session := schema.AuthSession{
		Provider:     schema.ProviderAmplify,
		AccessToken:  "",
		AccountLabel: a.accountLabel(),
		ExpiresAt:    nil,
	}
	a.mu.Lock()
	a.api = api
	a.session = &session
	a.mu.Unlock()
	return session, nil
}

func (a *Adapter) accountLabel() string {
	if profile := strings.TrimSpace(a.opts.Profile); profile != "" {
		return profile
	}
	if region := strings.TrimSpace(a.opts.Region); region != "" {
		return region
	}
	return "default"
}

// Logout discards the client and session.
func (a *Adapter) Logout(context.Context) error {
	a.mu.Lock()
	a.api = nil
	a.session = nil
	a.mu.Unlock()
	return nil
}

func (a *Adapter) client() (API, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.api == nil {
		return nil, errs.NotConnected(amplifyMetadata.identifier)
	}
	return a.api, nil
}

// GetProjects lists Amplify apps. The scope parameter is unused: AWS scoping
// comes from the credential chain.
func (a *Adapter) GetProjects(ctx context.Context, _ string) ([]schema.HostedProject, error) {
	api, err := a.client()
	if err != nil {
		return nil, err
	}
	var projects []schema.HostedProject
	var nextToken *string
	for {
		out, err := api.ListApps(ctx, &awsamplify.ListAppsInput{NextToken: nextToken})
		if err != nil {
			return nil, errs.New(amplifyMetadata.identifier, errs.CodeProvider,
				errs.WithMessage("list amplify apps"),
				errs.WithCause(err))
		}
		for _, app := range out.Apps {
			project, err := a.mapApp(ctx, api, app)
			if err != nil {
				return nil, err
			}
			projects = append(projects, project)
		}
		if out.NextToken == nil || aws.ToString(out.NextToken) == "" {
			break
		}
		nextToken = out.NextToken
	}
	return projects, nil
}

func (a *Adapter) mapApp(ctx context.Context, api API, app types.App) (schema.HostedProject, error) {
	project := schema.HostedProject{
		Provider:     schema.ProviderAmplify,
		ProjectID:    aws.ToString(app.AppId),
		Name:         aws.ToString(app.Name),
		Environments: nil,
		Repo:         nil,
	}
	if repo := aws.ToString(app.Repository); repo != "" {
		if owner, name, ok := splitRepoURL(repo); ok {
			project.Repo = &schema.RepoLink{Owner: owner, Name: name, Branch: ""}
		}
	}
	branches, err := api.ListBranches(ctx, &awsamplify.ListBranchesInput{AppId: app.AppId})
	if err != nil {
		return schema.HostedProject{}, errs.New(amplifyMetadata.identifier, errs.CodeProvider,
			errs.WithMessage("list branches for "+project.ProjectID),
			errs.WithCause(err))
	}
	for _, branch := range branches.Branches {
		name := aws.ToString(branch.BranchName)
		project.Environments = append(project.Environments, schema.Environment{
			ID:   project.ProjectID + ":" + name,
			Name: name,
			Type: mapStage(string(branch.Stage)),
		})
	}
	return project, nil
}

// GetLatestDeployments lists recent jobs across every branch of the given apps.
func (a *Adapter) GetLatestDeployments(ctx context.Context, projectIDs []string) ([]schema.DeploymentSummary, error) {
	api, err := a.client()
	if err != nil {
		return nil, err
	}
	var deployments []schema.DeploymentSummary
	for _, appID := range projectIDs {
		appID = strings.TrimSpace(appID)
		if appID == "" {
			continue
		}
		branches, err := api.ListBranches(ctx, &awsamplify.ListBranchesInput{AppId: aws.String(appID)})
		if err != nil {
			return nil, errs.New(amplifyMetadata.identifier, errs.CodeProvider,
				errs.WithMessage("list branches for "+appID),
				errs.WithCause(err))
		}
		for _, branch := range branches.Branches {
			branchName := aws.ToString(branch.BranchName)
			jobs, err := api.ListJobs(ctx, &awsamplify.ListJobsInput{
				AppId:      aws.String(appID),
				BranchName: branch.BranchName,
			})
			if err != nil {
				return nil, errs.New(amplifyMetadata.identifier, errs.CodeProvider,
					errs.WithMessage("list jobs for "+appID+"/"+branchName),
					errs.WithCause(err))
			}
			environment := mapStage(string(branch.Stage))
			for _, job := range jobs.JobSummaries {
				deployments = append(deployments, mapJob(appID, branchName, environment, job))
			}
		}
	}
	return deployments, nil
}

// GetDeploymentDetails resolves one job. Deployment ids are "appId/branch/jobId".
func (a *Adapter) GetDeploymentDetails(ctx context.Context, deploymentID string) (schema.DeploymentDetail, error) {
	api, err := a.client()
	if err != nil {
		return schema.DeploymentDetail{}, err
	}
	appID, branchName, jobID, err := splitDeploymentID(deploymentID)
	if err != nil {
		return schema.DeploymentDetail{}, err
	}
	out, err := api.GetJob(ctx, &awsamplify.GetJobInput{
		AppId:      aws.String(appID),
		BranchName: aws.String(branchName),
		JobId:      aws.String(jobID),
	})
	if err != nil {
		var nfe *types.NotFoundException
		if errors.As(err, &nfe) {
			return schema.DeploymentDetail{}, errs.New(amplifyMetadata.identifier, errs.CodeNotFound,
				errs.WithMessage("job "+deploymentID+" not found"),
				errs.WithCause(err))
		}
		return schema.DeploymentDetail{}, errs.New(amplifyMetadata.identifier, errs.CodeProvider,
			errs.WithMessage("get job "+deploymentID),
			errs.WithCause(err))
	}
	if out.Job == nil || out.Job.Summary == nil {
		return schema.DeploymentDetail{}, errs.New(amplifyMetadata.identifier, errs.CodeNotFound,
			errs.WithMessage("job "+deploymentID+" has no summary"))
	}
	summary := mapJob(appID, branchName, schema.EnvOther, *out.Job.Summary)
	detail := schema.DeploymentDetail{
		Summary:    summary,
		BuildLogs:  "",
		ErrorText:  "",
		DurationMS: 0,
		Placehold:  false,
	}
	if !summary.CreatedAt.IsZero() && summary.UpdatedAt.After(summary.CreatedAt) {
		detail.DurationMS = summary.UpdatedAt.Sub(summary.CreatedAt).Milliseconds()
	}
	return detail, nil
}

// OpenInBrowser opens the Amplify console for the app.
func (a *Adapter) OpenInBrowser(ctx context.Context, target adapters.BrowserTarget, id string) error {
	region := strings.TrimSpace(a.opts.Region)
	if region == "" {
		region = "us-east-1"
	}
	switch target {
	case adapters.TargetDeployment, adapters.TargetProject:
		appID := id
		if parts := strings.SplitN(id, "/", 2); len(parts) > 0 {
			appID = parts[0]
		}
		console := fmt.Sprintf("https://%s.console.aws.amazon.com/amplify/apps/%s", region, url.PathEscape(appID))
		return a.open(ctx, console)
	default:
		return errs.New(amplifyMetadata.identifier, errs.CodeInvalid, errs.WithMessage("unknown browser target"))
	}
}

func mapJob(appID, branchName string, environment schema.EnvironmentName, job types.JobSummary) schema.DeploymentSummary {
	created := aws.ToTime(job.StartTime).UTC()
	updated := created
	if job.EndTime != nil {
		updated = aws.ToTime(job.EndTime).UTC()
	}
	return schema.DeploymentSummary{
		Provider:      schema.ProviderAmplify,
		ProjectID:     appID,
		Environment:   environment,
		DeploymentID:  appID + "/" + branchName + "/" + aws.ToString(job.JobId),
		State:         mapJobStatus(string(job.Status)),
		URL:           "",
		CommitSHA:     aws.ToString(job.CommitId),
		CommitMessage: aws.ToString(job.CommitMessage),
		Author:        "",
		CreatedAt:     created,
		UpdatedAt:     updated,
	}
}

func mapJobStatus(raw string) schema.DeploymentState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SUCCEED":
		return schema.StateReady
	case "FAILED":
		return schema.StateFailed
	case "RUNNING", "PROVISIONING":
		return schema.StateBuilding
	case "PENDING", "CREATED":
		return schema.StateQueued
	case "CANCELLED", "CANCELLING":
		return schema.StateCanceled
	default:
		return schema.StateQueued
	}
}

func mapStage(raw string) schema.EnvironmentName {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PRODUCTION":
		return schema.EnvProduction
	case "PULL_REQUEST", "EXPERIMENTAL":
		return schema.EnvPreview
	case "BETA", "DEVELOPMENT":
		return schema.EnvStaging
	default:
		return schema.EnvOther
	}
}

func splitDeploymentID(deploymentID string) (appID, branchName, jobID string, err error) {
	parts := strings.Split(strings.TrimSpace(deploymentID), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", errs.New(amplifyMetadata.identifier, errs.CodeInvalid,
			errs.WithMessage("deployment id must be appId/branch/jobId"))
	}
	return parts[0], parts[1], parts[2], nil
}

func splitRepoURL(repoURL string) (owner, name string, ok bool) {
	trimmed := strings.TrimSuffix(repoURL, ".git")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	return parts[len(parts)-2], parts[len(parts)-1], true
}
