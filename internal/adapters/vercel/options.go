// Package vercel implements the Vercel hosting provider adapter.
package vercel

import (
	"strings"
	"time"
)

type publicMetadata struct {
	identifier  string
	displayName string
	description string
}

var vercelMetadata = publicMetadata{
	identifier:  "vercel",
	displayName: "Vercel",
	description: "Vercel deployment status adapter",
}

const (
	defaultBaseURL        = "https://api.vercel.com"
	defaultDashboardURL   = "https://vercel.com"
	userPath              = "/v2/user"
	projectsPath          = "/v9/projects"
	deploymentsPath       = "/v6/deployments"
	deploymentDetailPath  = "/v13/deployments/"
	defaultDeploymentsPer = 10
)

// Options configures the Vercel adapter.
type Options struct {
	Token          string
	TeamID         string
	BaseURL        string
	RequestTimeout time.Duration
	DeploymentsPer int
}

func (o Options) baseURL() string {
	if trimmed := strings.TrimRight(strings.TrimSpace(o.BaseURL), "/"); trimmed != "" {
		return trimmed
	}
	return defaultBaseURL
}

func (o Options) perProject() int {
	if o.DeploymentsPer > 0 {
		return o.DeploymentsPer
	}
	return defaultDeploymentsPer
}
