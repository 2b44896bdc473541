package schema

import "sort"

// SortProjects orders projects by (provider, name) so snapshots are stable.
func SortProjects(projects []HostedProject) {
	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].Provider != projects[j].Provider {
			return projects[i].Provider < projects[j].Provider
		}
		if projects[i].Name != projects[j].Name {
			return projects[i].Name < projects[j].Name
		}
		return projects[i].ProjectID < projects[j].ProjectID
	})
}

// SortDeployments orders deployments by (provider, projectId, environment,
// updatedAt descending). Deployment id breaks exact-timestamp ties.
func SortDeployments(deployments []DeploymentSummary) {
	sort.SliceStable(deployments, func(i, j int) bool {
		a, b := deployments[i], deployments[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.ProjectID != b.ProjectID {
			return a.ProjectID < b.ProjectID
		}
		if a.Environment != b.Environment {
			return a.Environment < b.Environment
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.DeploymentID < b.DeploymentID
	})
}

// SortByUpdatedAtDesc orders deployments newest first regardless of grouping.
func SortByUpdatedAtDesc(deployments []DeploymentSummary) {
	sort.SliceStable(deployments, func(i, j int) bool {
		if !deployments[i].UpdatedAt.Equal(deployments[j].UpdatedAt) {
			return deployments[i].UpdatedAt.After(deployments[j].UpdatedAt)
		}
		return deployments[i].DeploymentID < deployments[j].DeploymentID
	})
}

// SortProviderStatuses orders provider statuses by display name.
func SortProviderStatuses(statuses []ProviderStatus) {
	sort.SliceStable(statuses, func(i, j int) bool {
		if statuses[i].DisplayName != statuses[j].DisplayName {
			return statuses[i].DisplayName < statuses[j].DisplayName
		}
		return statuses[i].Provider < statuses[j].Provider
	})
}
