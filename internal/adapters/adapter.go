// Package adapters defines the provider adapter contract and registry.
package adapters

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/coachpo/statusdeck/internal/schema"
)

// BrowserTarget names the kind of resource OpenInBrowser should show.
type BrowserTarget string

const (
	// TargetDeployment opens a deployment's public or inspector URL.
	TargetDeployment BrowserTarget = "deployment"
	// TargetProject opens the provider dashboard for a project.
	TargetProject BrowserTarget = "project"
)

// Adapter is one hosting provider integration. Implementations normalize the
// provider's REST representations into the shared schema types.
type Adapter interface {
	// Provider returns the stable provider id.
	Provider() schema.ProviderID
	// DisplayName returns the human-readable provider name.
	DisplayName() string
	// Connected reports whether a usable session exists.
	Connected() bool
	// Authenticate establishes a session from configured credentials.
	Authenticate(ctx context.Context) (schema.AuthSession, error)
	// Logout clears the stored session. Always succeeds locally.
	Logout(ctx context.Context) error
	// GetProjects lists hosted projects within the configured scope.
	GetProjects(ctx context.Context, scope string) ([]schema.HostedProject, error)
	// GetLatestDeployments returns recent deployments across the given projects.
	GetLatestDeployments(ctx context.Context, projectIDs []string) ([]schema.DeploymentSummary, error)
	// GetDeploymentDetails returns the richer record for one deployment. A
	// missing deployment yields a not_found envelope the caller maps to a
	// placeholder.
	GetDeploymentDetails(ctx context.Context, deploymentID string) (schema.DeploymentDetail, error)
	// OpenInBrowser opens the provider page for the target in the user's browser.
	OpenInBrowser(ctx context.Context, target BrowserTarget, id string) error
}

// Registry holds the configured adapter set. It is an explicit value wired at
// construction time, never a process-global.
type Registry struct {
	mu       sync.RWMutex
	ordered  []schema.ProviderID
	adapters map[schema.ProviderID]Adapter
}

// NewRegistry builds a registry from the given adapters, preserving order.
func NewRegistry(list ...Adapter) *Registry {
	r := &Registry{
		mu:       sync.RWMutex{},
		ordered:  make([]schema.ProviderID, 0, len(list)),
		adapters: make(map[schema.ProviderID]Adapter, len(list)),
	}
	for _, adapter := range list {
		if adapter == nil {
			continue
		}
		id := adapter.Provider()
		if _, ok := r.adapters[id]; ok {
			continue
		}
		r.ordered = append(r.ordered, id)
		r.adapters[id] = adapter
	}
	return r
}

// Get returns the adapter registered for the provider id.
func (r *Registry) Get(id schema.ProviderID) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[id]
	return adapter, ok
}

// All returns the adapters in registration order.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.ordered))
	for _, id := range r.ordered {
		out = append(out, r.adapters[id])
	}
	return out
}

// Seeds derives the store seed list from the registered adapters.
func (r *Registry) Seeds() []ProviderSeed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seeds := make([]ProviderSeed, 0, len(r.ordered))
	for _, id := range r.ordered {
		seeds = append(seeds, ProviderSeed{ID: id, DisplayName: r.adapters[id].DisplayName()})
	}
	return seeds
}

// ProviderSeed mirrors the store's seed tuple without importing it.
type ProviderSeed struct {
	ID          schema.ProviderID
	DisplayName string
}

// OpenURL launches the system browser for the given URL. Adapters share this
// helper; tests replace it through the adapter options.
func OpenURL(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("open browser: empty url")
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	return nil
}
