// Package store holds the canonical in-memory deployment state across providers.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/statusdeck/internal/schema"
)

// DefaultRetention caps how many deployments are kept per project.
const DefaultRetention = 20

// SubscriptionID uniquely identifies a store subscription.
type SubscriptionID string

// UpdateFunc receives diff-carrying update events from the store.
type UpdateFunc func(schema.Update)

// ProviderSeed names a provider the store should track from startup.
type ProviderSeed struct {
	ID          schema.ProviderID
	DisplayName string
}

type providerState struct {
	status      schema.ProviderStatus
	projects    map[string]schema.HostedProject
	deployments map[schema.DeploymentKey]schema.DeploymentSummary
}

type subscriber struct {
	id SubscriptionID
	fn UpdateFunc
}

// Store is the single source of truth for the merged deployment view.
//
// Mutations serialize on an internal lock; update events are delivered
// synchronously, in mutation order, with the previous/current snapshot pair
// captured atomically with the mutation that produced it. Snapshot reads only
// take a read lock, so calling Snapshot from inside an update handler is safe.
type Store struct {
	// dispatchMu is acquired before mu and held across event delivery so
	// updates reach subscribers in strict mutation order.
	dispatchMu sync.Mutex

	mu        sync.RWMutex
	providers map[schema.ProviderID]*providerState
	fetchedAt *time.Time
	retention int

	subMu sync.RWMutex
	subs  []subscriber
}

// Option configures store construction.
type Option func(*Store)

// WithRetention overrides the per-project deployment retention cap.
func WithRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.retention = n
		}
	}
}

// New creates a store seeded with the given providers, each starting
// disconnected with no fetch history.
func New(seeds []ProviderSeed, opts ...Option) *Store {
	s := &Store{
		dispatchMu: sync.Mutex{},
		mu:         sync.RWMutex{},
		providers:  make(map[schema.ProviderID]*providerState, len(seeds)),
		fetchedAt:  nil,
		retention:  DefaultRetention,
		subMu:      sync.RWMutex{},
		subs:       nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	for _, seed := range seeds {
		s.initializeLocked(seed.ID, seed.DisplayName)
	}
	return s
}

// InitializeProvider registers a provider if it is not already known.
func (s *Store) InitializeProvider(id schema.ProviderID, displayName string) {
	if id.Validate() != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializeLocked(id, displayName)
}

func (s *Store) initializeLocked(id schema.ProviderID, displayName string) {
	if _, ok := s.providers[id]; ok {
		return
	}
	if displayName == "" {
		displayName = string(id)
	}
	s.providers[id] = &providerState{
		status: schema.ProviderStatus{
			Provider:      id,
			DisplayName:   displayName,
			Connected:     false,
			LastSuccessAt: nil,
			LastAttemptAt: nil,
			StaleSince:    nil,
			Error:         "",
		},
		projects:    make(map[string]schema.HostedProject),
		deployments: make(map[schema.DeploymentKey]schema.DeploymentSummary),
	}
}

// ApplyResult merges one provider fetch outcome into the store and emits an
// update event. Successful results replace the provider's project and
// deployment sets, except that an incoming deployment never overwrites a
// strictly newer record with the same identity. Error results leave the
// provider's data untouched and only update connectivity metadata.
func (s *Store) ApplyResult(res schema.ProviderResult) {
	if res.Provider.Validate() != nil {
		return
	}
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	previous := s.snapshotLocked()

	state, ok := s.providers[res.Provider]
	if !ok {
		s.initializeLocked(res.Provider, "")
		state = s.providers[res.Provider]
	}

	fetchedAt := res.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now().UTC()
	}
	attempt := fetchedAt
	state.status.LastAttemptAt = &attempt
	state.status.Connected = res.Connected
	state.status.Error = res.Error

	if res.Error != "" {
		if state.status.StaleSince == nil {
			stale := fetchedAt
			state.status.StaleSince = &stale
		}
	} else {
		success := fetchedAt
		state.status.LastSuccessAt = &success
		state.status.StaleSince = nil
		s.replaceProviderData(state, res)
		storeFetched := fetchedAt
		s.fetchedAt = &storeFetched
	}

	current := s.snapshotLocked()
	s.mu.Unlock()

	s.deliver(schema.Update{Previous: previous, Current: current})
}

func (s *Store) replaceProviderData(state *providerState, res schema.ProviderResult) {
	projects := make(map[string]schema.HostedProject, len(res.Projects))
	for _, project := range res.Projects {
		if project.ProjectID == "" {
			continue
		}
		project.Provider = res.Provider
		projects[project.ProjectID] = project
	}
	state.projects = projects

	deployments := make(map[schema.DeploymentKey]schema.DeploymentSummary, len(res.Deployments))
	for _, dep := range res.Deployments {
		if dep.DeploymentID == "" || dep.ProjectID == "" {
			continue
		}
		dep.Provider = res.Provider
		key := dep.Key()
		if existing, ok := state.deployments[key]; ok && existing.UpdatedAt.After(dep.UpdatedAt) {
			deployments[key] = existing
			continue
		}
		if incumbent, ok := deployments[key]; ok && incumbent.UpdatedAt.After(dep.UpdatedAt) {
			continue
		}
		deployments[key] = dep
	}
	state.deployments = prune(deployments, s.retention)
}

// prune keeps at most retention deployments per project, newest by updatedAt.
func prune(deployments map[schema.DeploymentKey]schema.DeploymentSummary, retention int) map[schema.DeploymentKey]schema.DeploymentSummary {
	if retention <= 0 {
		return deployments
	}
	byProject := make(map[string][]schema.DeploymentSummary)
	for _, dep := range deployments {
		byProject[dep.ProjectID] = append(byProject[dep.ProjectID], dep)
	}
	pruned := make(map[schema.DeploymentKey]schema.DeploymentSummary, len(deployments))
	for _, list := range byProject {
		schema.SortByUpdatedAtDesc(list)
		if len(list) > retention {
			list = list[:retention]
		}
		for _, dep := range list {
			pruned[dep.Key()] = dep
		}
	}
	return pruned
}

// MarkDisconnected flags a provider as disconnected and purges its projects
// and deployments. Unknown providers are ignored.
func (s *Store) MarkDisconnected(id schema.ProviderID, message string) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	state, ok := s.providers[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	previous := s.snapshotLocked()

	now := time.Now().UTC()
	state.status.Connected = false
	state.status.Error = message
	state.status.LastAttemptAt = &now
	state.status.StaleSince = nil
	state.projects = make(map[string]schema.HostedProject)
	state.deployments = make(map[schema.DeploymentKey]schema.DeploymentSummary)

	current := s.snapshotLocked()
	s.mu.Unlock()

	s.deliver(schema.Update{Previous: previous, Current: current})
}

// Snapshot returns the deterministic sorted view of all known state.
func (s *Store) Snapshot() schema.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() schema.Snapshot {
	var (
		projects    []schema.HostedProject
		deployments []schema.DeploymentSummary
		statuses    []schema.ProviderStatus
	)
	for _, state := range s.providers {
		for _, project := range state.projects {
			projects = append(projects, cloneProject(project))
		}
		for _, dep := range state.deployments {
			deployments = append(deployments, dep)
		}
		statuses = append(statuses, cloneStatus(state.status))
	}
	schema.SortProjects(projects)
	schema.SortDeployments(deployments)
	schema.SortProviderStatuses(statuses)

	var fetchedAt *time.Time
	if s.fetchedAt != nil {
		at := *s.fetchedAt
		fetchedAt = &at
	}
	return schema.Snapshot{
		Projects:    projects,
		Deployments: deployments,
		Providers:   statuses,
		FetchedAt:   fetchedAt,
	}
}

// Project returns the project with the given identity, if known.
func (s *Store) Project(id schema.ProviderID, projectID string) (schema.HostedProject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.providers[id]
	if !ok {
		return schema.HostedProject{}, false
	}
	project, ok := state.projects[projectID]
	if !ok {
		return schema.HostedProject{}, false
	}
	return cloneProject(project), true
}

// DeploymentsForProject returns the project's deployments, newest first.
func (s *Store) DeploymentsForProject(id schema.ProviderID, projectID string) []schema.DeploymentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.providers[id]
	if !ok {
		return nil
	}
	var deployments []schema.DeploymentSummary
	for _, dep := range state.deployments {
		if dep.ProjectID == projectID {
			deployments = append(deployments, dep)
		}
	}
	schema.SortByUpdatedAtDesc(deployments)
	return deployments
}

// Subscribe registers an update handler. Handlers run synchronously on the
// mutating goroutine, in subscription order.
func (s *Store) Subscribe(fn UpdateFunc) SubscriptionID {
	if fn == nil {
		return ""
	}
	id := SubscriptionID(uuid.NewString())
	s.subMu.Lock()
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()
	return id
}

// Unsubscribe removes a previously registered handler.
func (s *Store) Unsubscribe(id SubscriptionID) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Store) deliver(update schema.Update) {
	s.subMu.RLock()
	subs := make([]subscriber, len(s.subs))
	copy(subs, s.subs)
	s.subMu.RUnlock()
	for _, sub := range subs {
		sub.fn(update)
	}
}

func cloneProject(project schema.HostedProject) schema.HostedProject {
	clone := project
	if project.Environments != nil {
		clone.Environments = make([]schema.Environment, len(project.Environments))
		copy(clone.Environments, project.Environments)
	}
	if project.Repo != nil {
		repo := *project.Repo
		clone.Repo = &repo
	}
	return clone
}

func cloneStatus(status schema.ProviderStatus) schema.ProviderStatus {
	clone := status
	if status.LastSuccessAt != nil {
		at := *status.LastSuccessAt
		clone.LastSuccessAt = &at
	}
	if status.LastAttemptAt != nil {
		at := *status.LastAttemptAt
		clone.LastAttemptAt = &at
	}
	if status.StaleSince != nil {
		at := *status.StaleSince
		clone.StaleSince = &at
	}
	return clone
}
