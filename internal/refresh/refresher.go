// Package refresh implements the provider refresh routine the scheduler drives.
package refresh

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/statusdeck/errs"
	"github.com/coachpo/statusdeck/internal/adapters"
	"github.com/coachpo/statusdeck/internal/schema"
	"github.com/coachpo/statusdeck/internal/store"
)

// Refresher fans out one fetch per registered adapter and applies each result
// to the store. One failing provider never blocks another: errors are captured
// per provider and folded into an aggregate at the end.
type Refresher struct {
	logger   *log.Logger
	registry *adapters.Registry
	store    *store.Store
	scopes   map[schema.ProviderID]string
	clock    func() time.Time

	metrics refreshMetrics
}

type refreshMetrics struct {
	fetchDuration  metric.Float64Histogram
	providerErrors metric.Int64Counter
	resultsApplied metric.Int64Counter
}

// Option configures refresher construction.
type Option func(*Refresher)

// WithScopes sets the per-provider fetch scope (team id, account slug).
func WithScopes(scopes map[schema.ProviderID]string) Option {
	return func(r *Refresher) {
		if scopes != nil {
			r.scopes = scopes
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Refresher) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New constructs a refresher over the registry and store.
func New(logger *log.Logger, registry *adapters.Registry, st *store.Store, opts ...Option) *Refresher {
	r := &Refresher{
		logger:   logger,
		registry: registry,
		store:    st,
		scopes:   map[schema.ProviderID]string{},
		clock:    func() time.Time { return time.Now().UTC() },
		metrics:  newRefreshMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func newRefreshMetrics() refreshMetrics {
	meter := otel.Meter("statusdeck.refresh")
	m := refreshMetrics{fetchDuration: nil, providerErrors: nil, resultsApplied: nil}
	m.fetchDuration, _ = meter.Float64Histogram("statusdeck_refresh_fetch_seconds",
		metric.WithDescription("Duration of one provider fetch"),
		metric.WithUnit("s"))
	m.providerErrors, _ = meter.Int64Counter("statusdeck_refresh_provider_errors",
		metric.WithDescription("Provider fetch failures during refresh"),
		metric.WithUnit("{error}"))
	m.resultsApplied, _ = meter.Int64Counter("statusdeck_refresh_results_applied",
		metric.WithDescription("Provider results applied to the store"),
		metric.WithUnit("{result}"))
	return m
}

// Run refreshes every registered provider concurrently and returns an
// aggregate error naming the providers whose fetch failed. Providers without
// credentials are marked disconnected, which is an expected state rather
// than a failure.
func (r *Refresher) Run(ctx context.Context) error {
	list := r.registry.All()
	if len(list) == 0 {
		return nil
	}

	var mu sync.Mutex
	var failed []string

	p := pool.New().WithMaxGoroutines(len(list))
	for _, adapter := range list {
		adapter := adapter
		p.Go(func() {
			if err := r.refreshProvider(ctx, adapter); err != nil {
				mu.Lock()
				failed = append(failed, string(adapter.Provider()))
				mu.Unlock()
			}
		})
	}
	p.Wait()

	if len(failed) > 0 {
		sort.Strings(failed)
		return fmt.Errorf("refreshed with provider errors: %s", strings.Join(failed, ", "))
	}
	return nil
}

func (r *Refresher) refreshProvider(ctx context.Context, adapter adapters.Adapter) error {
	provider := adapter.Provider()

	if !adapter.Connected() {
		if _, err := adapter.Authenticate(ctx); err != nil {
			if r.logger != nil && !errs.IsAuth(err) {
				r.logger.Printf("authenticate %s: %v", provider, err)
			}
			r.store.MarkDisconnected(provider, disconnectMessage(err))
			return nil
		}
	}

	start := r.clock()
	result := r.fetch(ctx, adapter)
	if r.metrics.fetchDuration != nil {
		r.metrics.fetchDuration.Record(ctx, r.clock().Sub(start).Seconds(),
			metric.WithAttributes(attribute.String("provider", string(provider))))
	}

	r.store.ApplyResult(result)
	if r.metrics.resultsApplied != nil {
		r.metrics.resultsApplied.Add(ctx, 1,
			metric.WithAttributes(attribute.String("provider", string(provider))))
	}

	if result.Error != "" {
		if r.metrics.providerErrors != nil {
			r.metrics.providerErrors.Add(ctx, 1,
				metric.WithAttributes(attribute.String("provider", string(provider))))
		}
		if r.logger != nil {
			r.logger.Printf("refresh %s: %s", provider, result.Error)
		}
		return fmt.Errorf("refresh %s: %s", provider, result.Error)
	}
	return nil
}

// fetch runs the ordered fetch-then-normalize sequence for one provider and
// never returns an error: failures travel inside the result.
func (r *Refresher) fetch(ctx context.Context, adapter adapters.Adapter) schema.ProviderResult {
	provider := adapter.Provider()
	fetchedAt := r.clock()

	result := schema.ProviderResult{
		Provider:    provider,
		Connected:   true,
		Projects:    nil,
		Deployments: nil,
		Error:       "",
		FetchedAt:   fetchedAt,
	}

	projects, err := adapter.GetProjects(ctx, r.scopes[provider])
	if err != nil {
		result.Error = err.Error()
		return result
	}
	projectIDs := make([]string, 0, len(projects))
	for _, project := range projects {
		projectIDs = append(projectIDs, project.ProjectID)
	}

	deployments, err := adapter.GetLatestDeployments(ctx, projectIDs)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Projects = projects
	result.Deployments = deployments
	return result
}

func disconnectMessage(err error) string {
	if errs.IsAuth(err) {
		return ""
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
