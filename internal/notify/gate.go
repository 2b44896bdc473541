package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/statusdeck/internal/schema"
	"github.com/coachpo/statusdeck/lib/async"
)

// Gate wraps the failure detector with a one-shot priming flag. The first
// update event after construction is consumed silently so pre-existing
// failures present at startup are not re-announced; every later event yields
// one alert per newly-failed deployment.
type Gate struct {
	logger *log.Logger
	sinks  []Sink
	rule   *Rule
	pool   *async.Pool
	clock  func() time.Time

	mu     sync.Mutex
	primed bool

	metrics gateMetrics
}

type gateMetrics struct {
	emitted    metric.Int64Counter
	suppressed metric.Int64Counter
}

// GateOption configures gate construction.
type GateOption func(*Gate)

// WithRule installs a JavaScript alert filter. A nil rule allows everything.
func WithRule(rule *Rule) GateOption {
	return func(g *Gate) {
		g.rule = rule
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(clock func() time.Time) GateOption {
	return func(g *Gate) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGate builds a gate delivering alerts to the given sinks through pool.
// A nil pool delivers synchronously, which tests rely on.
func NewGate(logger *log.Logger, pool *async.Pool, sinks []Sink, opts ...GateOption) *Gate {
	g := &Gate{
		logger:  logger,
		sinks:   sinks,
		rule:    nil,
		pool:    pool,
		clock:   func() time.Time { return time.Now().UTC() },
		mu:      sync.Mutex{},
		primed:  false,
		metrics: newGateMetrics(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func newGateMetrics() gateMetrics {
	meter := otel.Meter("statusdeck.notify")
	m := gateMetrics{emitted: nil, suppressed: nil}
	m.emitted, _ = meter.Int64Counter("statusdeck_alerts_emitted",
		metric.WithDescription("Alerts delivered to sinks"),
		metric.WithUnit("{alert}"))
	m.suppressed, _ = meter.Int64Counter("statusdeck_alerts_suppressed",
		metric.WithDescription("Alerts dropped by priming or rule filter"),
		metric.WithUnit("{alert}"))
	return m
}

// Primed reports whether the gate has consumed its baseline event.
func (g *Gate) Primed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.primed
}

// HandleUpdate is the store subscriber entrypoint.
func (g *Gate) HandleUpdate(update schema.Update) {
	g.mu.Lock()
	if !g.primed {
		g.primed = true
		g.mu.Unlock()
		return
	}
	g.mu.Unlock()

	failed := FindNewlyFailed(update.Previous.Deployments, update.Current.Deployments)
	if len(failed) == 0 {
		return
	}

	names := projectNames(update.Current)
	now := g.clock()
	for _, dep := range failed {
		alert := NewAlert(dep, names[dep.Provider][dep.ProjectID], now)
		if !g.allowed(alert) {
			g.count(g.metrics.suppressed, alert)
			continue
		}
		g.dispatch(alert)
		g.count(g.metrics.emitted, alert)
	}
}

func (g *Gate) allowed(alert Alert) bool {
	if g.rule == nil {
		return true
	}
	ok, err := g.rule.Allow(alert)
	if err != nil {
		// A broken rule must not silence real failures.
		if g.logger != nil {
			g.logger.Printf("alert rule: %v", err)
		}
		return true
	}
	return ok
}

func (g *Gate) dispatch(alert Alert) {
	for _, sink := range g.sinks {
		sink := sink
		if g.pool == nil {
			g.deliver(context.Background(), sink, alert)
			continue
		}
		if err := g.pool.Submit(context.Background(), func(ctx context.Context) error {
			g.deliver(ctx, sink, alert)
			return nil
		}); err != nil && g.logger != nil {
			g.logger.Printf("enqueue alert sink=%s: %v", sink.Name(), err)
		}
	}
}

func (g *Gate) deliver(ctx context.Context, sink Sink, alert Alert) {
	if err := sink.Deliver(ctx, alert); err != nil && g.logger != nil {
		g.logger.Printf("deliver alert sink=%s deployment=%s: %v", sink.Name(), alert.DeploymentID, err)
	}
}

func (g *Gate) count(counter metric.Int64Counter, alert Alert) {
	if counter == nil {
		return
	}
	counter.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("provider", string(alert.Provider))))
}

func projectNames(snap schema.Snapshot) map[schema.ProviderID]map[string]string {
	names := make(map[schema.ProviderID]map[string]string, 4)
	for _, project := range snap.Projects {
		byID := names[project.Provider]
		if byID == nil {
			byID = make(map[string]string, 8)
			names[project.Provider] = byID
		}
		byID[project.ProjectID] = project.Name
	}
	return names
}
