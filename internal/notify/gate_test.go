package notify

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/statusdeck/internal/schema"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(_ context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *captureSink) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

func gateLogger() *log.Logger {
	return log.New(os.Stdout, "notify-test ", log.LstdFlags)
}

func decodeJSON(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func updateWith(previous, current []schema.DeploymentSummary) schema.Update {
	return schema.Update{
		Previous: schema.Snapshot{Projects: nil, Deployments: previous, Providers: nil, FetchedAt: nil},
		Current:  schema.Snapshot{Projects: nil, Deployments: current, Providers: nil, FetchedAt: nil},
	}
}

func TestGateSuppressesFirstUpdate(t *testing.T) {
	sink := &captureSink{}
	gate := NewGate(gateLogger(), nil, []Sink{sink})

	failedNow := []schema.DeploymentSummary{
		dep("p1", schema.EnvProduction, "d1", schema.StateFailed),
	}
	gate.HandleUpdate(updateWith(nil, failedNow))

	require.True(t, gate.Primed())
	require.Empty(t, sink.Alerts())
}

func TestGateEmitsAfterPriming(t *testing.T) {
	sink := &captureSink{}
	gate := NewGate(gateLogger(), nil, []Sink{sink})

	baseline := []schema.DeploymentSummary{
		dep("p1", schema.EnvProduction, "d1", schema.StateBuilding),
	}
	gate.HandleUpdate(updateWith(nil, baseline))

	failed := []schema.DeploymentSummary{
		dep("p1", schema.EnvProduction, "d2", schema.StateFailed),
	}
	gate.HandleUpdate(updateWith(baseline, failed))

	alerts := sink.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, schema.ProviderVercel, alerts[0].Provider)
	require.Equal(t, "d2", alerts[0].DeploymentID)
	require.NotEmpty(t, alerts[0].ID)
}

func TestGateAttachesProjectName(t *testing.T) {
	sink := &captureSink{}
	gate := NewGate(gateLogger(), nil, []Sink{sink})
	gate.HandleUpdate(updateWith(nil, nil))

	failed := []schema.DeploymentSummary{
		dep("p1", schema.EnvProduction, "d1", schema.StateFailed),
	}
	update := updateWith(nil, failed)
	update.Current.Projects = []schema.HostedProject{{
		Provider:     schema.ProviderVercel,
		ProjectID:    "p1",
		Name:         "marketing-site",
		Environments: nil,
		Repo:         nil,
	}}
	gate.HandleUpdate(update)

	alerts := sink.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, "marketing-site", alerts[0].ProjectName)
}

func TestGateRuleFiltersAlerts(t *testing.T) {
	rule, err := NewRule(`function allow(alert) { return alert.environment === "production"; }`)
	require.NoError(t, err)

	sink := &captureSink{}
	gate := NewGate(gateLogger(), nil, []Sink{sink}, WithRule(rule))
	gate.HandleUpdate(updateWith(nil, nil))

	failed := []schema.DeploymentSummary{
		dep("p1", schema.EnvProduction, "d1", schema.StateFailed),
		dep("p2", schema.EnvPreview, "d2", schema.StateFailed),
	}
	gate.HandleUpdate(updateWith(nil, failed))

	alerts := sink.Alerts()
	require.Len(t, alerts, 1)
	require.Equal(t, "d1", alerts[0].DeploymentID)
}

func TestGateBrokenRuleFailsOpen(t *testing.T) {
	rule, err := NewRule(`function allow(alert) { throw new Error("broken"); }`)
	require.NoError(t, err)

	sink := &captureSink{}
	gate := NewGate(gateLogger(), nil, []Sink{sink}, WithRule(rule))
	gate.HandleUpdate(updateWith(nil, nil))

	failed := []schema.DeploymentSummary{
		dep("p1", schema.EnvProduction, "d1", schema.StateFailed),
	}
	gate.HandleUpdate(updateWith(nil, failed))

	require.Len(t, sink.Alerts(), 1)
}

func TestRuleCompileErrors(t *testing.T) {
	_, err := NewRule(`not valid js {{{`)
	require.Error(t, err)

	_, err = NewRule(`var x = 1;`)
	require.Error(t, err)
}

func TestWebhookSinkPostsAlert(t *testing.T) {
	var mu sync.Mutex
	var got []Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		require.NoError(t, decodeJSON(r, &alert))
		mu.Lock()
		got = append(got, alert)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	alert := NewAlert(dep("p1", schema.EnvProduction, "d1", schema.StateFailed), "site",
		time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	require.NoError(t, sink.Deliver(context.Background(), alert))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.Equal(t, alert.ID, got[0].ID)
	require.Equal(t, "site", got[0].ProjectName)
}

func TestWebhookSinkRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	alert := NewAlert(dep("p1", schema.EnvProduction, "d1", schema.StateFailed), "",
		time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	require.NoError(t, sink.Deliver(context.Background(), alert))
	require.Equal(t, 2, calls)
}
