package vercel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/statusdeck/errs"
	"github.com/coachpo/statusdeck/internal/adapters"
	"github.com/coachpo/statusdeck/internal/httpx"
	"github.com/coachpo/statusdeck/internal/schema"
)

func newTestAdapter(t *testing.T, handler http.Handler) (*Adapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	adapter := New(
		Options{Token: "tok-1", TeamID: "", BaseURL: srv.URL, RequestTimeout: 5 * time.Second, DeploymentsPer: 5},
		WithClient(httpx.NewClient("vercel", httpx.WithRequestsPerSecond(1000))),
	)
	return adapter, srv
}

func TestAuthenticateStoresSession(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/user", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"user":{"username":"deckhand","email":"d@example.com"}}`))
	}))

	session, err := adapter.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, schema.ProviderVercel, session.Provider)
	require.Equal(t, "deckhand", session.AccountLabel)
	require.True(t, adapter.Connected())

	require.NoError(t, adapter.Logout(context.Background()))
	require.False(t, adapter.Connected())
}

func TestAuthenticateWithoutTokenFailsFast(t *testing.T) {
	adapter := New(Options{})
	_, err := adapter.Authenticate(context.Background())
	require.True(t, errs.IsAuth(err))
}

func TestGetProjectsMapsRecords(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v9/projects", r.URL.Path)
		_, _ = w.Write([]byte(`{"projects":[
			{"id":"prj_1","name":"marketing","link":{"type":"github","org":"acme","repo":"marketing","productionBranch":"main"},"targets":{"production":{"id":"dpl_9"}}},
			{"id":"","name":"ghost"}
		]}`))
	}))

	projects, err := adapter.GetProjects(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, "prj_1", projects[0].ProjectID)
	require.Equal(t, "marketing", projects[0].Name)
	require.NotNil(t, projects[0].Repo)
	require.Equal(t, "acme", projects[0].Repo.Owner)
	require.Len(t, projects[0].Environments, 1)
	require.Equal(t, schema.EnvProduction, projects[0].Environments[0].Type)
}

func TestGetProjectsOrdersEnvironmentsDeterministically(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"projects":[
			{"id":"prj_1","name":"marketing","targets":{"staging":{"id":"dpl_2"},"production":{"id":"dpl_1"},"preview":{"id":"dpl_3"}}}
		]}`))
	}))

	first, err := adapter.GetProjects(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, []string{"preview", "production", "staging"}, environmentNames(first[0]))

	// Repeated fetches of unchanged data must be deep-equal so snapshot
	// diffing never reports spurious changes.
	for i := 0; i < 5; i++ {
		again, err := adapter.GetProjects(context.Background(), "")
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func environmentNames(project schema.HostedProject) []string {
	names := make([]string, 0, len(project.Environments))
	for _, env := range project.Environments {
		names = append(names, env.Name)
	}
	return names
}

func TestGetLatestDeploymentsMapsStates(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v6/deployments", r.URL.Path)
		require.Equal(t, "prj_1", r.URL.Query().Get("projectId"))
		_, _ = w.Write([]byte(`{"deployments":[
			{"uid":"dpl_a","url":"a.vercel.app","state":"READY","target":"production","createdAt":1710000000000,"ready":1710000300000,"meta":{"githubCommitSha":"abc123","githubCommitAuthorName":"ana"}},
			{"uid":"dpl_b","url":"b.vercel.app","state":"ERROR","target":"","createdAt":1710001000000}
		]}`))
	}))

	deployments, err := adapter.GetLatestDeployments(context.Background(), []string{"prj_1"})
	require.NoError(t, err)
	require.Len(t, deployments, 2)

	ready := deployments[0]
	require.Equal(t, schema.StateReady, ready.State)
	require.Equal(t, schema.EnvProduction, ready.Environment)
	require.Equal(t, "abc123", ready.CommitSHA)
	require.Equal(t, time.UnixMilli(1710000300000).UTC(), ready.UpdatedAt)

	failed := deployments[1]
	require.Equal(t, schema.StateFailed, failed.State)
	require.Equal(t, schema.EnvPreview, failed.Environment, "non-production targets bucket as preview")
}

func TestGetDeploymentDetailsNotFound(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found"}}`))
	}))

	_, err := adapter.GetDeploymentDetails(context.Background(), "dpl_missing")
	require.True(t, errs.IsNotFound(err))
}

func TestOpenInBrowserUsesOpener(t *testing.T) {
	var opened string
	adapter := New(Options{Token: "tok"}, WithBrowserOpener(func(_ context.Context, url string) error {
		opened = url
		return nil
	}))

	require.NoError(t, adapter.OpenInBrowser(context.Background(), adapters.TargetDeployment, "a.vercel.app"))
	require.Equal(t, "https://a.vercel.app", opened)

	require.NoError(t, adapter.OpenInBrowser(context.Background(), adapters.TargetProject, "marketing"))
	require.Equal(t, "https://vercel.com/marketing", opened)
}

func TestGetProjectsRetriesOnServerError(t *testing.T) {
	var calls int
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"projects":[]}`))
	}))

	_, err := adapter.GetProjects(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
