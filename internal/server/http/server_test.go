package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/statusdeck/errs"
	"github.com/coachpo/statusdeck/internal/adapters"
	"github.com/coachpo/statusdeck/internal/adapters/fake"
	"github.com/coachpo/statusdeck/internal/schema"
	"github.com/coachpo/statusdeck/internal/store"
)

type stubTrigger struct {
	err   error
	calls int
}

func (t *stubTrigger) TriggerNow(context.Context) error {
	t.calls++
	return t.err
}

func fixtureStore(t *testing.T) (*store.Store, *fake.Adapter) {
	t.Helper()
	adapter := fake.New(schema.ProviderVercel, "Vercel")
	adapter.SetConnected(true)

	st := store.New([]store.ProviderSeed{{ID: schema.ProviderVercel, DisplayName: "Vercel"}})
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	st.ApplyResult(schema.ProviderResult{
		Provider:  schema.ProviderVercel,
		Connected: true,
		Projects: []schema.HostedProject{{
			Provider:     schema.ProviderVercel,
			ProjectID:    "web",
			Name:         "marketing-site",
			Environments: nil,
			Repo:         nil,
		}},
		Deployments: []schema.DeploymentSummary{{
			Provider:      schema.ProviderVercel,
			ProjectID:     "web",
			Environment:   schema.EnvProduction,
			DeploymentID:  "dpl-1",
			State:         schema.StateReady,
			URL:           "https://web.example.com",
			CommitSHA:     "",
			CommitMessage: "",
			Author:        "",
			CreatedAt:     now,
			UpdatedAt:     now,
		}},
		Error:     "",
		FetchedAt: now,
	})
	return st, adapter
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer func() {
		_ = resp.Body.Close()
	}()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestGetStatusReturnsSnapshot(t *testing.T) {
	st, adapter := fixtureStore(t)
	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), &stubTrigger{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snapshot schema.Snapshot
	decodeBody(t, resp, &snapshot)
	require.Len(t, snapshot.Projects, 1)
	require.Len(t, snapshot.Deployments, 1)
	require.Equal(t, "dpl-1", snapshot.Deployments[0].DeploymentID)
}

func TestHealthz(t *testing.T) {
	st, adapter := fixtureStore(t)
	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), &stubTrigger{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGetProviderDetailAndMiss(t *testing.T) {
	st, adapter := fixtureStore(t)
	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), &stubTrigger{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/providers/vercel")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status schema.ProviderStatus
	decodeBody(t, resp, &status)
	require.True(t, status.Connected)

	resp, err = http.Get(srv.URL + "/providers/render")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGetProjectDeployments(t *testing.T) {
	st, adapter := fixtureStore(t)
	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), &stubTrigger{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/projects/vercel/web/deployments")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Project     schema.HostedProject       `json:"project"`
		Deployments []schema.DeploymentSummary `json:"deployments"`
	}
	decodeBody(t, resp, &payload)
	require.Equal(t, "marketing-site", payload.Project.Name)
	require.Len(t, payload.Deployments, 1)

	resp, err = http.Get(srv.URL + "/projects/vercel/ghost/deployments")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGetDeploymentDetail(t *testing.T) {
	st, adapter := fixtureStore(t)
	detail := schema.DeploymentDetail{
		Summary: schema.DeploymentSummary{
			Provider:      schema.ProviderVercel,
			ProjectID:     "web",
			Environment:   schema.EnvProduction,
			DeploymentID:  "dpl-1",
			State:         schema.StateReady,
			URL:           "",
			CommitSHA:     "",
			CommitMessage: "",
			Author:        "",
			CreatedAt:     time.Time{},
			UpdatedAt:     time.Time{},
		},
		BuildLogs:  "done",
		ErrorText:  "",
		DurationMS: 4200,
		Placehold:  false,
	}
	adapter.SetDetail("dpl-1", detail)

	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), &stubTrigger{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/deployments/vercel/dpl-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got schema.DeploymentDetail
	decodeBody(t, resp, &got)
	require.Equal(t, int64(4200), got.DurationMS)
	require.False(t, got.Placehold)
}

func TestGetDeploymentDetailPlaceholderOnNotFound(t *testing.T) {
	st, adapter := fixtureStore(t)
	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), &stubTrigger{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/deployments/vercel/ghost")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got schema.DeploymentDetail
	decodeBody(t, resp, &got)
	require.True(t, got.Placehold)
	require.Equal(t, "ghost", got.Summary.DeploymentID)
}

func TestGetDeploymentDetailProviderError(t *testing.T) {
	st, adapter := fixtureStore(t)
	adapter.SetFetchError(errs.New(string(schema.ProviderVercel), errs.CodeUnavailable,
		errs.WithMessage("upstream down")))
	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), &stubTrigger{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/deployments/vercel/dpl-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestPostRefresh(t *testing.T) {
	st, adapter := fixtureStore(t)
	trigger := &stubTrigger{}
	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), trigger))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/refresh", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	require.Equal(t, 1, trigger.calls)

	resp, err = http.Get(srv.URL + "/refresh")
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestPostRefreshSurfacesProviderErrors(t *testing.T) {
	st, adapter := fixtureStore(t)
	trigger := &stubTrigger{err: errors.New("refreshed with provider errors: netlify")}
	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), trigger))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/refresh", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var payload map[string]string
	decodeBody(t, resp, &payload)
	require.Contains(t, payload["error"], "netlify")
}

func TestWSStreamsSnapshotAndUpdates(t *testing.T) {
	st, adapter := fixtureStore(t)
	srv := httptest.NewServer(NewHandler(st, adapters.NewRegistry(adapter), &stubTrigger{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/ws", nil)
	require.NoError(t, err)
	defer func() {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	_, raw, err := conn.Read(ctx)
	require.NoError(t, err)
	var first wsEnvelope
	require.NoError(t, json.Unmarshal(raw, &first))
	require.Equal(t, "snapshot", first.Type)
	require.Len(t, first.Snapshot.Deployments, 1)

	st.MarkDisconnected(schema.ProviderVercel, "token revoked")

	_, raw, err = conn.Read(ctx)
	require.NoError(t, err)
	var second wsEnvelope
	require.NoError(t, json.Unmarshal(raw, &second))
	require.Equal(t, "update", second.Type)
	require.Empty(t, second.Snapshot.Deployments)
}
