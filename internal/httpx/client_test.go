package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/statusdeck/errs"
)

func TestRequestJSONDecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"site-a","id":42}`))
	}))
	defer srv.Close()

	client := NewClient("vercel", WithRequestsPerSecond(1000))
	var out struct {
		Name string `json:"name"`
		ID   int    `json:"id"`
	}
	err := client.RequestJSON(context.Background(), srv.URL, RequestOptions{
		Headers: map[string]string{"Authorization": "Bearer token-1"},
	}, &out)
	require.NoError(t, err)
	require.Equal(t, "site-a", out.Name)
	require.Equal(t, 42, out.ID)
}

func TestRequestJSONRawTextFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text payload"))
	}))
	defer srv.Close()

	client := NewClient("netlify", WithRequestsPerSecond(1000))
	var raw string
	require.NoError(t, client.RequestJSON(context.Background(), srv.URL, RequestOptions{}, &raw))
	require.Equal(t, "plain text payload", raw)
}

func TestRequestJSONStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		code   errs.Code
	}{
		{http.StatusUnauthorized, errs.CodeAuth},
		{http.StatusNotFound, errs.CodeNotFound},
		{http.StatusTooManyRequests, errs.CodeRateLimited},
		{http.StatusBadGateway, errs.CodeUnavailable},
		{http.StatusConflict, errs.CodeProvider},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		client := NewClient("vercel", WithRequestsPerSecond(1000))
		err := client.RequestJSON(context.Background(), srv.URL, RequestOptions{}, nil)
		srv.Close()

		var e *errs.E
		require.ErrorAs(t, err, &e, "status %d", tc.status)
		require.Equal(t, tc.code, e.Code)
		require.Equal(t, tc.status, e.HTTP)
		require.Contains(t, e.RawBody, "nope")
	}
}

func TestRequestJSONParsesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient("vercel", WithRequestsPerSecond(1000))
	err := client.RequestJSON(context.Background(), srv.URL, RequestOptions{}, nil)

	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, 7*time.Second, e.RetryAfter)
	require.True(t, errs.Retriable(err))
}

func TestRequestJSONNetworkError(t *testing.T) {
	client := NewClient("vercel", WithRequestsPerSecond(1000))
	err := client.RequestJSON(context.Background(), "http://127.0.0.1:1/nothing", RequestOptions{Timeout: 200 * time.Millisecond}, nil)

	var e *errs.E
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.CodeNetwork, e.Code)
	require.True(t, errs.Retriable(err))
}

func TestWithRetryRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int64
	err := WithRetry(context.Background(), 3, time.Millisecond, DefaultRetriable, func() error {
		if calls.Add(1) < 3 {
			return errs.New("vercel", errs.CodeUnavailable, errs.WithHTTP(503))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), calls.Load())
}

func TestWithRetryStopsOnNonRetriable(t *testing.T) {
	var calls atomic.Int64
	authErr := errs.New("vercel", errs.CodeAuth, errs.WithHTTP(401))
	err := WithRetry(context.Background(), 5, time.Millisecond, DefaultRetriable, func() error {
		calls.Add(1)
		return authErr
	})
	require.ErrorIs(t, err, authErr)
	require.Equal(t, int64(1), calls.Load())
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	var calls atomic.Int64
	err := WithRetry(context.Background(), 3, time.Millisecond, DefaultRetriable, func() error {
		calls.Add(1)
		return errs.New("vercel", errs.CodeNetwork, errs.WithCause(errors.New("refused")))
	})
	require.Error(t, err)
	require.Equal(t, int64(3), calls.Load())
}

func TestWithRetryHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithRetry(ctx, 3, time.Hour, DefaultRetriable, func() error {
		return errs.New("vercel", errs.CodeNetwork)
	})
	require.ErrorIs(t, err, context.Canceled)
}
