// Package httpserver exposes the statusdeck control API: snapshot reads,
// provider inspection, manual refresh, and the live update stream.
package httpserver

import (
	"context"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/statusdeck/errs"
	"github.com/coachpo/statusdeck/internal/adapters"
	"github.com/coachpo/statusdeck/internal/schema"
	"github.com/coachpo/statusdeck/internal/store"
)

const (
	statusPath  = "/status"
	healthzPath = "/healthz"
	refreshPath = "/refresh"
	wsPath      = "/ws"

	providersPath        = "/providers"
	providerDetailPrefix = providersPath + "/"

	projectsPath        = "/projects"
	projectDetailPrefix = projectsPath + "/"

	deploymentDetailPrefix = "/deployments/"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// Trigger runs one immediate refresh and surfaces provider errors.
type Trigger interface {
	TriggerNow(ctx context.Context) error
}

type httpServer struct {
	store    *store.Store
	registry *adapters.Registry
	trigger  Trigger
}

// NewHandler builds the control API handler over the store, adapter registry,
// and refresh trigger.
func NewHandler(st *store.Store, registry *adapters.Registry, trigger Trigger) http.Handler {
	server := &httpServer{store: st, registry: registry, trigger: trigger}
	mux := http.NewServeMux()

	mux.Handle(healthzPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getHealthz,
	}))
	mux.Handle(statusPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getStatus,
	}))
	mux.Handle(providersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listProviders,
	}))
	mux.Handle(providerDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getProvider,
	}))
	mux.Handle(projectsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listProjects,
	}))
	mux.Handle(projectDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getProjectDeployments,
	}))
	mux.Handle(deploymentDetailPrefix, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getDeploymentDetail,
	}))
	mux.Handle(refreshPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.postRefresh,
	}))
	mux.Handle(wsPath, http.HandlerFunc(server.serveWS))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) getHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *httpServer) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

func (s *httpServer) listProviders(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"providers": snapshot.Providers})
}

func (s *httpServer) getProvider(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, providerDetailPrefix), "/")
	if id == "" {
		writeError(w, http.StatusNotFound, "provider id required")
		return
	}
	snapshot := s.store.Snapshot()
	for _, status := range snapshot.Providers {
		if status.Provider == schema.ProviderID(id) {
			writeJSON(w, http.StatusOK, status)
			return
		}
	}
	writeError(w, http.StatusNotFound, "provider not found")
}

func (s *httpServer) listProjects(w http.ResponseWriter, _ *http.Request) {
	snapshot := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"projects": snapshot.Projects})
}

func (s *httpServer) getProjectDeployments(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, projectDetailPrefix), "/")
	provider, rest, ok := strings.Cut(rest, "/")
	if !ok {
		writeError(w, http.StatusNotFound, "project id required")
		return
	}
	projectID, tail, hasTail := strings.Cut(rest, "/deployments")
	if projectID == "" || (hasTail && tail != "") {
		writeError(w, http.StatusNotFound, "unsupported project resource")
		return
	}

	id := schema.ProviderID(provider)
	if err := id.Validate(); err != nil {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	project, found := s.store.Project(id, projectID)
	if !found {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if !hasTail {
		writeJSON(w, http.StatusOK, project)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":     project,
		"deployments": s.store.DeploymentsForProject(id, projectID),
	})
}

func (s *httpServer) getDeploymentDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, deploymentDetailPrefix), "/")
	provider, deploymentID, ok := strings.Cut(rest, "/")
	if !ok || deploymentID == "" {
		writeError(w, http.StatusNotFound, "deployment id required")
		return
	}

	adapter, found := s.registry.Get(schema.ProviderID(provider))
	if !found {
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	}
	detail, err := adapter.GetDeploymentDetails(r.Context(), deploymentID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, detail)
	case errs.IsNotFound(err):
		// Deleted upstream: render the graceful empty record instead of 404.
		writeJSON(w, http.StatusOK, schema.PlaceholderDetail(adapter.Provider(), deploymentID))
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *httpServer) postRefresh(w http.ResponseWriter, r *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh trigger unavailable")
		return
	}
	if err := s.trigger.TriggerNow(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
