package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const httpLogPrefix = "server:http"

// Router wires the admin API onto the Service. The route table is the
// HTTP counterpart of the builtin command registry, so the two must stay
// aligned.
type Router struct {
	svc     *Service
	hub     *StreamHub
	metrics *Metrics
	apiKey  string

	healthTimeout time.Duration
}

// RouterParams bundles Router dependencies.
type RouterParams struct {
	Service       *Service
	Hub           *StreamHub
	Metrics       *Metrics
	APIKey        string
	HealthTimeout time.Duration
}

// NewRouter creates a Router. Hub and Metrics may be nil.
func NewRouter(p RouterParams) *Router {
	timeout := p.HealthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Router{
		svc:           p.Service,
		hub:           p.Hub,
		metrics:       p.Metrics,
		apiKey:        p.APIKey,
		healthTimeout: timeout,
	}
}

// Handler builds the full HTTP handler: admin routes behind auth, plus
// unauthenticated health and metrics endpoints.
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/proxy/status", rt.handleProxyStatus)

	mux.HandleFunc("GET /api/accounts", rt.handleListAccounts)
	mux.HandleFunc("GET /api/accounts/current", rt.handleCurrentAccount)
	mux.HandleFunc("POST /api/accounts", rt.handleAddAccount)
	mux.HandleFunc("POST /api/accounts/switch", rt.handleSwitchAccount)
	mux.HandleFunc("DELETE /api/accounts/{accountId}", rt.handleDeleteAccount)

	mux.HandleFunc("GET /api/config", rt.handleGetConfig)
	mux.HandleFunc("POST /api/config", rt.handleSaveConfig)

	mux.HandleFunc("GET /api/stats/summary", rt.handleStats)

	mux.HandleFunc("POST /api/cli/status", rt.handleCLISync)

	mux.HandleFunc("POST /api/logs/enable", rt.handleEnableLogs)
	mux.HandleFunc("POST /api/logs/disable", rt.handleDisableLogs)
	mux.HandleFunc("GET /api/logs/status", rt.handleLogStatus)
	mux.HandleFunc("GET /api/logs", rt.handleLogSnapshot)
	mux.HandleFunc("DELETE /api/logs", rt.handleClearLogs)

	if rt.hub != nil {
		mux.Handle("GET /api/logs/stream", rt.hub)
	}

	root := http.NewServeMux()
	root.Handle("/api/", rt.withAuth(rt.withMetrics(mux)))
	root.HandleFunc("GET /health", rt.handleHealth)
	root.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if rt.metrics != nil {
		root.Handle("GET /metrics", rt.metrics.Handler())
	}
	return root
}

// withAuth rejects requests lacking the configured API key. With no key
// configured the API is open, which is the local desktop deployment.
func (rt *Router) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rt.apiKey == "" || r.Header.Get("X-Api-Key") == rt.apiKey ||
			r.Header.Get("Authorization") == "Bearer "+rt.apiKey {
			next.ServeHTTP(w, r)
			return
		}
		slog.Warn(fmt.Sprintf("%s - unauthorized request to %s from %s", httpLogPrefix, r.URL.Path, r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (rt *Router) withMetrics(next http.Handler) http.Handler {
	if rt.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket upgrade needs the raw ResponseWriter (Hijacker).
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		rt.metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(sr.status)).Inc()
	})
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), rt.healthTimeout)
	defer cancel()
	status := "healthy"
	code := http.StatusOK
	if _, err := rt.svc.LogSnapshot(ctx); err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (rt *Router) handleProxyStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.Status())
}

func (rt *Router) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.ListAccounts())
}

func (rt *Router) handleCurrentAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := rt.svc.CurrentAccount()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (rt *Router) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var in AddAccountInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acct, err := rt.svc.AddAccount(&in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (rt *Router) handleSwitchAccount(w http.ResponseWriter, r *http.Request) {
	var in SwitchAccountInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acct, err := rt.svc.SwitchAccount(&in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (rt *Router) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.DeleteAccount(r.PathValue("accountId")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *Router) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.GetSettings())
}

func (rt *Router) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var in Settings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	saved, err := rt.svc.SaveSettings(&in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.Stats())
}

func (rt *Router) handleCLISync(w http.ResponseWriter, r *http.Request) {
	var in CLISyncInput
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	out, err := rt.svc.CLISync(&in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleEnableLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.EnableLogStream())
}

func (rt *Router) handleDisableLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.DisableLogStream())
}

func (rt *Router) handleLogStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rt.svc.LogStreamStatus())
}

func (rt *Router) handleLogSnapshot(w http.ResponseWriter, r *http.Request) {
	records, err := rt.svc.LogSnapshot(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (rt *Router) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := rt.svc.ClearLogs(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - response encode: %v", httpLogPrefix, err))
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps typed service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		switch svcErr.Code {
		case "NOT_FOUND":
			writeError(w, http.StatusNotFound, svcErr.Message)
		case "INVALID_ARGUMENT":
			writeError(w, http.StatusBadRequest, svcErr.Message)
		case "CONFLICT":
			writeError(w, http.StatusConflict, svcErr.Message)
		default:
			writeError(w, http.StatusInternalServerError, svcErr.Message)
		}
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
