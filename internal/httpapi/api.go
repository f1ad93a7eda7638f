package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"afripay.org/internal/access"
	"afripay.org/internal/audit"
	"afripay.org/internal/obs"
	"afripay.org/internal/permission"
	"afripay.org/internal/session"
)

// ReadyProbe checks downstream readiness (DB ping when configured).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the identity core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	sessions *session.Manager
	registry *permission.Registry
	workflow *access.Workflow
	ledger   *audit.Ledger
}

func New(rp ReadyProbe, version string, sessions *session.Manager, registry *permission.Registry, workflow *access.Workflow, ledger *audit.Ledger) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		sessions:   sessions,
		registry:   registry,
		workflow:   workflow,
		ledger:     ledger,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/otp/verify", a.handleOTPVerify)
	a.mux.HandleFunc("/v1/auth/otp/resend", a.handleOTPResend)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)

	// sessions
	a.mux.HandleFunc("/v1/sessions", a.handleSessionsCollection)
	a.mux.HandleFunc("/v1/sessions/", a.handleSessionResource)

	// permission catalog
	a.mux.HandleFunc("/v1/permissions", a.handlePermissionsCollection)
	a.mux.HandleFunc("/v1/permissions/", a.handlePermissionResource)

	// access request workflow
	a.mux.HandleFunc("/v1/access-requests", a.handleRequestsCollection)
	a.mux.HandleFunc("/v1/access-requests/", a.handleRequestResource)
	a.mux.HandleFunc("/v1/access/emergency", a.handleEmergencyAccess)

	// audit
	a.mux.HandleFunc("/v1/audit/verify", a.handleAuditVerify)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler wires authentication and metrics around the mux.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "afripay-identity",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "afripay-identity",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
