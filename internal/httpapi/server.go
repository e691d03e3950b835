package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pulseops.app/internal/audit"
	"pulseops.app/internal/auth"
	"pulseops.app/internal/obs"
	"pulseops.app/internal/otp"
	"pulseops.app/internal/pii"
	"pulseops.app/internal/ratelimit"
)

const serviceName = "pulseops-api"

// Probe is a named readiness check, typically a store ping.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Deps are the collaborators the HTTP layer delegates to.
type Deps struct {
	Tokens    *auth.TokenService
	Guard     *auth.Guard
	OTP       *otp.Service
	Directory auth.AccountStore
	Trail     *audit.Trail
	Limiter   ratelimit.Limiter
	PII       *pii.Guard
	Probes    []Probe
}

// Options tune the middleware chain.
type Options struct {
	Version           string
	MaxBodyBytes      int64
	RequestsPerMinute int
	Burst             int
	CorrelationHeader string
	LoginPerHour      int
}

// API is the HTTP layer.
type API struct {
	router       chi.Router
	deps         Deps
	version      string
	loginPerHour int
}

func New(deps Deps, opts Options) *API {
	if deps.Guard == nil {
		deps.Guard = auth.NewGuard(nil)
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.NewMemory(nil)
	}
	a := &API{
		router:       chi.NewRouter(),
		deps:         deps,
		version:      opts.Version,
		loginPerHour: opts.LoginPerHour,
	}
	if a.loginPerHour <= 0 {
		a.loginPerHour = 10
	}

	r := a.router
	r.Use(RequestID(opts.CorrelationHeader))
	r.Use(LoggingJSON)
	r.Use(SecurityHeaders)
	if opts.RequestsPerMinute > 0 {
		r.Use(NewIPThrottle(opts.RequestsPerMinute, opts.Burst).Middleware)
	}
	if opts.MaxBodyBytes > 0 {
		r.Use(MaxBodyBytes(opts.MaxBodyBytes))
	}

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Post("/otp", a.handleOTPRequest)
		r.Post("/otp/verify", a.handleOTPVerify)
		r.Post("/refresh", a.handleRefresh)
		r.Group(func(r chi.Router) {
			r.Use(a.Authenticate)
			r.Post("/logout", a.handleLogout)
			r.Get("/me", a.handleMe)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.Authenticate)
		r.With(a.RequireRole(auth.RoleAdmin)).Get("/v1/roles", a.handleRoles)
		r.With(a.RequirePermission(auth.PermManageDoctors)).
			Put("/v1/clinics/{clinicID}/accounts/{userID}/status", a.handleAccountStatus)
		r.Get("/v1/clinics/{clinicID}/doctors", a.handleListDoctors)
		r.Route("/v1/clinics/{clinicID}/doctors/{doctorID}", func(r chi.Router) {
			r.With(a.RequireAnyPermission(auth.QueueManagement()...)).Get("/queue", a.handleQueueAccess)
			r.With(a.RequireAnyPermission(auth.MedicalDocumentation()...)).Get("/visits", a.handleVisitAccess)
			r.With(a.RequireAnyPermission(auth.PatientManagement()...)).
				Get("/patients/{patientID}", a.handlePatientAccess)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": map[string]any{
			"code": "NOT_FOUND", "message": "resource not found", "details": map[string]any{},
		}})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "error": map[string]any{
			"code": "METHOD_NOT_ALLOWED", "message": "method not allowed", "details": map[string]any{},
		}})
	})
	return a
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for _, p := range a.deps.Probes {
		if err := p.Check(ctx); err != nil {
			failed[p.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"failed": failed,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
