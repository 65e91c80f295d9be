package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/lattice-run/core/internal/app"
	"github.com/lattice-run/core/internal/app/auth"
	"github.com/lattice-run/core/internal/app/metrics"
	"github.com/lattice-run/core/pkg/logger"
)

// Options configures the router beyond the Application it serves.
type Options struct {
	JWTManager *auth.JWTManager
	CORS       CORSConfig
}

// NewRouter builds the full HTTP surface: agent plane, control plane, and the
// ambient operational endpoints, each behind the middleware appropriate to
// its authentication plane.
func NewRouter(a *app.Application, opts Options) http.Handler {
	log := a.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	h := &handlers{app: a, log: log}

	router := mux.NewRouter()
	router.Use(recoveryMiddleware(log))
	router.Use(loggingMiddleware(log))
	router.Use(corsMiddleware(opts.CORS))
	router.Use(metrics.InstrumentHandler)

	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	router.Handle("/metrics", metricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/system/descriptors", h.systemDescriptors).Methods(http.MethodGet)

	agentAuth := agentAuthMiddleware(a.Agents)
	agentRouter := router.PathPrefix("/agent").Subrouter()
	agentRouter.HandleFunc("/register", h.agentRegister).Methods(http.MethodPost)
	protectedAgent := agentRouter.NewRoute().Subrouter()
	protectedAgent.Use(agentAuth)
	protectedAgent.HandleFunc("/heartbeat", h.agentHeartbeat).Methods(http.MethodPost)
	protectedAgent.HandleFunc("/jobs", h.agentPullJobs).Methods(http.MethodGet)
	protectedAgent.HandleFunc("/jobs/{jobId}/result", h.agentSubmitResult).Methods(http.MethodPost)
	protectedAgent.HandleFunc("/events", h.agentRecordEvent).Methods(http.MethodPost)
	protectedAgent.HandleFunc("/screenshots", h.agentScreenshot).Methods(http.MethodPost)
	protectedAgent.HandleFunc("/control-state", h.agentControlState).Methods(http.MethodGet)

	userAuth := userAuthMiddleware(opts.JWTManager)
	userRouter := router.NewRoute().Subrouter()
	userRouter.Use(userAuth)
	userRouter.HandleFunc("/accounts", h.listAccounts).Methods(http.MethodGet)
	userRouter.HandleFunc("/accounts", h.createAccount).Methods(http.MethodPost)
	userRouter.HandleFunc("/accounts/{accountId}", h.getAccount).Methods(http.MethodGet)
	userRouter.HandleFunc("/accounts/{accountId}/pause", h.pauseAccount).Methods(http.MethodPatch)
	userRouter.HandleFunc("/agents/{accountId}", h.getAgentForAccount).Methods(http.MethodGet)
	userRouter.HandleFunc("/jobs", h.createJob).Methods(http.MethodPost)
	userRouter.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	userRouter.HandleFunc("/jobs/{jobId}", h.getJob).Methods(http.MethodGet)
	userRouter.HandleFunc("/jobs/{jobId}/result", h.getJobResult).Methods(http.MethodGet)
	userRouter.HandleFunc("/risk/violations", h.listViolations).Methods(http.MethodGet)
	userRouter.HandleFunc("/risk/acknowledge", h.acknowledgeViolation).Methods(http.MethodPost)
	userRouter.HandleFunc("/risk/score/{accountId}", h.getRiskScore).Methods(http.MethodGet)
	userRouter.HandleFunc("/audit", h.queryAudit).Methods(http.MethodGet)

	return router
}

func metricsHandler() http.Handler {
	return metrics.Handler()
}
