// Package httpapi is the wire layer: a gorilla/mux router exposing the
// agent-plane and control-plane endpoints over the Application's services.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lattice-run/core/internal/app/auth"
	"github.com/lattice-run/core/internal/app/services/agents"
	"github.com/lattice-run/core/pkg/logger"
)

type contextKey string

const (
	ctxKeyUserID    contextKey = "user_id"
	ctxKeyAgentID   contextKey = "agent_id"
	ctxKeyAccountID contextKey = "account_id"
	ctxKeyTraceID   contextKey = "trace_id"
)

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

func userFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyUserID).(string)
	return v, ok && v != ""
}

func withAgent(ctx context.Context, agentID, accountID string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyAgentID, agentID)
	return context.WithValue(ctx, ctxKeyAccountID, accountID)
}

func agentFromContext(ctx context.Context) (agentID, accountID string, ok bool) {
	agentID, agentOK := ctx.Value(ctxKeyAgentID).(string)
	accountID, accountOK := ctx.Value(ctxKeyAccountID).(string)
	return agentID, accountID, agentOK && accountOK
}

// userAuthMiddleware resolves the caller's bearer JWT to a userId and stores
// it in the request context. It rejects the request at the wire layer on any
// validation failure, matching the "silence is never approval" contract.
func userAuthMiddleware(manager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, unauthorized("missing bearer token"))
				return
			}
			claims, err := manager.Validate(token)
			if err != nil {
				writeError(w, unauthorized("invalid or expired token"))
				return
			}
			r = r.WithContext(withUser(r.Context(), claims.UserID))
			next.ServeHTTP(w, r)
		})
	}
}

// agentAuthMiddleware resolves the caller's agent bearer token to its
// (agentId, accountId) pair via the Agent Registry.
func agentAuthMiddleware(registry *agents.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, unauthorized("missing bearer token"))
				return
			}
			ag, err := registry.ValidateToken(r.Context(), token)
			if err != nil {
				writeError(w, unauthorized("invalid or expired agent token"))
				return
			}
			r = r.WithContext(withAgent(r.Context(), ag.ID, ag.AccountID))
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// loggingMiddleware tags every request with a trace ID and logs method, path,
// status, and duration once the handler returns.
func loggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" {
				traceID = uuid.NewString()
			}
			r.Header.Set("X-Trace-ID", traceID)
			w.Header().Set("X-Trace-ID", traceID)
			r = r.WithContext(context.WithValue(r.Context(), ctxKeyTraceID, traceID))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r)

			log.WithField("trace_id", traceID).
				WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithField("status", rec.status).
				WithField("duration_ms", time.Since(start).Milliseconds()).
				Info("request handled")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

// recoveryMiddleware converts a panicking handler into a 500 INTERNAL_ERROR
// response instead of tearing down the server.
func recoveryMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithField("panic", fmt.Sprintf("%v", rec)).
						WithField("stack", string(debug.Stack())).
						Error("panic recovered")
					writeError(w, internalError(fmt.Errorf("%v", rec)))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSConfig configures which origins may call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string
}

// corsMiddleware reflects an allowed Origin back with the standard
// Access-Control-* headers and answers preflight OPTIONS requests directly.
func corsMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	allowAll := false
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			allowAll = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || originAllowed(origin, cfg.AllowedOrigins)) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(3600))
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == origin {
			return true
		}
		if strings.HasPrefix(a, ".") && strings.HasSuffix(host, strings.TrimPrefix(a, ".")) {
			return true
		}
	}
	return false
}
