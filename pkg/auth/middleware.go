package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rhuss/antwort-sandbox/pkg/api"
	"github.com/rhuss/antwort-sandbox/pkg/observability"
	"github.com/rhuss/antwort-sandbox/pkg/storage"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// Middleware authenticates requests with chain, applies limiter when set,
// and stores the identity and tenant in the request context.
func Middleware(chain *Chain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
	bypass := make(map[string]bool, len(bypassEndpoints))
	for _, ep := range bypassEndpoints {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			res := chain.Authenticate(r.Context(), r)
			if res.Decision != Yes || res.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", res.Err,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="sandbox"`)
				writeError(w, api.NewUnauthorizedError("authentication required"))
				return
			}
			id := res.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				writeError(w, api.NewServerError("internal authentication error"))
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.Tier())
					observability.RateLimitRejectedTotal.WithLabelValues(id.Tier()).Inc()
					w.Header().Set("Retry-After", "1")
					writeError(w, api.NewTooManyRequestsError("rate limit exceeded"))
					return
				}
			}

			slog.Debug("authenticated", "subject", id.Subject, "tenant", id.Tenant, "path", r.URL.Path)
			ctx := SetIdentity(r.Context(), id)
			if id.Tenant != "" {
				ctx = storage.SetTenant(ctx, id.Tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, e *api.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(api.HTTPStatus(e))
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: e})
}
