package auth

import (
	"log/slog"
	"net/http"

	"github.com/rhuss/connectauth/pkg/api"
	"github.com/rhuss/connectauth/pkg/observability"
	"github.com/rhuss/connectauth/pkg/storage"
	"github.com/rhuss/connectauth/pkg/transport"
)

// Middleware creates HTTP middleware from an AuthChain and optional RateLimiter.
// It checks the bypass list, runs authentication, injects identity and
// tenant context, and optionally enforces per-tenant rate limits.
func Middleware(chain *AuthChain, limiter RateLimiter, bypassEndpoints []string) func(http.Handler) http.Handler {
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

			result := chain.Authenticate(r.Context(), r)

			if result.Decision != Yes || result.Identity == nil {
				apiErr := api.AsAPIError(result.Err)
				outcome := "rejected"
				if apiErr.Type == api.ErrorTypeServerError {
					outcome = "error"
				}
				observability.AuthAttemptsTotal.WithLabelValues(schemeLabel(result.Scheme), outcome).Inc()

				slog.Warn("authentication failed",
					"request_id", transport.RequestIDFromContext(r.Context()),
					"scheme", result.Scheme,
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"code", apiErr.Code,
					"error", result.Err,
				)
				transport.WriteAPIError(w, apiErr)
				return
			}

			id := result.Identity
			if id.ClientKey == "" && result.Scheme != SchemeBypass {
				slog.Error("authenticator returned identity without client key", "scheme", result.Scheme)
				transport.WriteAPIError(w, api.NewServerError("empty_identity", ErrUnauthenticated))
				return
			}

			observability.AuthAttemptsTotal.WithLabelValues(schemeLabel(result.Scheme), "success").Inc()
			slog.Debug("authentication succeeded",
				"client_key", id.ClientKey,
				"scheme", result.Scheme,
				"path", r.URL.Path,
			)

			if limiter != nil {
				if err := limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "client_key", id.ClientKey)
					observability.RateLimitRejectedTotal.WithLabelValues(id.ClientKey).Inc()
					transport.WriteAPIError(w, api.NewTooManyRequestsError("rate limit exceeded"))
					return
				}
			}

			ctx := SetIdentity(r.Context(), id)
			if id.ClientKey != "" {
				ctx = storage.SetTenant(ctx, id.ClientKey)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func schemeLabel(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}
