package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/rhuss/connectauth/pkg/api"
	"github.com/rhuss/connectauth/pkg/auth"
	"github.com/rhuss/connectauth/pkg/hostrequest"
	"github.com/rhuss/connectauth/pkg/impersonation"
	"github.com/rhuss/connectauth/pkg/storage"
	"github.com/rhuss/connectauth/pkg/transport"
)

// hostMyselfPath is the host REST resource describing the calling user.
const hostMyselfPath = "/rest/api/latest/myself"

var (
	errNotReady = errors.New("tenant store unavailable")
	errNoUser   = errors.New("request has no user to impersonate")
)

func readyHandler(tenants storage.TenantStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := tenants.HealthCheck(r.Context()); err != nil {
			slog.Warn("readiness check failed", "error", err)
			transport.WriteAPIError(w, api.NewServerError("not_ready", errNotReady))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	}
}

type whoamiResponse struct {
	ClientKey     string         `json:"clientKey"`
	Scheme        string         `json:"scheme"`
	UserAccountID string         `json:"userAccountId,omitempty"`
	Token         string         `json:"token,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

// whoamiHandler reports the verified identity, including the derived token
// the browser can use for follow-up calls.
func whoamiHandler(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		transport.WriteAPIError(w, api.NewUnauthorizedError("unauthenticated", auth.ErrUnauthenticated))
		return
	}
	transport.WriteJSON(w, http.StatusOK, whoamiResponse{
		ClientKey:     id.ClientKey,
		Scheme:        id.Scheme,
		UserAccountID: id.UserAccountID,
		Token:         id.Token,
		Context:       id.Context,
	})
}

// hostMyselfHandler calls back into the tenant that made the request. With
// ?impersonate=true the call is made as the inbound user.
func hostMyselfHandler(host *hostrequest.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hc := host.FromContext(r.Context())
		if r.URL.Query().Get("impersonate") == "true" {
			id := auth.IdentityFromContext(r.Context())
			if id == nil || id.UserAccountID == "" {
				transport.WriteAPIError(w, api.NewInvalidRequestError("no_user", errNoUser))
				return
			}
			hc = hc.AsUserByAccountID(id.UserAccountID)
		}

		resp, err := hc.Get(r.Context(), hostMyselfPath)
		if err != nil {
			slog.Warn("host request failed", "client_key", storage.GetTenant(r.Context()), "error", err)
			code := "host_request_failed"
			if errors.Is(err, impersonation.ErrExchangeFailure) {
				code = "exchange_failure"
			}
			transport.WriteErrorResponse(w, &api.APIError{
				Type:    api.ErrorTypeServerError,
				Code:    code,
				Message: "calling the host failed",
			}, http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}
}
