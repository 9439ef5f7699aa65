// Command mock-host runs a fake host product for local add-on development.
// It verifies the add-on's signed calls, serves the impersonation token
// endpoint, and logs a host-signed token for calling the add-on's /whoami.
//
// Configuration:
//
//	MOCK_PORT          - Listen port (default: 9090)
//	MOCK_ADDON_KEY     - Expected iss of add-on tokens (default: com.example.addon)
//	MOCK_CLIENT_KEY    - Tenant client key (default: mock-tenant)
//	MOCK_SHARED_SECRET - Tenant shared secret (default: mock-secret)
//	MOCK_OAUTH_CLIENT  - OAuth client id (default: mock-oauth-client)
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhuss/connectauth/pkg/hostrequest/hosttest"
)

func main() {
	port := envOrDefault("MOCK_PORT", "9090")
	host := hosttest.New(hosttest.Config{
		AddonKey:      envOrDefault("MOCK_ADDON_KEY", "com.example.addon"),
		ClientKey:     envOrDefault("MOCK_CLIENT_KEY", "mock-tenant"),
		SharedSecret:  envOrDefault("MOCK_SHARED_SECRET", "mock-secret"),
		OAuthClientID: envOrDefault("MOCK_OAUTH_CLIENT", "mock-oauth-client"),
	})

	mux := http.NewServeMux()
	mux.Handle("/", host.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	srv := &http.Server{Addr: ":" + port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if tok, err := host.SignedToken(http.MethodGet, "/whoami", "mock-user"); err == nil {
		slog.Info("sample token for GET /whoami", "authorization", "JWT "+tok)
	}

	go func() {
		slog.Info("mock host starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("mock host failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock host shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
