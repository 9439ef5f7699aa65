// Command server runs a connectauth add-on server.
//
// Configuration is read by pkg/config: a YAML file (-config flag,
// CONNECTAUTH_CONFIG, ./config.yaml or /etc/connectauth/config.yaml)
// overridden by environment variables:
//
//	CONNECTAUTH_ADDON_KEY - Add-on key, the iss of outbound tokens (required)
//	CONNECTAUTH_PORT      - Listen port (default: 3000, legacy: PORT)
//	CONNECTAUTH_STORAGE   - Tenant store: "memory" or "postgres"
//	CONNECTAUTH_NONCE     - Nonce ledger: "memory" or "redis"
//	CONNECTAUTH_TENANTS   - JSON array of tenants to seed
//	AC_OPTS               - "no-auth" disables inbound token checks
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/rhuss/connectauth/pkg/auth"
	"github.com/rhuss/connectauth/pkg/auth/jwt"
	"github.com/rhuss/connectauth/pkg/auth/oauth1"
	"github.com/rhuss/connectauth/pkg/config"
	"github.com/rhuss/connectauth/pkg/debug"
	"github.com/rhuss/connectauth/pkg/hostrequest"
	"github.com/rhuss/connectauth/pkg/impersonation"
	"github.com/rhuss/connectauth/pkg/nonce"
	"github.com/rhuss/connectauth/pkg/observability"
	"github.com/rhuss/connectauth/pkg/session"
	"github.com/rhuss/connectauth/pkg/storage"
	"github.com/rhuss/connectauth/pkg/storage/memory"
	"github.com/rhuss/connectauth/pkg/storage/postgres"
	"github.com/rhuss/connectauth/pkg/transport"
	transporthttp "github.com/rhuss/connectauth/pkg/transport/http"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	debug.Init(cfg.Debug.Categories, cfg.Debug.Level, cfg.Debug.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		slog.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	tenants, err := newTenantStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer tenants.Close()

	ledger := newLedger(cfg, rdb)
	sessions := session.NewManager(newSessionStore(cfg, rdb), session.Config{
		CookieName: cfg.Auth.Session.CookieName,
		TTL:        cfg.Auth.Session.TTL,
		Secure:     cfg.Auth.Session.Secure,
	})

	chain := &auth.AuthChain{
		Authenticators: []auth.Authenticator{
			oauth1.New(oauth1.Config{
				Ledger:       ledger,
				Consumers:    tenants,
				Sessions:     sessions,
				TrustSession: cfg.Auth.Session.TrustSession,
				Window:       cfg.Auth.ReplayWindow,
			}),
			jwt.New(jwt.Config{
				AddonKey:      cfg.Addon.Key,
				Tenants:       tenants,
				NoAuth:        cfg.Auth.NoAuth,
				VerifyQSH:     cfg.Auth.VerifyQSH,
				TokenValidity: cfg.Addon.JWT.Validity,
			}),
		},
	}

	var limiter auth.RateLimiter
	if rl := cfg.Auth.RateLimit; rl.RequestsPerMinute > 0 || len(rl.Tenants) > 0 {
		limiter = auth.NewInProcessLimiter(rl.Tenants, rl.RequestsPerMinute)
	}

	httpClient := &http.Client{Timeout: cfg.OAuth2.Timeout}
	tokens := impersonation.NewTokenSource(
		newImpersonationCache(cfg, rdb),
		&impersonation.JWTBearerExchanger{
			AuthorizationServerURL: cfg.OAuth2.AuthorizationServerURL,
			HTTPClient:             httpClient,
		},
		impersonation.WithLeeway(cfg.OAuth2.RefreshLeeway),
	)
	host := hostrequest.New(tenants, tokens, httpClient, hostrequest.Config{
		AddonKey:      cfg.Addon.Key,
		Product:       cfg.Addon.Product,
		UserAgent:     cfg.Addon.UserAgent,
		TokenValidity: cfg.Addon.JWT.Validity,
		Scopes:        cfg.Addon.Scopes,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /readyz", readyHandler(tenants))
	if cfg.Observability.Metrics.Enabled {
		mux.Handle("GET "+cfg.Observability.Metrics.Path, promhttp.Handler())
	}
	mux.HandleFunc("GET /whoami", whoamiHandler)
	mux.HandleFunc("GET /host/myself", hostMyselfHandler(host))

	bypass := append([]string{}, auth.DefaultBypassEndpoints...)
	bypass = append(bypass, cfg.Observability.Metrics.Path)

	srv := transporthttp.NewServer(mux,
		transporthttp.WithAddr(":"+strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		transporthttp.WithMiddleware(
			observability.MetricsMiddleware,
			sessions.Middleware,
			transport.Middleware(auth.Middleware(chain, limiter, bypass)),
		),
	)

	ln, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.Server.Port))
	if err != nil {
		return err
	}
	slog.Info("add-on server configured",
		"addon_key", cfg.Addon.Key,
		"local_base_url", cfg.Addon.LocalBaseURL,
		"storage", cfg.Storage.Type,
		"nonce", cfg.Auth.Nonce,
		"verify_qsh", cfg.Auth.VerifyQSH,
	)
	return srv.ServeOn(ctx, ln)
}

// tenantStore is served by both store adapters.
type tenantStore interface {
	storage.TenantStore
	storage.ConsumerStore
}

// newTenantStore opens the configured tenant store and seeds it.
func newTenantStore(ctx context.Context, cfg *config.Config) (tenantStore, error) {
	switch cfg.Storage.Type {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:            cfg.Storage.Postgres.DSN,
			MaxConns:       cfg.Storage.Postgres.MaxConns,
			MigrateOnStart: cfg.Storage.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		for i := range cfg.Storage.Tenants {
			if err := store.Save(ctx, &cfg.Storage.Tenants[i]); err != nil {
				store.Close()
				return nil, fmt.Errorf("seeding tenant %q: %w", cfg.Storage.Tenants[i].ClientKey, err)
			}
		}
		slog.Info("storage enabled", "type", "postgres", "seeded", len(cfg.Storage.Tenants))
		return store, nil
	default:
		store, err := memory.New(cfg.Storage.Tenants...)
		if err != nil {
			return nil, fmt.Errorf("seeding memory store: %w", err)
		}
		slog.Info("storage enabled", "type", "memory", "tenants", store.Len())
		return store, nil
	}
}

func newLedger(cfg *config.Config, rdb *redis.Client) nonce.Ledger {
	if cfg.Auth.Nonce == "redis" {
		return nonce.NewRedisLedger(rdb, cfg.Redis.KeyPrefix, nonce.WithWindow(cfg.Auth.ReplayWindow))
	}
	return nonce.NewMemoryLedger(nonce.WithWindow(cfg.Auth.ReplayWindow))
}

func newSessionStore(cfg *config.Config, rdb *redis.Client) session.Store {
	if cfg.Auth.Session.Store == "redis" {
		return session.NewRedisStore(rdb, cfg.Redis.KeyPrefix)
	}
	return session.NewMemoryStore()
}

func newImpersonationCache(cfg *config.Config, rdb *redis.Client) impersonation.Cache {
	if cfg.OAuth2.Cache == "redis" {
		return impersonation.NewRedisCache(rdb, cfg.Redis.KeyPrefix)
	}
	return impersonation.NewMemoryCache()
}
