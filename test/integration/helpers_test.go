// Package integration provides end-to-end tests for the add-on server.
//
// Tests run against a real add-on HTTP server and a fake host product,
// both started in-process using net/http/httptest.
package integration

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/connectauth/pkg/api"
	"github.com/rhuss/connectauth/pkg/auth"
	"github.com/rhuss/connectauth/pkg/auth/jwt"
	"github.com/rhuss/connectauth/pkg/auth/oauth1"
	"github.com/rhuss/connectauth/pkg/canonical"
	"github.com/rhuss/connectauth/pkg/hostrequest"
	"github.com/rhuss/connectauth/pkg/hostrequest/hosttest"
	"github.com/rhuss/connectauth/pkg/impersonation"
	"github.com/rhuss/connectauth/pkg/nonce"
	"github.com/rhuss/connectauth/pkg/session"
	"github.com/rhuss/connectauth/pkg/storage"
	"github.com/rhuss/connectauth/pkg/storage/memory"
	"github.com/rhuss/connectauth/pkg/transport"
	transporthttp "github.com/rhuss/connectauth/pkg/transport/http"
)

const (
	addonKey       = "com.example.addon"
	tenantKey      = "tenant-1"
	consumerKey    = "legacy-consumer"
	sharedSecret   = "integration-secret"
	oauthClientID  = "oauth-client-1"
	rateLimitedKey = "tenant-limited"
	rateLimit      = 3
)

// testEnv holds the shared servers for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the add-on server and fake host for testing.
type TestEnvironment struct {
	AddonServer *httptest.Server
	Host        *hosttest.Server
	Tenants     *memory.Store
	SigningKey  *rsa.PrivateKey
}

// TestMain starts the fake host and add-on server before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// setupTestEnvironment wires the add-on the same way cmd/server does,
// with in-memory backends.
func setupTestEnvironment() *TestEnvironment {
	host := hosttest.NewServer(hosttest.Config{
		AddonKey:      addonKey,
		ClientKey:     tenantKey,
		SharedSecret:  sharedSecret,
		OAuthClientID: oauthClientID,
	})

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(fmt.Sprintf("generating consumer key: %v", err))
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		panic(fmt.Sprintf("encoding consumer key: %v", err))
	}

	tenants, err := memory.New(
		host.Settings(),
		storage.ClientSettings{
			ClientKey: consumerKey,
			BaseURL:   "https://legacy.example.com",
			PublicKey: string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})),
		},
		storage.ClientSettings{
			ClientKey:    rateLimitedKey,
			SharedSecret: sharedSecret,
			BaseURL:      "https://limited.example.com",
		},
	)
	if err != nil {
		panic(fmt.Sprintf("seeding tenants: %v", err))
	}

	sessions := session.NewManager(session.NewMemoryStore(), session.Config{})
	chain := &auth.AuthChain{
		Authenticators: []auth.Authenticator{
			oauth1.New(oauth1.Config{
				Ledger:       nonce.NewMemoryLedger(),
				Consumers:    tenants,
				Sessions:     sessions,
				TrustSession: true,
			}),
			jwt.New(jwt.Config{
				AddonKey:  addonKey,
				Tenants:   tenants,
				VerifyQSH: true,
			}),
		},
	}
	limiter := auth.NewInProcessLimiter(map[string]int{rateLimitedKey: rateLimit}, 0)

	tokens := impersonation.NewTokenSource(impersonation.NewMemoryCache(), &impersonation.JWTBearerExchanger{
		AuthorizationServerURL: host.URL,
		HTTPClient:             host.Client(),
	})
	hostClient := hostrequest.New(tenants, tokens, host.Client(), hostrequest.Config{AddonKey: addonKey})

	// Build mux matching production layout.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /whoami", func(w http.ResponseWriter, r *http.Request) {
		id := auth.IdentityFromContext(r.Context())
		transport.WriteJSON(w, http.StatusOK, identityBody{
			ClientKey:     id.ClientKey,
			Scheme:        id.Scheme,
			UserAccountID: id.UserAccountID,
			Token:         id.Token,
		})
	})
	mux.HandleFunc("GET /host/myself", func(w http.ResponseWriter, r *http.Request) {
		hc := hostClient.FromContext(r.Context())
		if r.URL.Query().Get("impersonate") == "true" {
			hc = hc.AsUserByAccountID(auth.IdentityFromContext(r.Context()).UserAccountID)
		}
		resp, err := hc.Get(r.Context(), hosttest.MyselfPath)
		if err != nil {
			transport.WriteErrorResponse(w, api.NewServerError("host_request_failed", err), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	})

	srv := transporthttp.NewServer(mux,
		transporthttp.WithMiddleware(
			sessions.Middleware,
			transport.Middleware(auth.Middleware(chain, limiter, auth.DefaultBypassEndpoints)),
		),
	)

	return &TestEnvironment{
		AddonServer: httptest.NewServer(srv.Handler()),
		Host:        host,
		Tenants:     tenants,
		SigningKey:  key,
	}
}

// Teardown stops both servers.
func (env *TestEnvironment) Teardown() {
	if env.AddonServer != nil {
		env.AddonServer.Close()
	}
	if env.Host != nil {
		env.Host.Close()
	}
}

// BaseURL returns the add-on server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.AddonServer.URL
}

type identityBody struct {
	ClientKey     string `json:"clientKey"`
	Scheme        string `json:"scheme"`
	UserAccountID string `json:"userAccountId,omitempty"`
	Token         string `json:"token,omitempty"`
}

// --- HTTP helpers ---

// hostSignedGet sends a GET carrying a host-signed token for target.
func hostSignedGet(t *testing.T, target, sub string) *http.Response {
	t.Helper()
	tok, err := testEnv.Host.SignedToken(http.MethodGet, target, sub)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	req, err := http.NewRequest(http.MethodGet, testEnv.BaseURL()+target, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Authorization", jwt.HeaderScheme+tok)
	return do(t, req)
}

// oauthRequest builds a GET to path signed with the consumer's RSA key.
func oauthRequest(t *testing.T, path, nonceValue string, ts time.Time) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, testEnv.BaseURL()+path, nil)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}

	params := map[string]string{
		oauth1.ParamConsumerKey:     consumerKey,
		oauth1.ParamVersion:         "1.0",
		oauth1.ParamNonce:           nonceValue,
		oauth1.ParamSignatureMethod: oauth1.MethodRSASHA1,
		oauth1.ParamTimestamp:       strconv.FormatInt(ts.Unix(), 10),
	}
	merged := make(map[string][]string, len(params))
	for k, v := range params {
		merged[k] = []string{v}
	}
	for k, vs := range req.URL.Query() {
		merged[k] = vs
	}

	base := oauth1.BaseString(http.MethodGet, testEnv.BaseURL()+req.URL.EscapedPath(), merged)
	sum := sha1.Sum([]byte(base))
	sig, err := rsa.SignPKCS1v15(rand.Reader, testEnv.SigningKey, crypto.SHA1, sum[:])
	if err != nil {
		t.Fatalf("signing base string: %v", err)
	}
	params[oauth1.ParamSignature] = base64.StdEncoding.EncodeToString(sig)

	parts := make([]string, 0, len(params))
	for k, v := range params {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, canonical.EncodeRFC3986(v)))
	}
	req.Header.Set("Authorization", oauth1.HeaderScheme+strings.Join(parts, ", "))
	return req
}

func newNonce() string {
	return uuid.NewString()
}

func do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	return resp
}

// readJSON decodes a JSON response body into v and closes the body.
func readJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

// expectStatus checks the HTTP status code.
func expectStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", expected, resp.StatusCode, string(body))
	}
}

// readError decodes an API error body and closes the response.
func readError(t *testing.T, resp *http.Response) *api.APIError {
	t.Helper()
	var body api.ErrorResponse
	readJSON(t, resp, &body)
	if body.Error == nil {
		t.Fatal("response has no error object")
	}
	return body.Error
}
