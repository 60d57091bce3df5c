// Package integration provides a reusable test harness for end-to-end testing
// of the prosa server. It starts a full HTTP server with a mock execution
// engine, in-memory stores, and a test JWT issuer, so requests travel the same
// middleware and wire paths as in production.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nyakairu/prosa/internal/businesskey"
	"github.com/nyakairu/prosa/internal/config"
	"github.com/nyakairu/prosa/internal/deploy"
	"github.com/nyakairu/prosa/internal/engine"
	"github.com/nyakairu/prosa/internal/identity"
	"github.com/nyakairu/prosa/internal/instance"
	"github.com/nyakairu/prosa/internal/observability"
	"github.com/nyakairu/prosa/internal/process"
	"github.com/nyakairu/prosa/internal/store"
	"github.com/nyakairu/prosa/internal/transport"
)

// TestHarness encapsulates a fully wired prosa instance for integration
// testing. The engine is a stub behind a real HTTP server, so the engine
// client's codec and circuit breaker are exercised on every call.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	Store        *store.MemoryStore
	Engine       *mockEngine
	EngineClient *engine.HTTPClient

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	handlerTimeout   time.Duration
	actors           []identity.Actor
	redisSequencer   bool
	failureThreshold int
	successThreshold int
	breakerTimeout   time.Duration
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithActors replaces the default static identity directory.
func WithActors(actors ...identity.Actor) HarnessOption {
	return func(c *harnessConfig) {
		c.actors = actors
	}
}

// WithRedisSequencer allocates business keys through a Redis-backed sequencer
// served by miniredis instead of the in-memory one.
func WithRedisSequencer() HarnessOption {
	return func(c *harnessConfig) {
		c.redisSequencer = true
	}
}

// WithEngineBreaker sets the engine circuit breaker thresholds.
func WithEngineBreaker(failureThreshold, successThreshold int, timeout time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.failureThreshold = failureThreshold
		c.successThreshold = successThreshold
		c.breakerTimeout = timeout
	}
}

// NewTestHarness creates and starts a full prosa test instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if len(hc.actors) == 0 {
		hc.actors = []identity.Actor{
			{ID: "user-manager", DisplayName: "Morgan Manager", Email: "manager@acme.example.com"},
			{ID: "user-clerk", DisplayName: "Casey Clerk", Email: "clerk@acme.example.com"},
		}
	}

	h := &TestHarness{
		t:      t,
		Store:  store.NewMemoryStore(),
		Engine: newMockEngine(t),
		issuer: newTokenIssuer(t),
	}

	h.EngineClient = engine.NewHTTPClient(engine.HTTPOptions{
		BaseURL:          h.Engine.URL(),
		Timeout:          5 * time.Second,
		FailureThreshold: hc.failureThreshold,
		SuccessThreshold: hc.successThreshold,
		BreakerTimeout:   hc.breakerTimeout,
	})

	readiness := observability.ReadinessChecks{Engine: h.EngineClient}

	var sequencer businesskey.Sequencer = businesskey.NewMemorySequencer()
	if hc.redisSequencer {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		redisSeq := businesskey.NewRedisSequencer(client, "prosa:seq:")
		sequencer = redisSeq
		readiness.Sequencer = redisSeq
	}
	keys := businesskey.NewGenerator(sequencer)

	idClient := identity.NewStaticClient(hc.actors)
	resolver := identity.NewBatchResolver(idClient, nil)

	processSvc := process.NewService(h.Store, resolver, nil)
	orchestrator := deploy.NewOrchestrator(h.Store, h.EngineClient, nil)
	coordinator := instance.NewCoordinator(h.Store, h.EngineClient, keys, idClient, nil)

	h.cfg = config.Defaults()
	h.cfg.Server.HandlerTimeout = hc.handlerTimeout
	h.cfg.Engine.BaseURL = h.Engine.URL()
	h.cfg.Observability.Metrics.Enabled = false
	h.cfg.Auth = config.AuthConfig{
		Issuer:       h.issuer.Issuer(),
		Audience:     h.issuer.Audience(),
		JWKSURL:      h.issuer.JWKSURL(),
		JWKSCacheTTL: 1 * time.Hour,
		Algorithms:   []string{"RS256"},
	}

	jwks := transport.NewJWKSClient(h.issuer.JWKSURL(), 1*time.Hour, nil)

	router := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Process:      processSvc,
		Deploy:       orchestrator,
		Instances:    coordinator,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(h.cfg.Auth, jwks),
	})

	h.server = httptest.NewServer(router)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPost, path, body, token)
}

// PUT performs an authenticated PUT request with a JSON body.
func (h *TestHarness) PUT(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodPut, path, body, token)
}

// DELETE performs an authenticated DELETE request.
func (h *TestHarness) DELETE(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodDelete, path, nil, token)
}

func (h *TestHarness) doRequest(method, path string, body any, token string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertJSON checks the response status and parses the body into the target.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// --- Default test claims ---

// ManagerClaims returns TestClaims for the process manager user.
func ManagerClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-manager",
		Email:     "manager@acme.example.com",
		Roles:     []string{"process_admin"},
	}
}

// ClerkClaims returns TestClaims for a regular participant user.
func ClerkClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-clerk",
		Email:     "clerk@acme.example.com",
		Roles:     []string{"process_user"},
	}
}
