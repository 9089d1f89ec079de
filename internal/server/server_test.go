package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lootlabs/drawpool/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:               "0",
		Env:                "development",
		LogLevel:           "error",
		LogFormat:          "text",
		MinFlexPayment:     "1.00",
		FlexNothingBps:     5000,
		FlexItemBpsMin:     100,
		FlexItemBpsMax:     2000,
		FlexItemBpsPerUnit: 50,
		FlexBasePayout:     "0.25",
		FlexPayoutRateBps:  5000,
		MaxPoolItems:       100,
		VRFDeliveryDelay:   time.Millisecond,
		RateLimitRPS:       1000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/live", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	s.router.ServeHTTP(w, req)

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestDrawRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	drawRoutes := map[string]bool{
		"POST:/v1/draws/fixed":       false,
		"POST:/v1/draws/flex":        false,
		"GET:/v1/draws/:id":          false,
		"POST:/v1/draws/:id/fulfill": false,
		"POST:/v1/draws/:id/retry":   false,
		"POST:/v1/draws/:id/cancel":  false,
		"GET:/v1/flex/status":        false,
		"GET:/v1/flex/preview":       false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := drawRoutes[key]; ok {
			drawRoutes[key] = true
		}
	}

	for route, found := range drawRoutes {
		if !found {
			t.Errorf("Draw route %s not registered", route)
		}
	}
}

func TestOperatorRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"POST:/v1/pools",
		"GET:/v1/pools",
		"GET:/v1/pools/:id",
		"POST:/v1/pools/:id/bundles",
		"POST:/v1/flex/fungible",
		"POST:/v1/flex/tokens",
		"GET:/v1/accounts/:account/balance",
		"GET:/v1/accounts/:account/history",
		"POST:/v1/accounts/:account/deposit",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Operator route %s not registered", e)
		}
	}
}

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := []string{
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/v1/events/ws",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// Admin gating tests
// ---------------------------------------------------------------------------

func TestAdminSecretGatesOperatorRoutes(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = "s3cret"
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	body := `{"name":"starter","price":"2.00"}`

	// Without the secret: forbidden.
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/pools", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without admin secret, got %d", w.Code)
	}

	// With the secret: created.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/v1/pools", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Secret", "s3cret")
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Errorf("Expected 201 with admin secret, got %d: %s", w.Code, w.Body.String())
	}

	// Fulfill, retry, and cancel sit behind the same gate: an anonymous
	// caller must never reach the service with a chosen random value or
	// cancel another buyer's pending draw.
	for _, path := range []string{
		"/v1/draws/drw_x/fulfill",
		"/v1/draws/drw_x/retry",
		"/v1/draws/drw_x/cancel",
	} {
		w = httptest.NewRecorder()
		req = httptest.NewRequest("POST", path, strings.NewReader(`{"randomValue":"0x1"}`))
		req.Header.Set("Content-Type", "application/json")
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("Expected 403 for anonymous %s, got %d", path, w.Code)
		}

		// With the secret the request reaches the service, which rejects
		// the unknown draw rather than the caller.
		w = httptest.NewRecorder()
		req = httptest.NewRequest("POST", path, strings.NewReader(`{"randomValue":"0x1"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Admin-Secret", "s3cret")
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusNotFound {
			t.Errorf("Expected 404 for %s with admin secret, got %d: %s", path, w.Code, w.Body.String())
		}
	}

	// Public draw routes stay open.
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/v1/flex/status", nil)
	s.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for public route, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end draw through the HTTP surface
// ---------------------------------------------------------------------------

func TestDrawThroughHTTP(t *testing.T) {
	s := newTestServer(t)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		s.router.ServeHTTP(w, req)
		return w
	}

	// Fund a buyer and seed a pool.
	if w := do("POST", "/v1/accounts/alice/deposit", `{"amount":"10.00"}`); w.Code != http.StatusOK {
		t.Fatalf("deposit: %d %s", w.Code, w.Body.String())
	}
	w := do("POST", "/v1/pools", `{"name":"starter","price":"2.00"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create pool: %d %s", w.Code, w.Body.String())
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode pool: %v", err)
	}
	if w := do("POST", "/v1/pools/"+p.ID+"/bundles",
		`{"weight":5,"payload":{"fungible":"0.50"}}`); w.Code != http.StatusCreated {
		t.Fatalf("deposit bundle: %d %s", w.Code, w.Body.String())
	}

	// Open a fixed draw; the local provider delivers asynchronously.
	w = do("POST", "/v1/draws/fixed", `{"buyer":"alice","poolId":"`+p.ID+`","payment":"2.00"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("open draw: %d %s", w.Code, w.Body.String())
	}
	var d struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode draw: %v", err)
	}

	// Poll until the delivery lands and the payout hits the buyer.
	deadline := time.Now().Add(5 * time.Second)
	for {
		w = do("GET", "/v1/accounts/alice/balance", "")
		if w.Code != http.StatusOK {
			t.Fatalf("balance: %d", w.Code)
		}
		var bal struct {
			Available string `json:"available"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &bal); err != nil {
			t.Fatalf("decode balance: %v", err)
		}
		if bal.Available == "8.500000" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("payout never landed, balance = %s", bal.Available)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The pending record is gone once fulfilled.
	if w := do("GET", "/v1/draws/"+d.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("fulfilled draw lookup: %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
