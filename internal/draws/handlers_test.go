package draws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, f *fixture) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	v1 := router.Group("/v1")
	RegisterRoutes(v1, f.svc)
	RegisterOperatorRoutes(v1, f.svc)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestOpenFixedEndpoint(t *testing.T) {
	f := newFixture(t, defaultTerms(t))
	router := newTestRouter(t, f)
	f.fund(t, buyer, "10.00")
	p := f.newPool(t, "2.00", 5)

	w := doJSON(t, router, http.MethodPost, "/v1/draws/fixed", gin.H{
		"buyer": buyer, "poolId": p.ID, "payment": "2.00",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var d Draw
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Kind != KindFixed || d.PoolID != p.ID {
		t.Errorf("draw = %+v", d)
	}

	cases := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing fields", gin.H{"buyer": buyer}, http.StatusBadRequest},
		{"wrong price", gin.H{"buyer": buyer, "poolId": p.ID, "payment": "1.00"}, http.StatusPaymentRequired},
		{"unknown pool", gin.H{"buyer": buyer, "poolId": "pool_x", "payment": "2.00"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		w := doJSON(t, router, http.MethodPost, "/v1/draws/fixed", tc.body)
		if w.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, w.Code, tc.want)
		}
	}
}

func TestOpenFixedEndpointEmptyPool(t *testing.T) {
	f := newFixture(t, defaultTerms(t))
	router := newTestRouter(t, f)
	f.fund(t, buyer, "10.00")
	p, err := f.pools.CreatePool(context.Background(), "empty", "2.00")
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, "/v1/draws/fixed", gin.H{
		"buyer": buyer, "poolId": p.ID, "payment": "2.00",
	})
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestOpenFlexEndpoint(t *testing.T) {
	f := newFixture(t, defaultTerms(t))
	router := newTestRouter(t, f)
	f.fund(t, buyer, "10.00")
	seedFlexFloat(t, f, "20.00", "hat#1")

	w := doJSON(t, router, http.MethodPost, "/v1/draws/flex", gin.H{
		"buyer": buyer, "payment": "2.00",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var d Draw
	if err := json.Unmarshal(w.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Snapshot.ItemBps != 150 || d.Snapshot.FungiblePayout != "1.250000" {
		t.Errorf("snapshot = %+v", d.Snapshot)
	}

	w = doJSON(t, router, http.MethodPost, "/v1/draws/flex", gin.H{
		"buyer": buyer, "payment": "0.10",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("below minimum: status = %d, want 400", w.Code)
	}
}

func TestFulfillEndpoint(t *testing.T) {
	f := newFixture(t, defaultTerms(t))
	router := newTestRouter(t, f)
	f.fund(t, buyer, "10.00")
	p := f.newPool(t, "2.00", 5)

	d, err := f.svc.OpenFixed(context.Background(), buyer, p.ID, "2.00")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, "/v1/draws/"+d.ID+"/fulfill", gin.H{
		"randomValue": "0x2a",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var outcome Outcome
	if err := json.Unmarshal(w.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if outcome.Fungible != "0.10" {
		t.Errorf("outcome fungible = %q, want 0.10", outcome.Fungible)
	}

	// The record is gone after fulfillment.
	w = doJSON(t, router, http.MethodPost, "/v1/draws/"+d.ID+"/fulfill", gin.H{
		"randomValue": "42",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("duplicate fulfill: status = %d, want 404", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/v1/draws/drw_x/fulfill", gin.H{
		"randomValue": "not-a-number",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad value: status = %d, want 400", w.Code)
	}
}

func TestGetDrawEndpoint(t *testing.T) {
	f := newFixture(t, defaultTerms(t))
	router := newTestRouter(t, f)
	f.fund(t, buyer, "10.00")
	seedFlexFloat(t, f, "20.00", "hat#1")

	d, err := f.svc.OpenFlex(context.Background(), buyer, "1.00")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/draws/"+d.ID, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/draws/drw_missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing draw: status = %d, want 404", w.Code)
	}
}

func TestRetryAndCancelEndpoints(t *testing.T) {
	f := newFixture(t, defaultTerms(t))
	router := newTestRouter(t, f)
	f.fund(t, buyer, "10.00")
	seedFlexFloat(t, f, "20.00", "hat#1")

	d, err := f.svc.OpenFlex(context.Background(), buyer, "1.00")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	w := doJSON(t, router, http.MethodPost, "/v1/draws/"+d.ID+"/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var replacement Draw
	if err := json.Unmarshal(w.Body.Bytes(), &replacement); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if replacement.RetryOf != d.ID {
		t.Errorf("retryOf = %q, want %q", replacement.RetryOf, d.ID)
	}

	w = doJSON(t, router, http.MethodPost, "/v1/draws/"+replacement.ID+"/cancel", nil)
	if w.Code != http.StatusOK {
		t.Errorf("cancel: status = %d, want 200", w.Code)
	}
	w = doJSON(t, router, http.MethodPost, "/v1/draws/"+replacement.ID+"/cancel", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("repeat cancel: status = %d, want 404", w.Code)
	}
}

func TestFlexStatusAndPreviewEndpoints(t *testing.T) {
	f := newFixture(t, defaultTerms(t))
	router := newTestRouter(t, f)
	seedFlexFloat(t, f, "20.00", "hat#1")

	req := httptest.NewRequest(http.MethodGet, "/v1/flex/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d, want 200", w.Code)
	}
	var st FlexStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Reserve.TotalFungible != "20.000000" || st.Reserve.TotalItems != 1 {
		t.Errorf("reserve = %+v", st.Reserve)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/flex/preview?payment=1.00", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("preview: %d, want 200", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/flex/preview", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("preview without payment: %d, want 400", w.Code)
	}
}
