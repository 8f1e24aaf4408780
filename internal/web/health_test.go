package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.salikov.me/argus/internal/testutil"
)

func TestHealth(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	h := Health(mux)

	// Registering on the same mux returns the existing handler.
	testutil.AssertEqual(t, Health(mux) == h, true)

	h.RegisterFunc("store", func() (string, bool) { return "ok", true })

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertEqual(t, w.Code, http.StatusOK)

	resp := testutil.UnmarshalJSON[HealthResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, resp.OK, true)
	testutil.AssertEqual(t, resp.Checks["store"], CheckResponse{Status: "ok", OK: true})
}

func TestHealthFailingCheck(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	h := Health(mux)
	h.RegisterFunc("telegram", func() (string, bool) { return "polling stalled", false })

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertEqual(t, w.Code, http.StatusInternalServerError)

	resp := testutil.UnmarshalJSON[HealthResponse](t, w.Body.Bytes())
	testutil.AssertEqual(t, resp.OK, false)
}
