package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/things/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/things/{id}", "418"))
	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/things/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d, want 418", rec.Code)
		}
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/things/{id}", "418"))
	if after-before != 2 {
		t.Errorf("requests counted = %v, want 2", after-before)
	}
}

func TestObserveStageCountsFailures(t *testing.T) {
	before := testutil.ToFloat64(StageFailures.WithLabelValues("unit"))
	ObserveStage("unit", time.Now(), nil)
	ObserveStage("unit", time.Now(), errors.New("boom"))
	if got := testutil.ToFloat64(StageFailures.WithLabelValues("unit")) - before; got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
}
