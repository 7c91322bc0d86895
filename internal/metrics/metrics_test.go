package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, entitiesTotal)
	require.NotNil(t, itemsTotal)
	require.NotNil(t, frontierSize)
}

func TestObserveHelpers(t *testing.T) {
	ObserveEntity("completed")
	ObserveItem("written")
	ObserveItem("written")
	ObserveUnitFailure("item")
	ObserveScrollPass()
	SetFrontierSize(7)
	ObserveActionWait(250 * time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(entitiesTotal.WithLabelValues("completed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(itemsTotal.WithLabelValues("written")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(unitFailuresTotal.WithLabelValues("item")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(frontierSize), 0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(scrollPassesTotal), float64(1))
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/ledger/{entity}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ledger/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/v1/ledger/{entity}", "404"))
	assert.InDelta(t, 1, val, 0)
}

func TestHandlerServesCollectors(t *testing.T) {
	ObserveItem("skipped")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "autoharvest_items_total")
}
