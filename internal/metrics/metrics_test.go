package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := Registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metricLoop:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metricLoop
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestInstrumentHandlerUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHandler)
	r.Get("/conversations/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	labels := map[string]string{"method": "GET", "route": "/conversations/{id}", "status": "418"}
	before := counterValue(t, "datecoach_http_requests_total", labels)
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	assert.Equal(t, before+2, counterValue(t, "datecoach_http_requests_total", labels))
}

func TestRecordEvaluationCountsUnlocks(t *testing.T) {
	passBefore := counterValue(t, "datecoach_training_evaluations_total", map[string]string{"outcome": "pass"})
	unlocksBefore := counterValue(t, "datecoach_training_unlocks_total", nil)

	RecordEvaluation("pass", 120*time.Millisecond, 2)
	RecordEvaluation("fail", 80*time.Millisecond, 0)

	assert.Equal(t, passBefore+1, counterValue(t, "datecoach_training_evaluations_total", map[string]string{"outcome": "pass"}))
	assert.Equal(t, unlocksBefore+2, counterValue(t, "datecoach_training_unlocks_total", nil))
}

func TestHandlerExposesRegistry(t *testing.T) {
	RecordParseFallback()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "datecoach_training_parse_fallbacks_total"))
}
