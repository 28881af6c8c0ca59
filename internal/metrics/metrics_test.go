package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagersUseSeparateRegistries(t *testing.T) {
	first := NewManager()
	second := NewManager()

	first.GetPrometheusMetrics().RecordVote(true, "success")

	assert.Equal(t, 1.0, testutil.ToFloat64(first.GetPrometheusMetrics().VotesSubmittedTotal.WithLabelValues("true", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.GetPrometheusMetrics().VotesSubmittedTotal.WithLabelValues("true", "success")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	manager := NewManager()
	pm := manager.GetPrometheusMetrics()
	pm.RecordFetch("success", 20*time.Millisecond)
	pm.UpdateReconciliation(3, 1, 0, 0)
	pm.UpdateComponentHealth("chain", true)
	manager.UpdateSystemMetrics()

	rec := httptest.NewRecorder()
	manager.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "maskauth_submission_fetches_total")
	assert.Contains(t, body, "maskauth_unresolved_transactions 1")
	assert.Contains(t, body, `maskauth_component_health{component="chain"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
