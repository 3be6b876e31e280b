package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T) *Manager {
	cfg := DefaultConfig()
	cfg.CollectGoMetrics = false
	m, err := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

func TestRecordActionIgnoresZero(t *testing.T) {
	m := newTestManager(t)

	m.RecordAction("accounts", "pushed_to_remote", 2)
	m.RecordAction("accounts", "pushed_to_remote", 0)
	m.RecordErrors("accounts", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.syncActionsTotal.WithLabelValues("accounts", "pushed_to_remote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncErrorsTotal.WithLabelValues("accounts")))
}

func TestHandlerExposesSyncMetrics(t *testing.T) {
	m := newTestManager(t)
	m.ObserveStep("reconcile_accounts", "success", 150*time.Millisecond)
	m.RecordRequest(http.MethodPost, "/sync/accounts", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "servevlc_sync_steps_total"))
	assert.True(t, strings.Contains(body, "servevlc_http_requests_total"))
}
