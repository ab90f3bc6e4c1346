package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/brewboard/userauth"
)

type fakeSource struct {
	snapshot userauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() userauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func TestCollectOnlyAuditDropWhenDisabled(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: userauth.MetricsSnapshot{
			Counters:   map[userauth.MetricID]uint64{},
			Histograms: map[userauth.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(c); n != 1 {
		t.Fatalf("expected only the audit drop series, got %d", n)
	}
}

func TestCollectCountersAndHistogram(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: userauth.MetricsSnapshot{
			Counters: map[userauth.MetricID]uint64{
				userauth.MetricRegisterSuccess: 7,
			},
			Histograms: map[userauth.MetricID][]uint64{
				userauth.MetricRegisterLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	expected := `
# HELP userauth_register_success_total Accounts created with a password.
# TYPE userauth_register_success_total counter
userauth_register_success_total 7
# HELP userauth_audit_dropped_total Audit events dropped because the dispatcher buffer was full.
# TYPE userauth_audit_dropped_total counter
userauth_audit_dropped_total 2
# HELP userauth_register_latency_seconds Registration latency.
# TYPE userauth_register_latency_seconds histogram
userauth_register_latency_seconds_bucket{le="0.01"} 1
userauth_register_latency_seconds_bucket{le="0.025"} 3
userauth_register_latency_seconds_bucket{le="0.05"} 6
userauth_register_latency_seconds_bucket{le="0.1"} 10
userauth_register_latency_seconds_bucket{le="0.25"} 15
userauth_register_latency_seconds_bucket{le="0.5"} 21
userauth_register_latency_seconds_bucket{le="1"} 28
userauth_register_latency_seconds_bucket{le="+Inf"} 36
userauth_register_latency_seconds_sum 0
userauth_register_latency_seconds_count 36
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"userauth_register_success_total",
		"userauth_audit_dropped_total",
		"userauth_register_latency_seconds",
	)
	if err != nil {
		t.Fatalf("unexpected collector output: %v", err)
	}
}

func TestCollectorRegistersCleanly(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(fakeSource{})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	h := Handler(fakeSource{
		snapshot: userauth.MetricsSnapshot{
			Counters:   map[userauth.MetricID]uint64{userauth.MetricLoginSuccess: 1},
			Histograms: map[userauth.MetricID][]uint64{},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "userauth_login_success_total 1") {
		t.Fatalf("expected login counter in output, got:\n%s", rec.Body.String())
	}
}
