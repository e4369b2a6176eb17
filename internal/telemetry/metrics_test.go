package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// ---------------------------------------------------------------------------
// Registration: every exported metric carries its fully-qualified name.
//
// Describe() is used instead of Gather() because *Vec metrics without any
// observed label combination are absent from Gather output.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"login_attempts_total", LoginAttemptsTotal},
		{"webhook_events_total", WebhookEventsTotal},
		{"requests_fulfilled_total", RequestsFulfilledTotal},
		{"upstream_request_duration_seconds", UpstreamRequestDuration},
		{"upstream_circuit_breaker_state", UpstreamBreakerState},
		{"notifications_total", NotificationsTotal},
		{"trending_warm_duration_seconds", TrendingWarmDuration},
		{"trending_warm_errors_total", TrendingWarmErrorsTotal},
		{"db_open_connections", DBOpenConnections},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					return
				}
			}
			t.Errorf("metric %q: Describe() returned no descriptor with this fqName", tc.name)
		})
	}
}

func TestMetrics_LoginAttemptsTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"outcome": "unauthorized"}
	before := counterValue(t, LoginAttemptsTotal, labels)
	LoginAttemptsTotal.WithLabelValues("unauthorized").Inc()
	after := counterValue(t, LoginAttemptsTotal, labels)
	if after-before < 1 {
		t.Errorf("LoginAttemptsTotal did not increase (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_WebhookEventsTotal_CanBeIncremented(t *testing.T) {
	labels := prometheus.Labels{"status": "processed", "strategy": "cache"}
	before := counterValue(t, WebhookEventsTotal, labels)
	WebhookEventsTotal.WithLabelValues("processed", "cache").Inc()
	after := counterValue(t, WebhookEventsTotal, labels)
	if after-before < 1 {
		t.Errorf("WebhookEventsTotal did not increase (before=%.0f after=%.0f)", before, after)
	}
}

func TestMetrics_GaugesAndHistograms_DoNotPanic(t *testing.T) {
	UpstreamRequestDuration.WithLabelValues("tmdb", "search", "ok").Observe(0.12)
	UpstreamBreakerState.WithLabelValues("tmdb").Set(0)
	TrendingWarmDuration.Observe(1.5)
	DBOpenConnections.Set(5)
	DBOpenConnections.Set(0)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// counterValue reads the current value of a CounterVec for the given label set.
func counterValue(t *testing.T, cv *prometheus.CounterVec, labels prometheus.Labels) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 20)
	cv.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		if labelsMatch(dm.GetLabel(), labels) {
			return dm.GetCounter().GetValue()
		}
	}
	return 0
}

// labelsMatch returns true when all entries in want appear in got.
func labelsMatch(got []*dto.LabelPair, want prometheus.Labels) bool {
	for k, v := range want {
		found := false
		for _, lp := range got {
			if lp.GetName() == k && lp.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
