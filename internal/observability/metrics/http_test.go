package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"AuditFi/internal/notify"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	return rec.Body.String()
}

func TestObserveHTTPRequest(t *testing.T) {
	c := NewCollector()
	c.ObserveHTTPRequest("/api/wallet/state", http.MethodGet, 200, 30*time.Millisecond)
	c.ObserveHTTPRequest("/api/wallet/state", http.MethodGet, 200, 2*time.Second)
	c.ObserveHTTPRequest("/api/audit", http.MethodPost, 503, time.Minute)

	body := scrape(t, c)
	for _, want := range []string{
		`auditfi_http_requests_total{route="/api/wallet/state",method="GET",code="200"} 2`,
		`auditfi_http_request_errors_total{route="/api/audit",method="POST"} 1`,
		`auditfi_http_request_duration_seconds_bucket{route="/api/wallet/state",method="GET",le="0.05"} 1`,
		`auditfi_http_request_duration_seconds_bucket{route="/api/wallet/state",method="GET",le="2.5"} 2`,
		`auditfi_http_request_duration_seconds_bucket{route="/api/audit",method="POST",le="30"} 0`,
		`auditfi_http_request_duration_seconds_bucket{route="/api/audit",method="POST",le="+Inf"} 1`,
		`auditfi_http_request_duration_seconds_count{route="/api/wallet/state",method="GET"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in\n%s", want, body)
		}
	}
	if strings.Contains(body, `errors_total{route="/api/wallet/state"`) {
		t.Fatal("2xx responses must not count as errors")
	}
}

func TestInstrumentRecordsStatus(t *testing.T) {
	c := NewCollector()
	h := c.Instrument("/api/chains", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/chains", nil))

	implicit := c.Instrument("/", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	implicit.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	body := scrape(t, c)
	if !strings.Contains(body, `route="/api/chains",method="GET",code="418"} 1`) {
		t.Fatalf("first status must win:\n%s", body)
	}
	if !strings.Contains(body, `route="/",method="GET",code="200"} 1`) {
		t.Fatalf("implicit 200 missing:\n%s", body)
	}
}

func TestPublishCountsTransitions(t *testing.T) {
	c := NewCollector()
	var p notify.Publisher = c
	for _, typ := range []notify.Type{notify.TypeConnected, notify.TypeConnected, notify.TypeDisconnected} {
		if err := p.Publish(context.Background(), notify.NewEvent(typ, "", nil)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	body := scrape(t, c)
	if !strings.Contains(body, `auditfi_wallet_transitions_total{type="connected"} 2`) ||
		!strings.Contains(body, `auditfi_wallet_transitions_total{type="disconnected"} 1`) {
		t.Fatalf("unexpected transitions:\n%s", body)
	}
}
