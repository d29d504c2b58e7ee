package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"AuditFi/internal/notify"
)

const namespace = "auditfi"

var defaultBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

type requestKey struct {
	route  string
	method string
	code   string
}

type routeKey struct {
	route  string
	method string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	return &histogram{
		buckets: defaultBuckets,
		counts:  make([]uint64, len(defaultBuckets)),
	}
}

// counts are cumulative; values past the last bound only land in count (+Inf).
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// Collector accumulates HTTP and wallet transition metrics and renders them in
// the Prometheus text exposition format.
type Collector struct {
	mu          sync.Mutex
	requests    map[requestKey]uint64
	errors      map[routeKey]uint64
	latency     map[routeKey]*histogram
	transitions map[notify.Type]uint64
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		requests:    make(map[requestKey]uint64),
		errors:      make(map[routeKey]uint64),
		latency:     make(map[routeKey]*histogram),
		transitions: make(map[notify.Type]uint64),
	}
}

// ObserveHTTPRequest records one finished request.
func (c *Collector) ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{route: route, method: method, code: strconv.Itoa(status)}]++
	key := routeKey{route: route, method: method}
	if status >= 500 {
		c.errors[key]++
	}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

// Publish counts a wallet transition. It lets the collector sit in a
// notify.Fanout next to the real publishers.
func (c *Collector) Publish(_ context.Context, ev notify.Event) error {
	c.mu.Lock()
	c.transitions[ev.Type]++
	c.mu.Unlock()
	return nil
}

// Instrument wraps next and records its status and latency under route.
func (c *Collector) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		c.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.render())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *Collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqKeys := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqKeys = append(reqKeys, key)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		a, b := reqKeys[i], reqKeys[j]
		if a.route != b.route {
			return a.route < b.route
		}
		if a.method != b.method {
			return a.method < b.method
		}
		return a.code < b.code
	})
	errKeys := sortedRouteKeys(c.errors)
	latKeys := make([]routeKey, 0, len(c.latency))
	for key := range c.latency {
		latKeys = append(latKeys, key)
	}
	sortRouteKeys(latKeys)
	types := make([]string, 0, len(c.transitions))
	for typ := range c.transitions {
		types = append(types, string(typ))
	}
	sort.Strings(types)

	var b strings.Builder
	b.Grow(1024)

	header(&b, "http_requests_total", "counter", "Total number of HTTP requests processed.")
	for _, k := range reqKeys {
		fmt.Fprintf(&b, "%s_http_requests_total{route=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			namespace, escape(k.route), escape(k.method), k.code, c.requests[k])
	}

	header(&b, "http_request_errors_total", "counter", "Total number of HTTP requests that resulted in a server error.")
	for _, k := range errKeys {
		fmt.Fprintf(&b, "%s_http_request_errors_total{route=\"%s\",method=\"%s\"} %d\n",
			namespace, escape(k.route), escape(k.method), c.errors[k])
	}

	header(&b, "http_request_duration_seconds", "histogram", "HTTP request duration in seconds.")
	for _, k := range latKeys {
		h := c.latency[k]
		labels := fmt.Sprintf("route=\"%s\",method=\"%s\"", escape(k.route), escape(k.method))
		for idx, bound := range h.buckets {
			fmt.Fprintf(&b, "%s_http_request_duration_seconds_bucket{%s,le=\"%s\"} %d\n", namespace, labels, formatFloat(bound), h.counts[idx])
		}
		fmt.Fprintf(&b, "%s_http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", namespace, labels, h.count)
		fmt.Fprintf(&b, "%s_http_request_duration_seconds_sum{%s} %s\n", namespace, labels, formatFloat(h.sum))
		fmt.Fprintf(&b, "%s_http_request_duration_seconds_count{%s} %d\n", namespace, labels, h.count)
	}

	header(&b, "wallet_transitions_total", "counter", "Wallet connection transitions by type.")
	for _, typ := range types {
		fmt.Fprintf(&b, "%s_wallet_transitions_total{type=\"%s\"} %d\n", namespace, escape(typ), c.transitions[notify.Type(typ)])
	}

	return b.String()
}

func header(b *strings.Builder, name, kind, help string) {
	fmt.Fprintf(b, "# HELP %s_%s %s\n", namespace, name, help)
	fmt.Fprintf(b, "# TYPE %s_%s %s\n", namespace, name, kind)
}

func sortedRouteKeys(m map[routeKey]uint64) []routeKey {
	keys := make([]routeKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortRouteKeys(keys)
	return keys
}

func sortRouteKeys(keys []routeKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		return keys[i].method < keys[j].method
	})
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
