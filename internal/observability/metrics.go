package observability

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Metrics collects service counters. Thread-safe for concurrent use.
type Metrics struct {
	mu        sync.RWMutex
	namespace string

	// HTTP request counters: key = "method:path:status"
	httpRequestCounts map[string]*atomic.Int64

	// Allocation counters.
	ipsProvisioned  atomic.Int64
	nicsProvisioned atomic.Int64
	etagConflicts   atomic.Int64
}

// NewMetrics creates a Metrics collector with the given namespace
// (default: napi).
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "napi"
	}
	return &Metrics{
		namespace:         namespace,
		httpRequestCounts: make(map[string]*atomic.Int64),
	}
}

// RecordHTTPRequest increments the counter for a method/path/status triple.
func (m *Metrics) RecordHTTPRequest(method, path string, status int) {
	if m == nil {
		return
	}
	key := fmt.Sprintf("%s:%s:%d", method, path, status)

	m.mu.RLock()
	c, ok := m.httpRequestCounts[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		c, ok = m.httpRequestCounts[key]
		if !ok {
			c = &atomic.Int64{}
			m.httpRequestCounts[key] = c
		}
		m.mu.Unlock()
	}
	c.Add(1)
}

// RecordIPProvisioned counts a successful IP assignment.
func (m *Metrics) RecordIPProvisioned() {
	if m != nil {
		m.ipsProvisioned.Add(1)
	}
}

// RecordNicProvisioned counts a successful NIC provision.
func (m *Metrics) RecordNicProvisioned() {
	if m != nil {
		m.nicsProvisioned.Add(1)
	}
}

// RecordEtagConflict counts an optimistic-concurrency failure.
func (m *Metrics) RecordEtagConflict() {
	if m != nil {
		m.etagConflicts.Add(1)
	}
}

// Handler returns an http.Handler exposing the counters in Prometheus text
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		var b strings.Builder

		writeCounter := func(name string, v int64) {
			fmt.Fprintf(&b, "# TYPE %s_%s counter\n", m.namespace, name)
			fmt.Fprintf(&b, "%s_%s %d\n", m.namespace, name, v)
		}
		writeCounter("ips_provisioned_total", m.ipsProvisioned.Load())
		writeCounter("nics_provisioned_total", m.nicsProvisioned.Load())
		writeCounter("etag_conflicts_total", m.etagConflicts.Load())

		m.mu.RLock()
		keys := make([]string, 0, len(m.httpRequestCounts))
		for k := range m.httpRequestCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "# TYPE %s_http_requests_total counter\n", m.namespace)
		for _, k := range keys {
			parts := strings.SplitN(k, ":", 3)
			if len(parts) != 3 {
				continue
			}
			fmt.Fprintf(&b, "%s_http_requests_total{method=%q,path=%q,status=%q} %d\n",
				m.namespace, parts[0], parts[1], parts[2], m.httpRequestCounts[k].Load())
		}
		m.mu.RUnlock()

		_, _ = w.Write([]byte(b.String()))
	})
}
