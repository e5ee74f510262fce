package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics counts requests and observes latency per route label.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer, namespace string) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

// Middleware labels requests with route(r); pass a function that maps paths to a bounded set.
func (m *HTTPMetrics) Middleware(route func(*http.Request) string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			label := "other"
			if route != nil {
				label = route(r)
			}
			m.requests.WithLabelValues(label, r.Method, strconv.Itoa(sw.statusCode())).Inc()
			m.latency.WithLabelValues(label, r.Method).Observe(time.Since(start).Seconds())
		})
	}
}

// PrefixRoute returns the first prefix matching the request path, or "other".
func PrefixRoute(prefixes ...string) func(*http.Request) string {
	return func(r *http.Request) string {
		for _, p := range prefixes {
			if len(r.URL.Path) >= len(p) && r.URL.Path[:len(p)] == p {
				return p
			}
		}
		return "other"
	}
}
