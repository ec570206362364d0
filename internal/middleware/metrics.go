package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mcoot/rpsleague/internal/metrics"
)

// Metrics records request latency per route template and status
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := Wrap(w)

			next.ServeHTTP(wrapped, r)

			m.ObserveHTTPRequest(r.Method, RouteTemplate(r), strconv.Itoa(wrapped.Status()), time.Since(start))
		})
	}
}
