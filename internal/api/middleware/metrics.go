package middleware

import (
	"net/http"

	"github.com/mcoot/rpsleague/internal/metrics"
	"github.com/mcoot/rpsleague/internal/middleware"
)

// Metrics creates request latency middleware for the API
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return middleware.Metrics(m)
}
