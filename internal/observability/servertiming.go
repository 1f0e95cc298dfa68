package observability

import (
	"context"
	"net/http"

	servertiming "github.com/mitchellh/go-server-timing"
)

// ServerTimingMetric wraps the server-timing library's Metric type.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// Stop stops the timing metric.
func (m *ServerTimingMetric) Stop() {
	if m != nil && m.metric != nil {
		m.metric.Stop()
	}
}

// StartServerTiming starts a server-timing metric with the given name.
// If the context carries no timing header, a no-op metric is returned.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	timing := servertiming.FromContext(ctx)
	if timing == nil {
		return &ServerTimingMetric{}
	}
	return &ServerTimingMetric{metric: timing.NewMetric(name).Start()}
}

// ServerTimingMiddleware attaches a timing header to every request context and
// writes the collected metrics as a Server-Timing response header.
func ServerTimingMiddleware(next http.Handler) http.Handler {
	return servertiming.Middleware(next, nil)
}
