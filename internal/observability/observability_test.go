package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/jo-hoe/reelcheck/internal/config"
)

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %q not recorded", name)
	return metricdata.Metrics{}
}

func attr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func TestTelemetry_RecordsSpansAndMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	tel := New(tp, mp)

	ctx, run := tel.StartRun(context.Background(), "job-1", "gemini")
	stageCtx, st := tel.StartStage(ctx, "download", "gemini")
	st.End(stageCtx, errors.New("HTTP Error 403"))
	tel.RecordOutcome(ctx, "gemini", OutcomeDownloadFailed)
	run.End()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	runs, ok := findMetric(t, rm, "reelcheck.pipeline.runs").Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(1), runs.DataPoints[0].Value)
	assert.Equal(t, OutcomeDownloadFailed, attr(runs.DataPoints[0].Attributes, AttrOutcome))
	assert.Equal(t, "gemini", attr(runs.DataPoints[0].Attributes, AttrProvider))

	durations, ok := findMetric(t, rm, "reelcheck.pipeline.stage.duration").Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, durations.DataPoints, 1)
	assert.Equal(t, uint64(1), durations.DataPoints[0].Count)
	assert.Equal(t, "download", attr(durations.DataPoints[0].Attributes, AttrStage))

	ended := spans.Ended()
	require.Len(t, ended, 2)
	stage, root := ended[0], ended[1]
	assert.Equal(t, "reelcheck.download", stage.Name())
	assert.Equal(t, codes.Error, stage.Status().Code)
	assert.Equal(t, root.SpanContext().SpanID(), stage.Parent().SpanID())
	assert.Equal(t, "reelcheck.run", root.Name())
	assert.Equal(t, codes.Unset, root.Status().Code)
}

func TestNoopTelemetry_AcceptsCalls(t *testing.T) {
	tel := NewNoop()
	ctx, span := tel.StartRun(context.Background(), "job", "mock")
	ctx, st := tel.StartStage(ctx, "download", "mock")
	st.End(ctx, errors.New("boom"))
	tel.RecordOutcome(ctx, "mock", OutcomeFailed)
	RecordError(span, nil)
	span.End()
	assert.False(t, span.SpanContext().IsValid())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSDK_ExportsOnShutdown(t *testing.T) {
	var out syncBuffer
	cfg := config.ObservabilityConfig{Enabled: true, Exporter: "stdout", ServiceName: "reelcheck-test", MetricInterval: time.Hour}
	tel, tp, mp, err := newSDK(cfg, &out)
	require.NoError(t, err)

	ctx, run := tel.StartRun(context.Background(), "job-2", "mock")
	tel.RecordOutcome(ctx, "mock", OutcomeCompleted)
	run.End()

	require.NoError(t, shutdown(tp, mp)(context.Background()))
	exported := out.String()
	assert.Contains(t, exported, "reelcheck.run")
	assert.Contains(t, exported, "reelcheck.pipeline.runs")
	assert.Contains(t, exported, "reelcheck-test")
}

func TestSetup_DisabledIsNoop(t *testing.T) {
	tel, stop, err := Setup(config.ObservabilityConfig{})
	require.NoError(t, err)
	require.NotNil(t, tel)
	assert.NoError(t, stop(context.Background()))
}

func TestStartServerTiming_WithoutHeaderIsNoop(t *testing.T) {
	m := StartServerTiming(context.Background(), "store")
	require.NotNil(t, m)
	m.Stop()

	var nilMetric *ServerTimingMetric
	nilMetric.Stop()
}

func TestServerTimingMiddleware_WritesHeader(t *testing.T) {
	h := ServerTimingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := StartServerTiming(r.Context(), "store")
		m.Stop()
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Header().Get("Server-Timing"), "store"), "header = %q", rr.Header().Get("Server-Timing"))
}
