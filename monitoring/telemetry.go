package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Telemetry owns the OpenTelemetry meter provider backed by a Prometheus
// exporter. The composition root constructs one instance and passes it to
// whatever needs to record metrics; there is no package-level singleton.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	requestCounter       metric.Int64Counter
	latencyHist          metric.Float64Histogram
	externalCallCounter  metric.Int64Counter
	externalCallLatency  metric.Float64Histogram
	externalCallErrors   metric.Int64Counter
	businessEventCounter metric.Int64Counter
}

// Config captures the minimal telemetry setup parameters.
type Config struct {
	ServiceName   string
	ResourceAttrs map[string]string
}

// Setup configures OpenTelemetry metrics with a Prometheus exporter and
// runtime instrumentation.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "unknown-service"
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(cfg.ServiceName)}
	for k, v := range cfg.ResourceAttrs {
		attrs = append(attrs, attribute.String(k, v))
	}

	exp, err := prometheus.New(prometheus.WithoutUnits())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attrs...),
	)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exp),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	t := &Telemetry{
		provider: provider,
		handler:  promhttp.Handler(),
	}

	meter := provider.Meter(cfg.ServiceName)

	if t.requestCounter, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests processed"),
	); err != nil {
		return nil, err
	}

	if t.latencyHist, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}

	if t.externalCallCounter, err = meter.Int64Counter(
		"external_calls_total",
		metric.WithDescription("Total number of external calls (DB, webhooks, etc.)"),
	); err != nil {
		return nil, err
	}

	if t.externalCallLatency, err = meter.Float64Histogram(
		"external_call_duration_seconds",
		metric.WithDescription("Duration of external calls in seconds"),
	); err != nil {
		return nil, err
	}

	if t.externalCallErrors, err = meter.Int64Counter(
		"external_call_errors_total",
		metric.WithDescription("Number of failed external calls"),
	); err != nil {
		return nil, err
	}

	if t.businessEventCounter, err = meter.Int64Counter(
		"business_events_total",
		metric.WithDescription("Business event counts by action and outcome"),
	); err != nil {
		return nil, err
	}

	// Go runtime metrics (goroutines, GC, etc.)
	_ = runtime.Start(
		runtime.WithMinimumReadMemStatsInterval(10*time.Second),
		runtime.WithMeterProvider(provider),
	)

	return t, nil
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Handler returns the Prometheus /metrics handler.
func (t *Telemetry) Handler() http.Handler {
	return t.handler
}

// HTTPMetricsMiddleware records request counts and latency.
func (t *Telemetry) HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		attrs := metric.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.Int("http.status_code", recorder.status),
		)
		t.requestCounter.Add(r.Context(), 1, attrs)
		t.latencyHist.Record(r.Context(), time.Since(start).Seconds(), attrs)
	})
}

// RecordExternalCall tracks latency and errors for downstream dependencies.
func (t *Telemetry) RecordExternalCall(ctx context.Context, target, operation string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("target", target),
		attribute.String("operation", operation),
	)
	t.externalCallCounter.Add(ctx, 1, attrs)
	t.externalCallLatency.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		t.externalCallErrors.Add(ctx, 1, attrs)
	}
}

// RecordBusinessEvent counts a domain event by action and outcome.
func (t *Telemetry) RecordBusinessEvent(ctx context.Context, action, outcome string) {
	t.businessEventCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.status = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}
