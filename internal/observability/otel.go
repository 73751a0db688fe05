package observability

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/envutil"
	"github.com/ilyacantor/autonomos-platform-sub006/internal/platform/logger"
)

const tracerName = "driftd"

// OtelConfig describes the tracer provider. Zero fields are filled from the
// OTEL_* environment.
type OtelConfig struct {
	ServiceName string
	Environment string
	Version     string

	Enabled     bool
	Endpoint    string
	Insecure    bool
	Headers     map[string]string
	SampleRatio float64
}

func (c OtelConfig) withEnv() OtelConfig {
	if strings.TrimSpace(c.ServiceName) == "" {
		c.ServiceName = tracerName
	}
	c.Enabled = c.Enabled || envutil.Bool("OTEL_ENABLED", false)
	if c.Endpoint == "" {
		c.Endpoint = envutil.String("OTEL_EXPORTER_OTLP_ENDPOINT", "")
		c.Insecure = c.Insecure || envutil.Bool("OTEL_EXPORTER_OTLP_INSECURE", false)
	}
	if c.Headers == nil {
		c.Headers = parseHeaders(envutil.String("OTEL_EXPORTER_OTLP_HEADERS", ""))
	}
	if c.SampleRatio == 0 {
		c.SampleRatio = envutil.Float("OTEL_SAMPLER_RATIO", 0.1)
	}
	c.SampleRatio = min(max(c.SampleRatio, 0), 1)
	return c
}

var (
	otelOnce     sync.Once
	otelShutdown = func(context.Context) error { return nil }
)

// InitOTel installs the global tracer provider once per process. Spans are
// exported over OTLP/HTTP when an endpoint is set and printed to stdout
// otherwise. When tracing is disabled the returned shutdown is a no-op.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	if log == nil {
		log = logger.Nop()
	}
	otelOnce.Do(func() {
		cfg = cfg.withEnv()
		if !cfg.Enabled {
			return
		}
		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			attribute.String("deployment.environment", cfg.Environment),
		))
		if err != nil {
			log.Warn("otel resource init failed (continuing)", "error", err)
		}
		opts := []sdktrace.TracerProviderOption{
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		}
		if exp, err := newExporter(ctx, cfg); err != nil {
			log.Warn("otel exporter init failed (continuing)", "error", err)
		} else {
			opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
		}

		tp := sdktrace.NewTracerProvider(opts...)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		otelShutdown = tp.Shutdown
		log.Info("otel tracing initialized",
			"service", cfg.ServiceName,
			"endpoint", cfg.Endpoint,
			"sample_ratio", cfg.SampleRatio,
		)
	})
	return otelShutdown
}

func newExporter(ctx context.Context, cfg OtelConfig) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}

// parseHeaders reads "k1=v1,k2=v2". Malformed pairs are skipped.
func parseHeaders(raw string) map[string]string {
	var out map[string]string
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}

// StartSpan opens a span on the global tracer. It is a no-op span until
// InitOTel installs a provider.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// SourceAttrs identifies the tenant/source/entity triple a span works on.
func SourceAttrs(tenantID, sourceID, entity string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("tenant_id", tenantID),
		attribute.String("source_id", sourceID),
		attribute.String("entity", entity),
	}
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
