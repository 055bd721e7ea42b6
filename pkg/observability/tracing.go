package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DefaultServiceName is the service name used for traces.
const DefaultServiceName = "snowcode"

var (
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
)

// TraceConfig holds tracing configuration.
type TraceConfig struct {
	// ServiceName is the name of the service (defaults to "snowcode").
	ServiceName string

	// Enabled controls whether tracing is enabled.
	Enabled bool

	// ExporterType specifies the exporter: "otlp", "stdout", or "none".
	ExporterType string

	// OTLPEndpoint is the OTLP endpoint URL.
	OTLPEndpoint string

	// OTLPHeaders are additional headers for OTLP requests.
	OTLPHeaders map[string]string
}

// InitTracingFromEnv initializes tracing from standard OpenTelemetry
// environment variables:
//   - OTEL_SERVICE_NAME: service name (default: "snowcode")
//   - OTEL_TRACES_EXPORTER: "otlp", "stdout", or "none" (default: "none")
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint
//   - OTEL_EXPORTER_OTLP_HEADERS: headers in "key1=value1,key2=value2" format
func InitTracingFromEnv() error {
	exporter := getEnv("OTEL_TRACES_EXPORTER", "none")
	return InitTracing(TraceConfig{
		ServiceName:  getEnv("OTEL_SERVICE_NAME", DefaultServiceName),
		Enabled:      exporter != "none",
		ExporterType: exporter,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPHeaders:  parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	})
}

// InitTracing initializes the tracer with the given configuration.
func InitTracing(config TraceConfig) error {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if !config.Enabled || config.ExporterType == "none" {
		tracer = otel.GetTracerProvider().Tracer(config.ServiceName)
		return nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch config.ExporterType {
	case "otlp":
		opts := []otlptracehttp.Option{}
		if config.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(config.OTLPEndpoint))
		}
		if len(config.OTLPHeaders) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(config.OTLPHeaders))
		}
		exporter, err = otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
		if err != nil {
			return fmt.Errorf("create OTLP exporter: %w", err)
		}
		log.Printf("Tracing initialized with OTLP exporter (endpoint: %s)", config.OTLPEndpoint)

	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("create stdout exporter: %w", err)
		}
		log.Println("Tracing initialized with stdout exporter")

	default:
		return fmt.Errorf("unknown exporter type: %s", config.ExporterType)
	}

	tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	tracer = tracerProvider.Tracer(config.ServiceName)
	return nil
}

// ShutdownTracing flushes and stops the tracer provider.
func ShutdownTracing(ctx context.Context) error {
	if tracerProvider == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tracerProvider.Shutdown(ctx)
}

// StartSpan creates a span from a parent context. When tracing was never
// initialized, the global no-op tracer is used.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := tracer
	if tr == nil {
		tr = otel.GetTracerProvider().Tracer(DefaultServiceName)
	}
	return tr.Start(ctx, name, trace.WithAttributes(attrs...))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseHeaders(headerStr string) map[string]string {
	if headerStr == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ",") {
		if k, v, ok := strings.Cut(pair, "="); ok {
			headers[k] = v
		}
	}
	return headers
}
