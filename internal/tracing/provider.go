// Package tracing exports benchmark rounds and their phases as OpenTelemetry
// spans.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/torosent/tpbench/internal/config"
)

const instrumentationName = "tpbench"

// Resource attribute keys describing the whole run.
const (
	AttrRunID     = attribute.Key("tpbench.run_id")
	AttrTransport = attribute.Key("tpbench.transport")
	AttrLoopback  = attribute.Key("tpbench.loopback")
	AttrRounds    = attribute.Key("tpbench.rounds")
)

// RunInfo identifies the benchmark run that every exported span belongs to.
type RunInfo struct {
	RunID     string
	Profile   string
	Role      string
	Topic     string
	Transport string
	Rounds    int
	Loopback  bool
}

// Provider wraps the SDK tracer provider of one run.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// Init builds a provider that exports round spans over OTLP. Spans carry the
// run's profile, role and transport as resource attributes, so one collector
// can hold both sides of a benchmark. Tracing that is disabled or has no
// endpoint yields a no-op provider.
//
// The provider is not installed globally; rounds receive its tracer through
// runner.Env.
func Init(ctx context.Context, cfg config.TracingConfig, run RunInfo) (*Provider, error) {
	if !cfg.Enabled() {
		return &Provider{}, nil
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return &Provider{}, nil
	}

	sampler, err := roundSampler(cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(ResourceAttributes(serviceName(cfg), run)...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg, endpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	return &Provider{
		tp:     tp,
		tracer: tp.Tracer(instrumentationName),
	}, nil
}

// ResourceAttributes returns the attributes attached to every span of run.
// Empty fields are omitted.
func ResourceAttributes(service string, run RunInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceName(service)}
	if run.RunID != "" {
		attrs = append(attrs, semconv.ServiceInstanceID(run.RunID), AttrRunID.String(run.RunID))
	}
	if run.Profile != "" {
		attrs = append(attrs, AttrProfile.String(run.Profile))
	}
	if run.Role != "" {
		attrs = append(attrs, AttrRole.String(run.Role))
	}
	if run.Topic != "" {
		attrs = append(attrs, AttrTopic.String(run.Topic))
	}
	if run.Transport != "" {
		attrs = append(attrs, AttrTransport.String(run.Transport))
	}
	if run.Rounds > 0 {
		attrs = append(attrs, AttrRounds.Int(run.Rounds))
	}
	return append(attrs, AttrLoopback.Bool(run.Loopback))
}

func serviceName(cfg config.TracingConfig) string {
	if cfg.ServiceName != "" {
		return cfg.ServiceName
	}
	if env := os.Getenv("OTEL_SERVICE_NAME"); env != "" {
		return env
	}
	return instrumentationName
}

// roundSampler decides per round span; phase spans follow their round.
func roundSampler(rate float64) (sdktrace.Sampler, error) {
	switch {
	case rate < 0 || rate > 1:
		return nil, fmt.Errorf("tracing sample_rate must be between 0.0 and 1.0, got %g", rate)
	case rate == 0:
		return sdktrace.ParentBased(sdktrace.NeverSample()), nil
	case rate == 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample()), nil
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate)), nil
	}
}

// Tracer returns the run's tracer, or a no-op tracer when tracing is off.
func (p *Provider) Tracer() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return p.tracer
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p != nil && p.tp != nil
}

// Shutdown flushes the rounds still queued in the batcher.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig, endpoint string) (sdktrace.SpanExporter, error) {
	switch protocol := strings.ToLower(cfg.Protocol); protocol {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts,
				otlptracegrpc.WithInsecure(),
				otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			)
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q: use \"grpc\" or \"http\"", protocol)
	}
}
