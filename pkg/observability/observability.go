package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/intake-labs/ire/pkg/canonical"
)

const scopeName = "ire.intake"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // gRPC endpoint, e.g. "localhost:4317"
	SampleRate     float64       // 0.0 to 1.0
	BatchTimeout   time.Duration // span batch flush interval
	Enabled        bool
	Insecure       bool // plaintext connection, dev only
}

// DefaultConfig returns development defaults. Telemetry is off until a
// collector endpoint is deliberately configured.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "ire-intake",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        false,
	}
}

// Provider manages the trace and metric providers and the pipeline's
// RED instruments: messages processed, fail-closed outcomes, stage
// duration, and chains currently in flight.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	messageCounter metric.Int64Counter
	failCounter    metric.Int64Counter
	stageDuration  metric.Float64Histogram
	activeChains   metric.Int64UpDownCounter
}

// New creates a provider. With Enabled false it returns a provider
// whose instruments are all no-ops, so callers never branch.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "telemetry disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("init metric provider: %w", err)
	}

	p.tracer = otel.Tracer(scopeName,
		trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = otel.Meter(scopeName,
		metric.WithInstrumentationVersion(config.ServiceVersion))

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
		"sample_rate", config.SampleRate,
	)
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case p.config.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case p.config.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(p.config.SampleRate)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(p.config.BatchTimeout),
		),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
	}
	if p.config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(15*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.messageCounter, err = p.meter.Int64Counter("ire.messages.total",
		metric.WithDescription("Messages that entered the pipeline"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	p.failCounter, err = p.meter.Int64Counter("ire.fail_closed.total",
		metric.WithDescription("Stage executions that ended fail-closed"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return err
	}

	p.stageDuration, err = p.meter.Float64Histogram("ire.stage.duration",
		metric.WithDescription("Stage execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return err
	}

	p.activeChains, err = p.meter.Int64UpDownCounter("ire.chains.active",
		metric.WithDescription("Decision chains currently in flight"),
		metric.WithUnit("{chain}"),
	)
	return err
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "trace provider shutdown failed", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "metric provider shutdown failed", "error", err)
		}
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scopeName)
	}
	return p.tracer
}

// Meter returns the configured meter.
func (p *Provider) Meter() metric.Meter {
	if p.meter == nil {
		return otel.Meter(scopeName)
	}
	return p.meter
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return p.Tracer().Start(ctx, name, opts...)
}

// RecordMessage counts one message entering the pipeline.
func (p *Provider) RecordMessage(ctx context.Context, attrs ...attribute.KeyValue) {
	if p.messageCounter != nil {
		p.messageCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordFailClosed counts one fail-closed outcome.
func (p *Provider) RecordFailClosed(ctx context.Context, stage canonical.Stage, reason string) {
	if p.failCounter != nil {
		p.failCounter.Add(ctx, 1, metric.WithAttributes(
			AttrStage.String(string(stage)),
			AttrFailReason.String(reason),
		))
	}
}

// RecordStageDuration records how long one stage execution took.
func (p *Provider) RecordStageDuration(ctx context.Context, duration time.Duration, attrs ...attribute.KeyValue) {
	if p.stageDuration != nil {
		p.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
}

// TrackStage opens a span for one stage execution and returns the
// function to call when it completes. The returned finish records
// duration, and a fail-closed outcome when err is non-nil.
func (p *Provider) TrackStage(ctx context.Context, stage canonical.Stage, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()

	ctx, span := p.StartSpan(ctx, "ire.stage."+string(stage),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)

	if p.activeChains != nil {
		p.activeChains.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	p.RecordMessage(ctx, attrs...)

	return ctx, func(err error) {
		if p.activeChains != nil {
			p.activeChains.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		p.RecordStageDuration(ctx, time.Since(start), attrs...)
		if err != nil {
			span.RecordError(err)
			p.RecordFailClosed(ctx, stage, err.Error())
		}
		span.End()
	}
}
