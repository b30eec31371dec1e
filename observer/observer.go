// Package observer provides OTEL-based observability for mergerag.
//
// It wraps Provider, EmbeddingProvider, Retriever and per-corpus query
// engines with instrumented versions that emit traces, metrics and logs via
// OpenTelemetry. Export to any OTEL-compatible backend by setting the
// standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/mergerag/observer"

// Instruments holds all OTEL instruments used by the observer wrappers.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger otellog.Logger

	// LLM
	TokenUsage  metric.Int64Counter
	CostTotal   metric.Float64Counter
	LLMRequests metric.Int64Counter
	LLMDuration metric.Float64Histogram

	// Embedding
	EmbedRequests metric.Int64Counter
	EmbedDuration metric.Float64Histogram

	// Retrieval and per-corpus queries
	RetrievalRequests metric.Int64Counter
	RetrievalDuration metric.Float64Histogram
	RetrievedNodes    metric.Int64Histogram
	QueryRequests     metric.Int64Counter
	QueryDuration     metric.Float64Histogram

	Cost *CostCalculator
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context, serviceName string, pricing map[string]ModelPricing) (*Instruments, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "mergerag"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := NewInstruments(pricing)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

// NewInstruments creates instruments on the global OTEL providers. Without
// Init those are no-ops, which is what tests and disabled observability use.
func NewInstruments(pricing map[string]ModelPricing) (*Instruments, error) {
	meter := otel.Meter(scopeName)
	inst := &Instruments{
		Tracer: otel.Tracer(scopeName),
		Meter:  meter,
		Logger: global.GetLoggerProvider().Logger(scopeName),
		Cost:   NewCostCalculator(pricing),
	}

	var err error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, e := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		err = errors.Join(err, e)
		return c
	}
	histogram := func(name, desc, unit string) metric.Float64Histogram {
		h, e := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
		err = errors.Join(err, e)
		return h
	}

	inst.TokenUsage = counter("llm.token.usage", "Total tokens consumed", "{token}")
	inst.LLMRequests = counter("llm.requests", "LLM request count", "{request}")
	inst.LLMDuration = histogram("llm.duration", "LLM call duration", "ms")
	inst.EmbedRequests = counter("embedding.requests", "Embedding request count", "{request}")
	inst.EmbedDuration = histogram("embedding.duration", "Embedding call duration", "ms")
	inst.RetrievalRequests = counter("retrieval.requests", "Retrieval count", "{request}")
	inst.RetrievalDuration = histogram("retrieval.duration", "Retrieval duration", "ms")
	inst.QueryRequests = counter("corpus.queries", "Per-corpus query count", "{query}")
	inst.QueryDuration = histogram("corpus.query.duration", "Per-corpus query duration", "ms")

	costTotal, e := meter.Float64Counter("llm.cost.total",
		metric.WithDescription("Cumulative LLM cost in USD"),
		metric.WithUnit("USD"))
	err = errors.Join(err, e)
	inst.CostTotal = costTotal

	retrieved, e := meter.Int64Histogram("retrieval.nodes",
		metric.WithDescription("Nodes returned per retrieval after merging"),
		metric.WithUnit("{node}"))
	err = errors.Join(err, e)
	inst.RetrievedNodes = retrieved

	if err != nil {
		return nil, err
	}
	return inst, nil
}

// emit writes a structured OTEL log record.
func (i *Instruments) emit(ctx context.Context, severity otellog.Severity, body string, attrs ...otellog.KeyValue) {
	var rec otellog.Record
	rec.SetSeverity(severity)
	rec.SetBody(otellog.StringValue(body))
	rec.AddAttributes(attrs...)
	i.Logger.Emit(ctx, rec)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func severityOf(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}
