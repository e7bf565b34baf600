package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider *sdktrace.TracerProvider
	ScoreCounter  metric.Int64Counter
	ScoreDuration metric.Int64Histogram
	ReplayCounter metric.Int64Counter
	DegradedCount metric.Int64Counter
	QuotaBlocked  metric.Int64Counter
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "judge-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	scoreCounter, _ := meter.Int64Counter("judge_score_total")
	scoreDuration, _ := meter.Int64Histogram("judge_score_duration_ms")
	replayCounter, _ := meter.Int64Counter("judge_replay_run_total")
	degradedCount, _ := meter.Int64Counter("judge_degraded_total")
	quotaBlocked, _ := meter.Int64Counter("judge_quota_block_total")
	return &Observability{
		Tracer:        tracer,
		Meter:         meter,
		traceProvider: tp,
		ScoreCounter:  scoreCounter,
		ScoreDuration: scoreDuration,
		ReplayCounter: replayCounter,
		DegradedCount: degradedCount,
		QuotaBlocked:  quotaBlocked,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

// MarkScore records one scoring verdict: the decision branch taken and
// whether it was a match.
func (o *Observability) MarkScore(ctx context.Context, branch string, isMatch bool, durationMS int64) {
	if o == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("branch", branch),
		attribute.Bool("is_match", isMatch),
	)
	o.ScoreCounter.Add(ctx, 1, attrs)
	o.ScoreDuration.Record(ctx, durationMS, metric.WithAttributes(
		attribute.String("branch", branch),
	))
}

func (o *Observability) MarkReplay(ctx context.Context, status string) {
	if o == nil {
		return
	}
	o.ReplayCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) MarkDegraded(ctx context.Context, signal string) {
	if o == nil {
		return
	}
	o.DegradedCount.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", signal)))
}

func (o *Observability) MarkQuotaBlocked(ctx context.Context, reason string) {
	if o == nil {
		return
	}
	o.QuotaBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
