package llm

import (
	"context"
	"time"

	"github.com/muchaco/council/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// GatewayRecorder receives one observation per gateway call.
type GatewayRecorder interface {
	RecordGatewayCall(provider, model, outcome string, duration time.Duration, tokens int)
}

// ObservedGateway adds tracing, metrics and logging around a Gateway.
type ObservedGateway struct {
	next     Gateway
	recorder GatewayRecorder
	tracer   trace.Tracer
	logger   *zap.Logger

	// OTLP 指标，与 Prometheus recorder 并行
	duration metric.Float64Histogram
	usage    metric.Int64Counter
}

// NewObservedGateway wraps next. recorder may be nil.
func NewObservedGateway(next Gateway, recorder GatewayRecorder, logger *zap.Logger) *ObservedGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &ObservedGateway{
		next:     next,
		recorder: recorder,
		tracer:   otel.Tracer("github.com/muchaco/council/llm"),
		logger:   logger.With(zap.String("component", "gateway")),
	}

	meter := otel.Meter("github.com/muchaco/council/llm")
	var err error
	if g.duration, err = meter.Float64Histogram("gen_ai.client.operation.duration",
		metric.WithUnit("s"),
		metric.WithDescription("Gateway generate latency")); err != nil {
		g.logger.Warn("otel histogram unavailable", zap.Error(err))
	}
	if g.usage, err = meter.Int64Counter("gen_ai.client.token.usage",
		metric.WithUnit("{token}"),
		metric.WithDescription("Tokens reported by the gateway")); err != nil {
		g.logger.Warn("otel counter unavailable", zap.Error(err))
	}
	return g
}

func (g *ObservedGateway) Name() string { return g.next.Name() }

func (g *ObservedGateway) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	ctx, span := g.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.provider", g.next.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Float64("llm.temperature", req.Temperature),
		attribute.Int("llm.max_tokens", req.MaxTokens),
	))
	defer span.End()

	start := time.Now()
	resp, err := g.next.Generate(ctx, req)
	elapsed := time.Since(start)

	tokens := 0
	if resp != nil && resp.TokenCount != nil {
		tokens = *resp.TokenCount
	}
	g.record(ctx, req.Model, err, elapsed, tokens)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		g.logger.Warn("generate failed",
			zap.String("model", req.Model),
			zap.Duration("latency", elapsed),
			zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.tokens", tokens))
	g.logger.Debug("generate completed",
		zap.String("model", req.Model),
		zap.Duration("latency", elapsed),
		zap.Int("tokens", tokens))
	return resp, nil
}

func (g *ObservedGateway) ListModels(ctx context.Context) ([]Model, error) {
	ctx, span := g.tracer.Start(ctx, "llm.list_models")
	defer span.End()

	models, err := g.next.ListModels(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(types.GetErrorCode(err)))
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.models", len(models)))
	return models, nil
}

func (g *ObservedGateway) record(ctx context.Context, model string, err error, elapsed time.Duration, tokens int) {
	outcome := "success"
	if err != nil {
		outcome = string(types.GetErrorCode(err))
		if outcome == "" {
			outcome = "error"
		}
	}

	attrs := metric.WithAttributes(
		attribute.String("gen_ai.system", g.next.Name()),
		attribute.String("gen_ai.request.model", model),
		attribute.String("outcome", outcome),
	)
	if g.duration != nil {
		g.duration.Record(ctx, elapsed.Seconds(), attrs)
	}
	if g.usage != nil && tokens > 0 {
		g.usage.Add(ctx, int64(tokens), attrs)
	}

	if g.recorder != nil {
		g.recorder.RecordGatewayCall(g.next.Name(), model, outcome, elapsed, tokens)
	}
}
