package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/sahilchouksey/askable/services/llm")

type traced struct {
	Provider
}

// WithTracing wraps p so every call records a span.
func WithTracing(p Provider) Provider {
	if p == nil {
		return nil
	}
	return traced{Provider: p}
}

func (t traced) start(ctx context.Context, op string, req Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, "llm."+op, trace.WithAttributes(
		attribute.String("llm.provider", t.Provider.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.messages", len(req.Messages)),
	))
}

func finish(span trace.Span, resp *Response, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if resp != nil {
		span.SetAttributes(
			attribute.String("llm.finish_reason", resp.FinishReason),
			attribute.Int64("llm.usage.total_tokens", resp.Usage.TotalTokens),
		)
	}
	span.End()
}

func (t traced) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, span := t.start(ctx, "complete", req)
	resp, err := t.Provider.Complete(ctx, req)
	finish(span, resp, err)
	return resp, err
}

func (t traced) Stream(ctx context.Context, req Request, onDelta DeltaFunc) (*Response, error) {
	ctx, span := t.start(ctx, "stream", req)
	resp, err := t.Provider.Stream(ctx, req, onDelta)
	finish(span, resp, err)
	return resp, err
}
