package providers

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

// Gated wraps a Provider with a concurrency limit. All engine LLM calls go
// through a Gated provider so a burst of parallel subtasks cannot exhaust
// the upstream API rate limits.
type Gated struct {
	inner Provider
	sem   *semaphore.Weighted
}

// NewGated bounds inner to at most limit concurrent Generate calls.
func NewGated(inner Provider, limit int64) *Gated {
	if limit <= 0 {
		limit = 1
	}
	return &Gated{
		inner: inner,
		sem:   semaphore.NewWeighted(limit),
	}
}

func (g *Gated) Name() string         { return g.inner.Name() }
func (g *Gated) DefaultModel() string { return g.inner.DefaultModel() }

func (g *Gated) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("llm gate: %w", err)
	}
	defer g.sem.Release(1)

	tracer := otel.Tracer("aiorg-providers")
	ctx, span := tracer.Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", g.inner.Name()),
		attribute.String("llm.model", g.inner.DefaultModel()),
	)

	resp, err := g.inner.Generate(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if resp.Usage != nil {
		span.SetAttributes(attribute.Int("llm.tokens.total", resp.Usage.TotalTokens))
	}
	return resp, nil
}
