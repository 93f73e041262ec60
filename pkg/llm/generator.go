// Package llm defines the generation backend used by the pipeline, its error
// classification, and shared HTTP plumbing for providers.
package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// Generator produces a completion for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Name identifies the provider, e.g. "openai".
	Name() string

	// Model is the default model used when a request names none.
	Model() string
}

// GeneratorFunc adapts a function into a Generator.
type GeneratorFunc struct {
	ProviderName string
	ModelName    string
	Fn           func(ctx context.Context, req Request) (Response, error)
}

func (g GeneratorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return g.Fn(ctx, req)
}

func (g GeneratorFunc) Name() string  { return g.ProviderName }
func (g GeneratorFunc) Model() string { return g.ModelName }

type limited struct {
	Generator
	limiter *rate.Limiter
}

// WithRateLimit waits on limiter before every call to g. A nil limiter
// returns g unchanged.
func WithRateLimit(g Generator, limiter *rate.Limiter) Generator {
	if limiter == nil {
		return g
	}
	return &limited{Generator: g, limiter: limiter}
}

func (l *limited) Generate(ctx context.Context, req Request) (Response, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return Response{}, err
	}
	return l.Generator.Generate(ctx, req)
}

// ModelFor is the model a request will run against on g.
func ModelFor(g Generator, req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return g.Model()
}
