package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/papercomputeco/spool/pkg/llm"
)

// CountingGenerator is a deterministic llm.Generator that records every
// request it receives.
type CountingGenerator struct {
	// Respond overrides the default response. The default echoes a digest
	// of the last user message so equal requests produce equal output.
	Respond func(req llm.Request) (string, error)

	// FailWhen is consulted before Respond. A non-nil error fails the call.
	FailWhen func(req llm.Request) error

	mu       sync.Mutex
	requests []llm.Request
}

// NewCountingGenerator returns a generator with the default response.
func NewCountingGenerator() *CountingGenerator {
	return &CountingGenerator{}
}

func (g *CountingGenerator) Name() string  { return "mock" }
func (g *CountingGenerator) Model() string { return "mock-model" }

func (g *CountingGenerator) Generate(_ context.Context, req llm.Request) (llm.Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.FailWhen != nil {
		if err := g.FailWhen(req); err != nil {
			return llm.Response{}, err
		}
	}

	var (
		text string
		err  error
	)
	if g.Respond != nil {
		text, err = g.Respond(req)
	} else {
		text = DefaultResponse(req)
	}
	if err != nil {
		return llm.Response{}, err
	}

	return llm.Response{
		Model:      llm.ModelFor(g, req),
		Text:       text,
		StopReason: "stop",
		Usage:      llm.Usage{PromptTokens: len(req.Messages), CompletionTokens: 1},
	}, nil
}

// Calls is the number of Generate calls so far.
func (g *CountingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Requests returns a copy of every request received.
func (g *CountingGenerator) Requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.requests...)
}

// Reset forgets recorded requests.
func (g *CountingGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = nil
}

// DefaultResponse is the text CountingGenerator returns for req.
func DefaultResponse(req llm.Request) string {
	var last string
	for _, m := range req.Messages {
		if m.Role == llm.RoleUser {
			last = m.Content
		}
	}
	words := strings.Fields(last)
	if len(words) > 12 {
		words = words[:12]
	}
	return fmt.Sprintf("summary (%d chars): %s", len(last), strings.Join(words, " "))
}
