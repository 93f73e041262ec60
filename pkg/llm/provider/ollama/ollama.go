// Package ollama implements llm.Generator against a local Ollama server.
package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/spool/pkg/llm"
)

const (
	Name = "ollama"

	DefaultModel   = "llama3.2"
	DefaultBaseURL = "http://localhost:11434"
)

type Config struct {
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Generator calls /api/chat without streaming.
type Generator struct {
	model   string
	baseURL string
	client  *http.Client
}

var _ llm.Generator = (*Generator)(nil)

func New(c Config) *Generator {
	g := &Generator{
		model:   c.Model,
		baseURL: strings.TrimRight(c.BaseURL, "/"),
		client:  &http.Client{Timeout: c.Timeout},
	}
	if g.model == "" {
		g.model = DefaultModel
	}
	if g.baseURL == "" {
		g.baseURL = DefaultBaseURL
	}
	return g
}

func (g *Generator) Name() string  { return Name }
func (g *Generator) Model() string { return g.model }

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []llm.Message  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	body := chatRequest{
		Model: llm.ModelFor(g, req),
	}
	if req.System != "" {
		body.Messages = append(body.Messages, llm.Message{Role: llm.RoleSystem, Content: req.System})
	}
	body.Messages = append(body.Messages, req.Messages...)
	if req.Params.JSON {
		body.Format = "json"
	}

	opts := map[string]any{}
	if req.Params.Temperature != nil {
		opts["temperature"] = *req.Params.Temperature
	}
	if req.Params.Seed != nil {
		opts["seed"] = *req.Params.Seed
	}
	if req.Params.MaxTokens > 0 {
		opts["num_predict"] = req.Params.MaxTokens
	}
	if len(opts) > 0 {
		body.Options = opts
	}

	var resp chatResponse
	if err := llm.PostJSON(ctx, g.client, Name, g.baseURL+"/api/chat", nil, body, &resp); err != nil {
		return llm.Response{}, err
	}

	return llm.Response{
		Model:      resp.Model,
		Text:       resp.Message.Content,
		StopReason: resp.DoneReason,
		Usage: llm.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
		},
	}, nil
}
