// Package openai implements llm.Generator against the OpenAI Chat
// Completions API.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/spool/pkg/llm"
)

const (
	Name = "openai"

	DefaultModel   = "gpt-4o-mini"
	DefaultBaseURL = "https://api.openai.com"
)

// Config configures the OpenAI generator.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Generator calls /v1/chat/completions.
type Generator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

var _ llm.Generator = (*Generator)(nil)

func New(c Config) *Generator {
	g := &Generator{
		apiKey:  c.APIKey,
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
	Model          string          `json:"model"`
	Messages       []llm.Message   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	Seed           *int            `json:"seed,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate implements llm.Generator.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	body := chatRequest{
		Model:       llm.ModelFor(g, req),
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
		Seed:        req.Params.Seed,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, llm.Message{Role: llm.RoleSystem, Content: req.System})
	}
	body.Messages = append(body.Messages, req.Messages...)
	if req.Params.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+g.apiKey)

	var resp chatResponse
	if err := llm.PostJSON(ctx, g.client, Name, g.baseURL+"/v1/chat/completions", header, body, &resp); err != nil {
		return llm.Response{}, err
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, llm.Fatal(errors.New("openai returned no choices"))
	}

	return llm.Response{
		Model:      resp.Model,
		Text:       resp.Choices[0].Message.Content,
		StopReason: resp.Choices[0].FinishReason,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}
