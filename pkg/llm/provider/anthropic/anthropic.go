// Package anthropic implements llm.Generator against the Anthropic Messages
// API.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/papercomputeco/spool/pkg/llm"
)

const (
	Name = "anthropic"

	DefaultModel     = "claude-haiku-4-5-20251001"
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultMaxTokens = 1024

	apiVersion = "2023-06-01"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Generator calls /v1/messages.
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

type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	Messages    []llm.Message `json:"messages"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Generate implements llm.Generator. System messages in req.Messages are
// folded into the system prompt since the Messages API only accepts user
// and assistant turns.
func (g *Generator) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	body := messagesRequest{
		Model:       llm.ModelFor(g, req),
		System:      req.System,
		MaxTokens:   req.Params.MaxTokens,
		Temperature: req.Params.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = DefaultMaxTokens
	}
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			body.System = strings.TrimSpace(body.System + "\n\n" + m.Content)
			continue
		}
		body.Messages = append(body.Messages, m)
	}
	if req.Params.JSON && len(body.Messages) > 0 {
		last := &body.Messages[len(body.Messages)-1]
		last.Content += "\n\nReturn ONLY valid JSON, no markdown or extra text."
	}

	header := http.Header{}
	header.Set("x-api-key", g.apiKey)
	header.Set("anthropic-version", apiVersion)

	var resp messagesResponse
	if err := llm.PostJSON(ctx, g.client, Name, g.baseURL+"/v1/messages", header, body, &resp); err != nil {
		return llm.Response{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return llm.Response{}, llm.Fatal(errors.New("anthropic returned no content"))
	}

	return llm.Response{
		Model:      resp.Model,
		Text:       text.String(),
		StopReason: resp.StopReason,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
		},
	}, nil
}
