package llm

// Request is a provider-agnostic completion request.
type Request struct {
	// Model overrides the generator's configured model when set.
	Model string `json:"model,omitempty"`

	// System prompt. Providers that take it as a message get it prepended.
	System string `json:"system,omitempty"`

	Messages []Message `json:"messages"`

	Params Params `json:"params"`
}

// Params are the sampling parameters that affect a generation's result.
// They are part of the generation fingerprint, so the zero value of every
// field means "provider default" rather than an explicit setting.
type Params struct {
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Seed        *int     `json:"seed,omitempty"`

	// JSON asks the provider for a JSON object response when supported.
	JSON bool `json:"json,omitempty"`
}
