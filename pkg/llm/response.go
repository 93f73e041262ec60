package llm

// Response is a provider-agnostic completion result.
type Response struct {
	// Model that generated the response, as reported by the provider.
	Model string `json:"model"`

	Text string `json:"text"`

	// StopReason such as "stop", "length" or "end_turn".
	StopReason string `json:"stop_reason,omitempty"`

	Usage Usage `json:"usage"`
}

// Usage contains token counts.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// Total is the sum of prompt and completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}
