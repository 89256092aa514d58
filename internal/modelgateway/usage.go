package modelgateway

// rawUsage accepts the token-count field names seen across providers.
// OpenAI-compatible servers report prompt/completion, the Responses-style
// APIs report input/output.
type rawUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
}

// normalize reduces provider-specific usage to the single gateway shape,
// computing the total as the sum when the provider omits it.
func (r rawUsage) normalize() Usage {
	u := Usage{
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
		TotalTokens:      r.TotalTokens,
	}
	if u.PromptTokens == 0 {
		u.PromptTokens = r.InputTokens
	}
	if u.CompletionTokens == 0 {
		u.CompletionTokens = r.OutputTokens
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}
