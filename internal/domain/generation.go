package domain

// ============================================================
// LLM content generation
// ============================================================

// TokenUsage tracks LLM token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionRequest is sent to the LLM adapter.
type CompletionRequest struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	UserID       string

	// Temperature is nil for the adapter default. Zero is honoured.
	Temperature *float32
}

// CompletionResponse is returned by the LLM adapter.
type CompletionResponse struct {
	Content      string     `json:"content"`
	Model        string     `json:"model"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        TokenUsage `json:"usage"`
}

// GenerateContentRequest is the payload of POST /api/generate-content.
type GenerateContentRequest struct {
	Prompt       string   `json:"prompt"                  validate:"required,max=20000"`
	SystemPrompt string   `json:"systemPrompt,omitempty"  validate:"max=8000"`
	MaxTokens    int      `json:"maxTokens,omitempty"     validate:"omitempty,min=1"`
	Temperature  *float32 `json:"temperature,omitempty"   validate:"omitempty,min=0,max=2"`
}
