package dto

type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=system user assistant"`
	Content string `json:"content" validate:"required"`
}

type ChatRequest struct {
	Message string        `json:"message" validate:"required,max=4000"`
	History []ChatMessage `json:"history" validate:"max=40,dive"`
	Model   string        `json:"model,omitempty"`
}

func (r ChatRequest) Validate() error {
	return GetValidator().Struct(r)
}

type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type ChatResponse struct {
	Reply string     `json:"reply"`
	Usage TokenUsage `json:"usage"`
}

// CompletionResult is what the upstream text-completion collaborator returns.
type CompletionResult struct {
	Text         string
	InputTokens  int
	OutputTokens int
}
