package llm

import "context"

// openRouterProvider implements Provider for OpenRouter, a routing
// layer in front of many hosted chat models. Useful as the Chat
// provider when comparing answer quality across models without
// reconfiguring a direct vendor integration.
//
// API key: set via config or the OPENROUTER_API_KEY env var.
type openRouterProvider struct {
	base openAICompatClient
}

// NewOpenRouter creates a provider for OpenRouter.
func NewOpenRouter(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api"
	}
	return &openRouterProvider{base: newOpenAICompatClient(cfg)}
}

func (p *openRouterProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return p.base.chat(ctx, req)
}

func (p *openRouterProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.base.embed(ctx, texts)
}
