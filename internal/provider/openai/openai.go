package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"

	"github.com/tgifai/butler/internal/pkg/utils"
	"github.com/tgifai/butler/internal/provider"
)

var _ provider.Provider = (*Provider)(nil)

// Provider talks to any OpenAI-compatible chat completion API.
type Provider struct {
	config  Config
	chat    *openai.ChatModel
	httpCli *http.Client
}

func NewProvider(ctx context.Context, config Config) (*Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	chat, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      config.APIKey,
		BaseURL:     config.BaseURL,
		Model:       config.Model,
		Timeout:     config.Timeout,
		Temperature: config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat model %s: %w", config.Model, err)
	}

	return &Provider{
		config:  config,
		chat:    chat,
		httpCli: &http.Client{Timeout: config.Timeout},
	}, nil
}

func (p *Provider) Type() provider.Type {
	return provider.OpenAI
}

func (p *Provider) Ask(ctx context.Context, system, prompt string) (string, error) {
	input := make([]*schema.Message, 0, 2)
	if system != "" {
		input = append(input, schema.SystemMessage(system))
	}
	input = append(input, schema.UserMessage(prompt))

	resp, err := p.chat.Generate(ctx, input)
	if err != nil {
		return "", fmt.Errorf("openai API call failed: %w", err)
	}
	return resp.Content, nil
}

type listModelsResponse struct {
	Data []struct {
		ID      string `json:"id"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpCli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, utils.Truncate80(string(body)))
	}

	var parsed listModelsResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	models := make([]provider.ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, provider.ModelInfo{ID: m.ID, Name: m.ID, Provider: provider.OpenAI})
	}
	return models, nil
}
