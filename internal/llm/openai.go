package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// OpenAIClient generates text through the chat completions API of OpenAI or
// an Azure OpenAI deployment.
type OpenAIClient struct {
	client   openai.Client
	model    string
	provider string
}

// NewOpenAI creates a client for api.openai.com.
func NewOpenAI(apiKey, model string, opts ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: OPENAI_API_KEY is not set")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIClient{
		client:   openai.NewClient(opts...),
		model:    model,
		provider: "openai",
	}, nil
}

// NewAzureOpenAI creates a client for an Azure OpenAI deployment. The
// deployment name is sent as the model.
func NewAzureOpenAI(endpoint, apiKey, apiVersion, deployment string) (*OpenAIClient, error) {
	if endpoint == "" || apiKey == "" {
		return nil, fmt.Errorf("azure: AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_API_KEY are required")
	}
	return &OpenAIClient{
		client: openai.NewClient(
			azure.WithEndpoint(endpoint, apiVersion),
			azure.WithAPIKey(apiKey),
		),
		model:    deployment,
		provider: "azure",
	}, nil
}

// Provider returns "openai" or "azure".
func (c *OpenAIClient) Provider() string { return c.provider }

// Generate implements Generator.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(defaultMaxTokens(req.MaxTokens))),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return "", classify(c.provider, err, status)
	}
	if len(resp.Choices) == 0 {
		return "", NewError(ErrorTypeEmptyResponse, c.provider+" returned no choices")
	}
	return checkText(c.provider, resp.Choices[0].Message.Content)
}
