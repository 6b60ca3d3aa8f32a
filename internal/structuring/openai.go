package structuring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/zombor/marksheet-extractor/internal/evidence"
)

const (
	openAIDefaultModel     = "gpt-4o-mini"
	openAIDefaultMaxTokens = 800
)

// OpenAIConfig holds configuration for the OpenAI structurer.
type OpenAIConfig struct {
	APIKey     string
	Model      string        // "gpt-4o-mini" (default)
	MaxTokens  int           // completion cap, default 800
	MaxBlocks  int           // prompt block cap, default DefaultMaxPromptBlocks
	Timeout    time.Duration // HTTP timeout
	BaseURL    string        // Optional (tests, compatible gateways)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAI implements the Structurer interface using the official OpenAI SDK.
type OpenAI struct {
	model     string
	maxTokens int
	maxBlocks int
	client    openai.Client
}

// NewOpenAI creates a new OpenAI Structurer instance. SDK retries are
// disabled: a failed call fails the request.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = openAIDefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		maxBlocks: cfg.MaxBlocks,
		client:    openai.NewClient(opts...),
	}, nil
}

// Structure asks the chat completions API to structure the recognized blocks
func (o *OpenAI) Structure(ctx context.Context, ix *evidence.Index) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(ix, o.maxBlocks)),
		},
		Temperature: openai.Float(0),
		MaxTokens:   openai.Int(int64(o.maxTokens)),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return fmt.Errorf("openai chat error (status %d): %s", apiErr.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("openai chat error (status %d)", apiErr.StatusCode)
	}
	return fmt.Errorf("calling openai: %w", err)
}

// Close is a no-op; the SDK client holds no resources.
func (o *OpenAI) Close() error {
	return nil
}
