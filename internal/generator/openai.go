package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"genomeforge/pkg/genome"
)

const (
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvOpenAIModel   = "OPENAI_MODEL"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"

	defaultModel = "gpt-4o-mini"
)

// ErrEmptyCompletion is returned when the model answers with no code.
var ErrEmptyCompletion = errors.New("generator: empty completion")

const systemPrompt = `You write one self-contained React component in TypeScript (TSX) per request.
Reply with code only. Export the component as default. Use the given props as literal content.`

// OpenAIConfig configures the chat-completion backed generator.
type OpenAIConfig struct {
	APIKey      string       `yaml:"api_key"`
	Model       string       `yaml:"model"`
	BaseURL     string       `yaml:"base_url"`
	Temperature float32      `yaml:"temperature"`
	HTTPClient  *http.Client `yaml:"-"`
}

// OpenAI asks a chat model for each block's source.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAI builds the generator, reading OPENAI_* variables for unset fields.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvOpenAIKey)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s not set", EnvOpenAIKey)
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv(EnvOpenAIModel)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv(EnvOpenAIBaseURL)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg), model: cfg.Model, temperature: cfg.Temperature}, nil
}

// Model reports the configured model name.
func (o *OpenAI) Model() string { return o.model }

func (o *OpenAI) Generate(ctx context.Context, blockType string, props genome.Props, zone string) (string, error) {
	prompt, err := buildPrompt(blockType, props, zone)
	if err != nil {
		return "", err
	}
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.temperature,
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion for %s: %w", blockType, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	code := stripFences(resp.Choices[0].Message.Content)
	if code == "" {
		return "", ErrEmptyCompletion
	}
	return code, nil
}

func buildPrompt(blockType string, props genome.Props, zone string) (string, error) {
	if props == nil {
		props = genome.Props{}
	}
	encoded, err := json.Marshal(props)
	if err != nil {
		return "", fmt.Errorf("encode props for %s: %w", blockType, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Block type: %s\n", blockType)
	fmt.Fprintf(&b, "Zone: %s\n", zone)
	fmt.Fprintf(&b, "Props: %s\n", encoded)
	return b.String(), nil
}

// stripFences removes a surrounding markdown code fence if the model added one.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
