package ml

import (
	"context"
	"fmt"
	"strings"

	"github.com/finresearch/research-assistant/internal/config"
	"github.com/finresearch/research-assistant/internal/pkg/logger"
)

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is a generated answer with its billed token counts.
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Generator produces answer text from chat messages.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (Completion, error)
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ChatGenerator calls an OpenAI-compatible /chat/completions endpoint.
type ChatGenerator struct {
	http        httpProvider
	model       string
	temperature float64
	maxTokens   int
	log         *logger.Logger
}

// NewGenerator creates a chat-completion generator.
func NewGenerator(cfg config.LLMConfig, log *logger.Logger) *ChatGenerator {
	if log == nil {
		log = logger.Default()
	}
	return &ChatGenerator{
		http:        newHTTPProvider("llm", cfg.BaseURL, cfg.APIKey, config.Timeout(cfg.TimeoutSeconds)),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		log:         log.WithComponent("generator"),
	}
}

// Configured reports whether an API key is present.
func (g *ChatGenerator) Configured() bool {
	return g.http.configured()
}

// Generate sends messages and returns the first choice.
func (g *ChatGenerator) Generate(ctx context.Context, messages []Message) (Completion, error) {
	var resp chatResponse
	err := g.http.postJSON(ctx, "/chat/completions", chatRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}, &resp)
	if err != nil {
		return Completion{}, err
	}

	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("llm: %w", ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Completion{}, fmt.Errorf("llm: empty answer (finish_reason=%s)", resp.Choices[0].FinishReason)
	}

	c := Completion{
		Text:         text,
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}

	g.log.WithContext(ctx).Debug("Generated answer",
		"model", c.Model,
		"input_tokens", c.InputTokens,
		"output_tokens", c.OutputTokens,
		"finish_reason", c.FinishReason,
	)

	return c, nil
}
