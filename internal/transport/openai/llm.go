package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/pengxiaoo/caddie/internal/domain"
	"github.com/pengxiaoo/caddie/internal/metrics"
)

// systemPrompt frames every completion. The model must answer golf questions
// only and reply with the irrelevant-question marker for anything else.
const systemPrompt = "You are a seasoned golf coach. Answer questions about golf rules, " +
	"technique, equipment and etiquette in at most 80 words. " +
	"If the question is not related to golf, reply with exactly \"" +
	domain.IrrelevantAnswerID + "\" and nothing else."

// LLM generates answers via an OpenAI-compatible chat completion API.
type LLM struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// LLMConfig holds the completion provider settings.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	Logger      *zap.Logger
}

// NewLLM creates an OpenAI-compatible completion provider.
func NewLLM(cfg *LLMConfig) *LLM {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &LLM{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      cfg.Logger,
	}
}

// Model returns the configured model name, used as the provenance tag on
// generated answers.
func (l *LLM) Model() string {
	return l.model
}

// Generate answers a standalone question.
func (l *LLM) Generate(ctx context.Context, question string) (string, error) {
	msgs := []domain.Message{{Role: domain.RoleUser, Content: question}}
	return l.GenerateChat(ctx, msgs)
}

// GenerateChat answers with the full conversation as context. The system
// prompt is always prepended.
func (l *LLM) GenerateChat(ctx context.Context, msgs []domain.Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: l.temperature,
		Messages:    toChatMessages(msgs),
	}

	start := time.Now()
	resp, err := l.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(l.model, "error").Inc()
		return "", parseLLMError(err)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMRequestsTotal.WithLabelValues(l.model, "error").Inc()
		return "", fmt.Errorf("empty completion response: %w", domain.ErrLLMUnavailable)
	}

	metrics.LLMRequestsTotal.WithLabelValues(l.model, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(l.model).Observe(duration.Seconds())

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateChatStream streams the completion token by token, calling emit for
// every content delta. Returns the full accumulated answer.
func (l *LLM) GenerateChatStream(
	ctx context.Context, msgs []domain.Message, emit func(delta string) error,
) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: l.temperature,
		Messages:    toChatMessages(msgs),
		Stream:      true,
	}

	start := time.Now()
	stream, err := l.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		metrics.LLMRequestsTotal.WithLabelValues(l.model, "error").Inc()
		return "", parseLLMError(err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.LLMRequestsTotal.WithLabelValues(l.model, "error").Inc()
			return full.String(), parseLLMError(err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := emit(delta); err != nil {
			return full.String(), fmt.Errorf("emit delta: %w", err)
		}
	}

	metrics.LLMRequestsTotal.WithLabelValues(l.model, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(l.model).Observe(time.Since(start).Seconds())

	return strings.TrimSpace(full.String()), nil
}

// toChatMessages converts domain messages to API messages, prepending the
// system prompt.
func toChatMessages(msgs []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	out = append(out, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range msgs {
		out = append(out, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return out
}

// parseLLMError wraps API errors with domain.ErrLLMUnavailable for correct
// 502 mapping.
func parseLLMError(err error) error {
	wrap := domain.ErrLLMUnavailable

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("completion API error %d: %s: %w",
			reqErr.HTTPStatusCode, string(reqErr.Body), wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("completion API error %d: %s: %w",
			apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("completion request failed: %w", wrap)
}
