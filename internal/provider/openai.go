package provider

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIProvider talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAIProvider struct {
	name    string
	client  *openai.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// NewOpenAI creates a provider for endpoint. A zero timeout disables the
// per-call deadline; a nil limiter disables rate limiting.
func NewOpenAI(name, endpoint, apiKey string, timeout time.Duration, limiter *rate.Limiter) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = endpoint

	return &OpenAIProvider{
		name:    name,
		client:  openai.NewClientWithConfig(config),
		timeout: timeout,
		limiter: limiter,
	}
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Chat sends the request and returns the reply text.
func (p *OpenAIProvider) Chat(ctx context.Context, req Request) (string, error) {
	requestID := uuid.NewString()
	start := time.Now()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: rate limiter: %v", ErrTransport, err)
		}
	}

	log.Debug().
		Str("provider", p.name).
		Str("request_id", requestID).
		Str("model", req.Model).
		Float64("temperature", req.Temperature).
		Int("messages", len(req.Messages)).
		Msg("Chat request")

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: wireTemperature(req.Temperature),
		Messages:    ensureUserTurn(toOpenAIMessages(req.Messages)),
	})
	if err != nil {
		log.Warn().Err(err).
			Str("provider", p.name).
			Str("request_id", requestID).
			Dur("elapsed", time.Since(start)).
			Msg("Chat request failed")
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}

	if len(resp.Choices) == 0 {
		log.Warn().Str("request_id", requestID).Msg("Chat response had no choices")
		return "", fmt.Errorf("%w: no response choices", ErrTransport)
	}

	log.Debug().
		Str("request_id", requestID).
		Dur("elapsed", time.Since(start)).
		Int("reply_len", len(resp.Choices[0].Message.Content)).
		Msg("Chat response")

	return resp.Choices[0].Message.Content, nil
}

// wireTemperature converts t for the request body. go-openai omits a zero
// temperature, which servers read as their own default, so 0 is sent as the
// smallest positive float32.
func wireTemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		result[i] = openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		}
	}
	return result
}

// ensureUserTurn appends a minimal user message when the conversation holds
// only system messages. Several compatible servers reject such requests.
// System messages elsewhere in the history stay in place.
func ensureUserTurn(messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	for _, m := range messages {
		if m.Role != openai.ChatMessageRoleSystem {
			return messages
		}
	}
	if len(messages) == 0 {
		return messages
	}
	log.Debug().Msg("Only system messages present, adding minimal user message")
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: "Begin.",
	})
}
