package provider

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 60 * time.Second

// OpenAI is a stateless chat-completion adapter. It holds no per-call state and is safe
// for concurrent use.
type OpenAI struct {
	client  *openai.Client
	timeout time.Duration
}

var _ Provider = &OpenAI{}

func NewOpenAI(apiKey string, baseURL string, timeout time.Duration) (*OpenAI, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai provider: api key is empty")
	}
	cfg := openai.DefaultConfig(apiKey)
	if v := strings.TrimSpace(baseURL); v != "" {
		cfg.BaseURL = v
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), timeout: timeout}, nil
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (Completion, error) {
	if o == nil || o.client == nil {
		return Completion{}, newError("complete", errors.New("openai provider not initialized"))
	}
	if strings.TrimSpace(req.Model) == "" {
		return Completion{}, errors.New("openai provider: model is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
	})
	if err != nil {
		return Completion{}, newError("complete", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, newError("complete", errors.New("no choices returned"))
	}
	log.Debug().
		Str("component", "provider").
		Str("model", resp.Model).
		Str("finish_reason", string(resp.Choices[0].FinishReason)).
		Dur("elapsed", time.Since(start)).
		Msg("completion received")

	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		HasUsage:         resp.Usage.TotalTokens > 0,
	}, nil
}
