package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultAnthropicMaxTokens = 1024
	defaultReasoningTimeout   = 30 * time.Second
	defaultReasoningRetries   = 2
	defaultRetryBackoff       = 500 * time.Millisecond
)

type AnthropicConfig struct {
	Model        string
	APIKey       string
	MaxTokens    int64
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	Logger       *log.Logger
}

type AnthropicEngine struct {
	client       *anthropic.Client
	model        anthropic.Model
	maxTokens    int64
	timeout      time.Duration
	retries      int
	retryBackoff time.Duration
	logger       *log.Logger
}

func NewAnthropicEngine(cfg AnthropicConfig) *AnthropicEngine {
	model := anthropic.Model(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = anthropic.ModelClaude3_5Sonnet20241022
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultReasoningTimeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultReasoningRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	var clientOpts []option.RequestOption
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)
	return &AnthropicEngine{
		client:       &client,
		model:        model,
		maxTokens:    maxTokens,
		timeout:      timeout,
		retries:      retries,
		retryBackoff: backoff,
		logger:       logger,
	}
}

func (e *AnthropicEngine) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retries+1; attempt++ {
		text, err := e.completeOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryableAnthropic(err) || attempt == e.retries+1 {
			break
		}
		wait := time.Duration(attempt) * e.retryBackoff
		e.logger.Printf("reasoning anthropic retry purpose=%s attempt=%d wait=%s reason=%v", req.Purpose, attempt, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown anthropic error")
	}
	return "", lastErr
}

func (e *AnthropicEngine) completeOnce(ctx context.Context, req Request) (string, error) {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	params := anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		Messages:  anthropicMessages(req.Blocks),
	}
	if system := anthropicSystem(req.Blocks); len(system) > 0 {
		params.System = system
	}

	resp, err := e.client.Messages.New(callCtx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.AsText().Text)
		}
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", errors.New("empty anthropic response")
	}
	return text, nil
}

func anthropicMessages(blocks []Block) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, block := range blocks {
		if block.Role == RoleSystem || strings.TrimSpace(block.Text) == "" {
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(block.Text)))
	}
	return messages
}

func anthropicSystem(blocks []Block) []anthropic.TextBlockParam {
	var system []anthropic.TextBlockParam
	for _, block := range blocks {
		if block.Role == RoleSystem && strings.TrimSpace(block.Text) != "" {
			system = append(system, anthropic.TextBlockParam{Text: block.Text})
		}
	}
	return system
}

func retryableAnthropic(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return retryableTransport(err)
}
