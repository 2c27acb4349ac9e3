package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIMaxTokens = 1024

type OpenAIConfig struct {
	Model        string
	APIKey       string
	MaxTokens    int64
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	Logger       *log.Logger
}

type OpenAIEngine struct {
	client       *openai.Client
	model        string
	maxTokens    int64
	timeout      time.Duration
	retries      int
	retryBackoff time.Duration
	logger       *log.Logger
}

func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultOpenAIMaxTokens
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
	client := openai.NewClient(clientOpts...)
	return &OpenAIEngine{
		client:       &client,
		model:        model,
		maxTokens:    maxTokens,
		timeout:      timeout,
		retries:      retries,
		retryBackoff: backoff,
		logger:       logger,
	}
}

func (e *OpenAIEngine) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retries+1; attempt++ {
		text, err := e.completeOnce(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryableOpenAI(err) || attempt == e.retries+1 {
			break
		}
		wait := time.Duration(attempt) * e.retryBackoff
		e.logger.Printf("reasoning openai retry purpose=%s attempt=%d wait=%s reason=%v", req.Purpose, attempt, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown openai error")
	}
	return "", lastErr
}

func (e *OpenAIEngine) completeOnce(ctx context.Context, req Request) (string, error) {
	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model:               e.model,
		Messages:            openaiMessages(req.Blocks),
		MaxCompletionTokens: openai.Int(e.maxTokens),
	}
	resp, err := e.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return "", fmt.Errorf("openai api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai response has no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty openai response")
	}
	return text, nil
}

func openaiMessages(blocks []Block) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	for _, block := range blocks {
		if strings.TrimSpace(block.Text) == "" {
			continue
		}
		switch block.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(block.Text))
		default:
			messages = append(messages, openai.UserMessage(block.Text))
		}
	}
	return messages
}

func retryableOpenAI(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return retryableTransport(err)
}
