package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/lanewise-ai/lanewise-engine/pkg/retry"
)

// Default loop settings, overridable through Config.
const (
	DefaultMaxToolIterations = 10
	DefaultTemperature       = 0.3 // low temp for deterministic tool use
)

// Config holds configuration for creating an LLM client.
type Config struct {
	Endpoint          string  // Base URL, e.g. "https://api.openai.com/v1"
	Model             string  // Model name, e.g. "gpt-4o"
	APIKey            string  // Optional for local endpoints
	MaxToolIterations int     // Tool round-trip budget per turn; DefaultMaxToolIterations when 0
	Temperature       float64 // DefaultTemperature when 0
}

// Client provides access to OpenAI-compatible LLM endpoints with tool
// calling. Transient provider failures retry with backoff; calls also pass
// through a circuit breaker so a dead provider fails fast instead of piling
// up timeouts.
type Client struct {
	client            *openai.Client
	endpoint          string
	model             string
	maxToolIterations int
	temperature       float64
	breaker           *CircuitBreaker
	retryCfg          *retry.Config
	logger            *zap.Logger
}

// completionRetryConfig backs off on transient provider failures. Permanent
// failures (bad credentials, unknown model) surface on the first attempt.
func completionRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:       2,
		InitialDelay:     500 * time.Millisecond,
		MaxDelay:         8 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 3,
	}
}

// NewClient creates a new OpenAI-compatible LLM client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	maxIterations := cfg.MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxToolIterations
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}

	return &Client{
		client:            openai.NewClientWithConfig(clientConfig),
		endpoint:          cfg.Endpoint,
		model:             cfg.Model,
		maxToolIterations: maxIterations,
		temperature:       temperature,
		breaker:           NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		retryCfg:          completionRetryConfig(),
		logger:            logger.Named("llm"),
	}, nil
}

// GetModel returns the configured model name.
func (c *Client) GetModel() string {
	return c.model
}

// GetEndpoint returns the configured endpoint.
func (c *Client) GetEndpoint() string {
	return c.endpoint
}

// RunToolLoop performs chat completion rounds with tool support until the
// model answers without tool calls. Tool calls within one round execute in
// the order the model emitted them, and their results are appended before
// the next round.
func (c *Client) RunToolLoop(ctx context.Context, req *ToolLoopRequest, executor ToolExecutor) (*ToolLoopResult, error) {
	messages := c.buildOpenAIMessages(req.Messages, req.SystemPrompt)
	tools := c.buildOpenAITools(req.Tools)

	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = float32(c.temperature)
	}

	result := &ToolLoopResult{}

	for iteration := 0; iteration < c.maxToolIterations; iteration++ {
		result.Iterations = iteration + 1

		c.logger.Debug("Tool loop iteration",
			zap.Int("iteration", iteration),
			zap.Int("message_count", len(messages)))

		content, toolCalls, err := c.completeOnce(ctx, messages, tools, temperature, result)
		if err != nil {
			return nil, err
		}

		// No tool calls means the model is done
		if len(toolCalls) == 0 {
			result.Content = content
			return result, nil
		}

		// Record the assistant turn that requested the tools
		assistantMsg := openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: content,
		}
		for _, tc := range toolCalls {
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		messages = append(messages, assistantMsg)

		// Execute in emission order and feed the results back
		for _, tc := range toolCalls {
			result.ToolCallCount++

			toolResult, execErr := executor.ExecuteTool(ctx, tc.Function.Name, tc.Function.Arguments)
			if execErr != nil {
				toolResult = fmt.Sprintf("Error executing tool: %s", execErr.Error())
			}

			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    toolResult,
				ToolCallID: tc.ID,
			})
		}
	}

	return nil, fmt.Errorf("exceeded maximum tool iterations (%d)", c.maxToolIterations)
}

// completeOnce performs a single chat completion and returns the content and
// requested tool calls, accumulating token usage into result.
func (c *Client) completeOnce(
	ctx context.Context,
	messages []openai.ChatCompletionMessage,
	tools []openai.Tool,
	temperature float32,
	result *ToolLoopResult,
) (string, []ToolCall, error) {
	if allowed, err := c.breaker.Allow(); !allowed {
		return "", nil, NewError(ErrorTypeEndpoint, "provider unavailable", true, err)
	}

	start := time.Now()

	resp, err := retry.DoWithResultIfRetryable(ctx, c.retryCfg, func() (openai.ChatCompletionResponse, error) {
		r, callErr := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Tools:       tools,
			Temperature: temperature,
		})
		if callErr != nil {
			return r, ClassifyError(callErr)
		}
		return r, nil
	})
	if err != nil {
		c.breaker.RecordFailure()
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", nil, ClassifyError(err)
	}
	c.breaker.RecordSuccess()

	if len(resp.Choices) == 0 {
		return "", nil, fmt.Errorf("no choices in response")
	}

	result.Usage.PromptTokens += resp.Usage.PromptTokens
	result.Usage.CompletionTokens += resp.Usage.CompletionTokens
	result.Usage.TotalTokens += resp.Usage.TotalTokens

	choice := resp.Choices[0]
	content := choice.Message.Content

	// Prefer native tool calls; fall back to text-embedded ones for models
	// without native tool calling
	var toolCalls []ToolCall
	if len(choice.Message.ToolCalls) == 0 && content != "" {
		toolCalls = parseTextToolCalls(content, c.logger)
		if len(toolCalls) > 0 {
			content = cleanModelOutput(content)
		}
	} else {
		for _, tc := range choice.Message.ToolCalls {
			toolCalls = append(toolCalls, ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: ToolCallFunc{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}

	c.logger.Info("LLM completion",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("tool_calls", len(toolCalls)))

	return content, toolCalls, nil
}

// textToolCallPattern matches <tool_call>{...}</tool_call> blocks emitted by
// models without native tool calling.
var textToolCallPattern = regexp.MustCompile(`<tool_call>\s*(\{[\s\S]*?\})\s*</tool_call>`)

// parseTextToolCalls parses tool calls from text output.
func parseTextToolCalls(content string, logger *zap.Logger) []ToolCall {
	var toolCalls []ToolCall

	matches := textToolCallPattern.FindAllStringSubmatch(content, -1)
	for i, match := range matches {
		if len(match) < 2 {
			continue
		}

		var toolCallJSON struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}

		if err := json.Unmarshal([]byte(match[1]), &toolCallJSON); err != nil {
			logger.Debug("Failed to parse text tool call", zap.Error(err))
			continue
		}

		argsJSON, err := json.Marshal(toolCallJSON.Arguments)
		if err != nil {
			continue
		}

		toolCalls = append(toolCalls, ToolCall{
			ID:   fmt.Sprintf("text_tool_%d", i),
			Type: "function",
			Function: ToolCallFunc{
				Name:      toolCallJSON.Name,
				Arguments: string(argsJSON),
			},
		})
	}

	return toolCalls
}

// cleanModelOutput removes tool call markup and thinking blocks from model output.
func cleanModelOutput(content string) string {
	content = regexp.MustCompile(`<think>[\s\S]*?</think>`).ReplaceAllString(content, "")
	content = regexp.MustCompile(`<tool_call>[\s\S]*?</tool_call>`).ReplaceAllString(content, "")
	content = regexp.MustCompile(`\n{3,}`).ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// buildOpenAIMessages converts our message format to OpenAI format.
func (c *Client) buildOpenAIMessages(messages []Message, systemPrompt string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}

		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}

		result = append(result, oaiMsg)
	}

	return result
}

// buildOpenAITools converts our tool definitions to OpenAI format.
func (c *Client) buildOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, def := range tools {
		paramsJSON, _ := json.Marshal(def.Parameters)
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(paramsJSON),
			},
		}
	}

	return result
}
