// Package llm provides OpenAI-compatible LLM client functionality with
// native and text-parsed tool calling.
package llm

import "context"

// Message represents a chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall represents a tool call requested by the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc carries the function name and raw JSON arguments.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolExecutor executes one named tool with raw JSON arguments and returns
// the result serialized as JSON. Implementations return an error only for
// failures that should abort the whole loop; tool-level problems belong in
// the result payload so the model can react to them.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, arguments string) (string, error)
}

// ToolLoopRequest is the input for a tool-calling completion loop.
type ToolLoopRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Temperature  float64
}

// TokenUsage aggregates token counts across all iterations of one loop.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ToolLoopResult is the outcome of a completed tool loop: the model's final
// text plus bookkeeping about the conversation that produced it.
type ToolLoopResult struct {
	Content       string
	Iterations    int
	ToolCallCount int
	Usage         TokenUsage
}

// ChatClient is the interface the agent layer depends on. Use it for
// dependency injection to enable mocking in tests.
type ChatClient interface {
	// RunToolLoop drives completion rounds against the model, executing
	// requested tools in order between rounds, until the model answers
	// without tool calls or the iteration budget is exhausted.
	RunToolLoop(ctx context.Context, req *ToolLoopRequest, executor ToolExecutor) (*ToolLoopResult, error)

	// GetModel returns the configured model name.
	GetModel() string

	// GetEndpoint returns the configured endpoint.
	GetEndpoint() string
}

// Ensure Client implements ChatClient at compile time.
var _ ChatClient = (*Client)(nil)
