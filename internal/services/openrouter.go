package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ChatMessage is one chat-completions message
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolFunction describes a callable function offered to the model
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

// Tool wraps a function definition
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ChatCompletionRequest is the OpenAI-compatible request body
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	Temperature float64       `json:"temperature"`
}

// ToolCall is a function invocation returned by the model
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatCompletionResponse is the subset of the response the classifier reads
type ChatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatClient sends chat-completion requests
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error)
}

// forcedTool builds the tool_choice value that pins a single function
func forcedTool(name string) map[string]any {
	return map[string]any{
		"type":     "function",
		"function": map[string]string{"name": name},
	}
}

// OpenRouterClient talks to an OpenAI-compatible endpoint through fiber's HTTP agent
type OpenRouterClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

// NewOpenRouterClient creates a client for baseURL (e.g. https://openrouter.ai/api/v1)
func NewOpenRouterClient(baseURL, apiKey string, timeout time.Duration) *OpenRouterClient {
	return &OpenRouterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
	}
}

func (c *OpenRouterClient) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout || timeout == 0 {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	agent := fiber.Post(c.baseURL + "/chat/completions")
	agent.Set(fiber.HeaderAuthorization, "Bearer "+c.apiKey)
	agent.JSON(req)
	agent.Timeout(timeout)

	var resp ChatCompletionResponse
	code, body, errs := agent.Struct(&resp)
	if len(errs) > 0 {
		return nil, fmt.Errorf("chat completion request: %w", errs[0])
	}
	if code < 200 || code >= 300 {
		return nil, fmt.Errorf("chat completion returned status %d: %s", code, truncateBytes(body, 200))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}
	return &resp, nil
}

func truncateBytes(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
