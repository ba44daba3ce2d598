package provider

import (
	"context"

	"smith/internal/chat"
)

// ChatRequest 封装一次模型请求
// ChatRequest wraps a single model call
type ChatRequest struct {
	Model       string
	Messages    []chat.Message
	Tools       []chat.ToolDef
	Temperature *float64
	MaxTokens   int
}

// StreamCallbacks 流式响应的回调集
// StreamCallbacks is the callback set for streaming responses
type StreamCallbacks struct {
	OnTextChunk      func(chunk string)
	OnReasoningChunk func(chunk string)
	OnUsage          func(usage Usage)
}

// Usage token 用量统计
// Usage reports token consumption
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse 完整响应
// ChatResponse is the complete assembled response
type ChatResponse struct {
	Message      chat.Message
	FinishReason string
	Usage        Usage
	Model        string // model that actually served the request after routing
}

// ModelInfo 模型基本信息
// ModelInfo describes a model as reported by the endpoint
type ModelInfo struct {
	ID      string
	OwnedBy string
}

// Provider is the model backend seen by the agent loop. Implementations
// stream, assemble the full assistant message, and normalize wire errors
// into the NetworkError/ProtocolError taxonomy.
type Provider interface {
	// Chat sends a request and returns the assembled response. Callbacks
	// fire as deltas arrive; cb may be nil.
	Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error)

	// ListModels lists models available at the endpoint.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Name returns the wire protocol name ("chat" or "responses").
	Name() string

	// CurrentModel returns the active model.
	CurrentModel() string

	// SetModel switches the active model.
	SetModel(model string)
}

// wireRequest is the routed request handed to a protocol adapter: the model
// is final and search tool attachment has been decided.
type wireRequest struct {
	model       string
	messages    []chat.Message
	tools       []chat.ToolDef
	temperature *float64
	maxTokens   int
	searchTools bool
}

// wireAdapter is one protocol variant. The selection between the two is
// static per endpoint; nothing downstream branches on the variant again.
type wireAdapter interface {
	chat(ctx context.Context, req wireRequest, cb *StreamCallbacks) (ChatResponse, error)
	listModels(ctx context.Context) ([]ModelInfo, error)
	name() string
}
