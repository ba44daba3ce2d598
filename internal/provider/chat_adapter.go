package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"smith/internal/chat"
	"smith/internal/config"
	"smith/internal/logging"
)

// chatAdapter speaks the turn-message protocol: a flat role/content message
// array with nested function tool schemas, streamed as per-choice deltas.
// The SDK path covers well-behaved endpoints; a lenient raw-SSE path picks
// up gateways whose payloads the SDK refuses to decode.
type chatAdapter struct {
	client     *openai.Client
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newChatAdapter(cfg config.ProviderConfig) *chatAdapter {
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	sdkCfg := openai.DefaultConfig(cfg.APIKey)
	sdkCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	sdkCfg.HTTPClient = httpClient
	return &chatAdapter{
		client:     openai.NewClientWithConfig(sdkCfg),
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

func (a *chatAdapter) name() string { return "chat" }

func (a *chatAdapter) chat(ctx context.Context, req wireRequest, cb *StreamCallbacks) (ChatResponse, error) {
	delivered := 0
	counted := countingCallbacks(cb, &delivered)

	resp, err := a.chatSDK(ctx, req, counted)
	if err == nil {
		return resp, nil
	}
	// Fall back to the lenient parser only for decode-shaped failures and
	// only when nothing has reached the caller yet; replaying a stream that
	// already delivered text would duplicate it.
	if delivered == 0 && decodeShaped(err) {
		logging.Debug("chat stream falling back to compat parser", "err", err)
		return a.chatCompat(ctx, req, cb)
	}
	return ChatResponse{}, err
}

func (a *chatAdapter) chatSDK(ctx context.Context, req wireRequest, cb *StreamCallbacks) (ChatResponse, error) {
	sdkReq := openai.ChatCompletionRequest{
		Model:         req.model,
		Messages:      toSDKMessages(req.messages),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
	}
	if req.temperature != nil {
		sdkReq.Temperature = float32(*req.temperature)
	}
	if req.maxTokens > 0 {
		sdkReq.MaxTokens = req.maxTokens
	}
	if len(req.tools) > 0 {
		sdkReq.Tools = toSDKTools(req.tools)
		sdkReq.ToolChoice = "auto"
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, sdkReq)
	if err != nil {
		return ChatResponse{}, classifyWireError("chat stream", err)
	}
	defer stream.Close()

	m := NewMerger()
	var (
		finishReason string
		usage        Usage
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ChatResponse{}, ctx.Err()
			}
			return ChatResponse{}, classifyWireError("chat stream recv", err)
		}
		if chunk.Usage != nil {
			usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != "" {
				finishReason = string(choice.FinishReason)
			}
			delta := choice.Delta
			if delta.Content != "" && m.Text(0, delta.Content) && cb != nil && cb.OnTextChunk != nil {
				cb.OnTextChunk(delta.Content)
			}
			if delta.ReasoningContent != "" && m.Reasoning(0, delta.ReasoningContent) && cb != nil && cb.OnReasoningChunk != nil {
				cb.OnReasoningChunk(delta.ReasoningContent)
			}
			for _, tc := range delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				if tc.ID != "" || tc.Function.Name != "" {
					m.OpenCall(0, idx, tc.ID, tc.Function.Name)
				}
				if tc.Function.Arguments != "" {
					m.ArgsDelta(0, idx, tc.Function.Arguments)
				}
			}
		}
	}
	m.Terminal(0)

	msg, err := m.Finalize()
	if err != nil {
		return ChatResponse{}, err
	}
	if cb != nil && cb.OnUsage != nil && usage.TotalTokens > 0 {
		cb.OnUsage(usage)
	}
	return ChatResponse{Message: msg, FinishReason: finishReason, Usage: usage, Model: req.model}, nil
}

// chatCompat posts the request itself and parses the SSE stream leniently:
// content may be a plain string or typed parts, reasoning may appear under
// either field name, and a truncated trailing line is tolerated.
func (a *chatAdapter) chatCompat(ctx context.Context, req wireRequest, cb *StreamCallbacks) (ChatResponse, error) {
	payload := map[string]any{
		"model":    req.model,
		"messages": toSDKMessages(req.messages),
		"stream":   true,
	}
	if req.temperature != nil {
		payload["temperature"] = *req.temperature
	}
	if req.maxTokens > 0 {
		payload["max_tokens"] = req.maxTokens
	}
	if len(req.tools) > 0 {
		payload["tools"] = req.tools
		payload["tool_choice"] = "auto"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, ctx.Err()
		}
		return ChatResponse{}, &NetworkError{Op: "chat request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ChatResponse{}, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	m := NewMerger()
	finishReason, usage, err := parseChatStream(resp.Body, m, cb)
	if err != nil {
		if ctx.Err() != nil {
			return ChatResponse{}, ctx.Err()
		}
		return ChatResponse{}, err
	}

	msg, err := m.Finalize()
	if err != nil {
		return ChatResponse{}, err
	}
	if cb != nil && cb.OnUsage != nil && usage.TotalTokens > 0 {
		cb.OnUsage(usage)
	}
	return ChatResponse{Message: msg, FinishReason: finishReason, Usage: usage, Model: req.model}, nil
}

type compatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          json.RawMessage       `json:"content"`
			Reasoning        string                `json:"reasoning"`
			ReasoningContent string                `json:"reasoning_content"`
			ToolCalls        []compatToolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type compatToolCallDelta struct {
	Index    *int   `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// parseChatStream consumes a chat-completions SSE body into the merger. It
// is pure with respect to the network so tests can drive it from a string.
func parseChatStream(r io.Reader, m *Merger, cb *StreamCallbacks) (string, Usage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var (
		finishReason string
		usage        Usage
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			m.Terminal(0)
			break
		}

		var chunk compatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// 流式 SSE 中某行可能被截断，缺根对象闭合 }，补全后重试
			// a truncated SSE line may lack the closing brace; retry once
			retried := append([]byte(payload), '}')
			if retryErr := json.Unmarshal(retried, &chunk); retryErr != nil {
				return "", Usage{}, &ProtocolError{Op: "chat stream", Detail: "undecodable event", Err: err}
			}
		}

		if chunk.Usage != nil {
			usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finishReason = *choice.FinishReason
			}
			text, err := parseDeltaContent(choice.Delta.Content)
			if err != nil {
				return "", Usage{}, err
			}
			if text != "" && m.Text(0, text) && cb != nil && cb.OnTextChunk != nil {
				cb.OnTextChunk(text)
			}
			reasoning := choice.Delta.ReasoningContent
			if reasoning == "" {
				reasoning = choice.Delta.Reasoning
			}
			if reasoning != "" && m.Reasoning(0, reasoning) && cb != nil && cb.OnReasoningChunk != nil {
				cb.OnReasoningChunk(reasoning)
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				if tc.ID != "" || tc.Function.Name != "" {
					m.OpenCall(0, idx, tc.ID, tc.Function.Name)
				}
				if tc.Function.Arguments != "" {
					m.ArgsDelta(0, idx, tc.Function.Arguments)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", Usage{}, &NetworkError{Op: "chat stream read", Err: err}
	}
	// Streams from some gateways end without [DONE]; EOF after a finish
	// reason is treated as the terminal.
	if !m.SawTerminal() {
		m.Terminal(0)
	}
	return finishReason, usage, nil
}

func (a *chatAdapter) listModels(ctx context.Context) ([]ModelInfo, error) {
	list, err := a.client.ListModels(ctx)
	if err != nil {
		return nil, classifyWireError("list models", err)
	}
	out := make([]ModelInfo, 0, len(list.Models))
	for _, model := range list.Models {
		out = append(out, ModelInfo{ID: model.ID, OwnedBy: model.OwnedBy})
	}
	return out, nil
}

func toSDKMessages(msgs []chat.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		m := openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		if len(msg.MultiContent) > 0 {
			m.Content = ""
			for _, part := range msg.MultiContent {
				switch p := part.(type) {
				case chat.TextContent:
					m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: p.Text,
					})
				case chat.ImageContent:
					detail := openai.ImageURLDetail(p.ImageURL.Detail)
					if detail == "" {
						detail = openai.ImageURLDetailAuto
					}
					m.MultiContent = append(m.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    p.ImageURL.URL,
							Detail: detail,
						},
					})
				}
			}
		}
		for _, tc := range msg.ToolCalls {
			toolType := openai.ToolType(tc.Type)
			if toolType == "" {
				toolType = openai.ToolTypeFunction
			}
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: toolType,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func toSDKTools(tools []chat.ToolDef) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}

func classifyWireError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}

func decodeShaped(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid character")
}

func countingCallbacks(cb *StreamCallbacks, delivered *int) *StreamCallbacks {
	if cb == nil {
		cb = &StreamCallbacks{}
	}
	inner := *cb
	return &StreamCallbacks{
		OnTextChunk: func(chunk string) {
			*delivered++
			if inner.OnTextChunk != nil {
				inner.OnTextChunk(chunk)
			}
		},
		OnReasoningChunk: func(chunk string) {
			*delivered++
			if inner.OnReasoningChunk != nil {
				inner.OnReasoningChunk(chunk)
			}
		},
		OnUsage: inner.OnUsage,
	}
}

// parseDeltaContent tolerates both a plain string and typed content parts.
func parseDeltaContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}

	var parts []struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		OutputText string `json:"output_text"`
	}
	if err := json.Unmarshal(raw, &parts); err == nil && len(parts) > 0 {
		var builder strings.Builder
		for _, part := range parts {
			text := part.Text
			if text == "" {
				text = part.OutputText
			}
			if text == "" {
				continue
			}
			kind := strings.ToLower(strings.TrimSpace(part.Type))
			if kind != "" && kind != "text" && kind != "output_text" {
				continue
			}
			builder.WriteString(text)
		}
		return builder.String(), nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", &ProtocolError{Op: "chat stream", Detail: "undecodable delta content", Err: err}
	}
	return extractText(generic), nil
}

func extractText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		var builder strings.Builder
		for _, item := range val {
			builder.WriteString(extractText(item))
		}
		return builder.String()
	case map[string]any:
		if kind, ok := val["type"].(string); ok {
			normalized := strings.ToLower(strings.TrimSpace(kind))
			if normalized != "" && normalized != "text" && normalized != "output_text" {
				if nested, ok := val["content"]; ok {
					return extractText(nested)
				}
				return ""
			}
		}
		if text, ok := val["text"].(string); ok && text != "" {
			return text
		}
		if outputText, ok := val["output_text"].(string); ok && outputText != "" {
			return outputText
		}
		if content, ok := val["content"]; ok {
			if text := extractText(content); text != "" {
				return text
			}
		}
	}
	return ""
}
