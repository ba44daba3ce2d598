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

	"smith/internal/chat"
	"smith/internal/config"
)

// responsesAdapter speaks the structured-event protocol: typed input items
// instead of a flat message array, a flat tool schema, and a sequenced event
// stream where snapshot events can restate what deltas already carried. The
// merger absorbs that overlap.
type responsesAdapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

func newResponsesAdapter(cfg config.ProviderConfig) *responsesAdapter {
	return &responsesAdapter{
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
	}
}

func (a *responsesAdapter) name() string { return "responses" }

func (a *responsesAdapter) chat(ctx context.Context, req wireRequest, cb *StreamCallbacks) (ChatResponse, error) {
	payload := buildResponsesPayload(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal responses request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("create responses request: %w", err)
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
		return ChatResponse{}, &NetworkError{Op: "responses request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ChatResponse{}, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	m := NewMerger()
	var (
		finishReason string
		usage        Usage
	)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		// Gateway ignored stream=true and sent one complete object.
		finishReason, usage, err = parseResponsesObject(resp.Body, m, cb)
	} else {
		finishReason, usage, err = parseResponsesStream(resp.Body, m, cb)
	}
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
	if finishReason == "" {
		if m.HasToolCalls() {
			finishReason = "tool_calls"
		} else {
			finishReason = "stop"
		}
	}
	if cb != nil && cb.OnUsage != nil && usage.TotalTokens > 0 {
		cb.OnUsage(usage)
	}
	return ChatResponse{Message: msg, FinishReason: finishReason, Usage: usage, Model: req.model}, nil
}

type responsesEvent struct {
	Type string `json:"type"`
	// 序号从 0 开始；缺失时按无序处理 / starts at 0; absent means unsequenced
	SequenceNumber *uint64         `json:"sequence_number"`
	OutputIndex    int             `json:"output_index"`
	ItemID         string          `json:"item_id"`
	Delta          string          `json:"delta"`
	Arguments      string          `json:"arguments"`
	Text           string          `json:"text"`
	Item           *responsesItem  `json:"item"`
	Response       *responsesBody  `json:"response"`
	Code           json.RawMessage `json:"code"`
	Message        string          `json:"message"`
}

type responsesItem struct {
	Type      string                 `json:"type"`
	ID        string                 `json:"id"`
	CallID    string                 `json:"call_id"`
	Name      string                 `json:"name"`
	Arguments string                 `json:"arguments"`
	Role      string                 `json:"role"`
	Status    string                 `json:"status"`
	Content   []responsesContentPart `json:"content"`
}

type responsesContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesBody struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output []responsesItem `json:"output"`
	Usage  *responsesUsage `json:"usage"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// parseResponsesStream consumes a structured-event SSE body into the merger.
// Sequence numbers start at zero on the wire, so they are shifted by one;
// the merger reserves zero for unsequenced input.
func parseResponsesStream(r io.Reader, m *Merger, cb *StreamCallbacks) (string, Usage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var (
		finishReason string
		usage        Usage
		itemIdx      = map[string]int{}
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
			break
		}

		var ev responsesEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return "", Usage{}, &ProtocolError{Op: "responses stream", Detail: "undecodable event", Err: err}
		}
		seq := uint64(0)
		if ev.SequenceNumber != nil {
			seq = *ev.SequenceNumber + 1
		}

		switch ev.Type {
		case "response.output_text.delta":
			if ev.Delta != "" && m.Text(seq, ev.Delta) && cb != nil && cb.OnTextChunk != nil {
				cb.OnTextChunk(ev.Delta)
			}
		case "response.output_text.done":
			if added := m.TextSnapshot(seq, ev.Text); added != "" && cb != nil && cb.OnTextChunk != nil {
				cb.OnTextChunk(added)
			}
		case "response.reasoning_text.delta", "response.reasoning_summary_text.delta":
			if ev.Delta != "" && m.Reasoning(seq, ev.Delta) && cb != nil && cb.OnReasoningChunk != nil {
				cb.OnReasoningChunk(ev.Delta)
			}
		case "response.output_item.added":
			if ev.Item == nil || ev.Item.Type != "function_call" {
				continue
			}
			if ev.Item.ID != "" {
				itemIdx[ev.Item.ID] = ev.OutputIndex
			}
			m.OpenCall(seq, ev.OutputIndex, ev.Item.CallID, ev.Item.Name)
			if ev.Item.Arguments != "" {
				m.ArgsSnapshot(seq, ev.OutputIndex, ev.Item.Arguments)
			}
		case "response.function_call_arguments.delta":
			m.ArgsDelta(seq, resolveItemIndex(itemIdx, ev), ev.Delta)
		case "response.function_call_arguments.done":
			m.ArgsSnapshot(seq, resolveItemIndex(itemIdx, ev), ev.Arguments)
		case "response.output_item.done":
			if ev.Item == nil {
				continue
			}
			switch ev.Item.Type {
			case "function_call":
				idx := ev.OutputIndex
				if ev.Item.ID != "" {
					if known, ok := itemIdx[ev.Item.ID]; ok {
						idx = known
					}
				}
				if ev.Item.Arguments != "" {
					m.ArgsSnapshot(seq, idx, ev.Item.Arguments)
				}
				m.CloseCall(seq, idx, ev.Item.CallID, ev.Item.Name)
			case "message":
				// Authoritative item restates the full text; only the part
				// the deltas have not delivered yet goes to the callback.
				if added := m.TextSnapshot(seq, joinOutputText(ev.Item.Content)); added != "" && cb != nil && cb.OnTextChunk != nil {
					cb.OnTextChunk(added)
				}
			}
		case "response.completed":
			m.Terminal(seq)
			if ev.Response != nil && ev.Response.Usage != nil {
				usage = Usage{
					PromptTokens:     ev.Response.Usage.InputTokens,
					CompletionTokens: ev.Response.Usage.OutputTokens,
					TotalTokens:      ev.Response.Usage.TotalTokens,
				}
			}
		case "response.incomplete":
			m.Terminal(seq)
			finishReason = "incomplete"
		case "response.failed":
			detail := "response failed"
			if ev.Response != nil && ev.Response.Status != "" {
				detail = "response " + ev.Response.Status
			}
			return "", Usage{}, &ProtocolError{Op: "responses stream", Detail: detail}
		case "error", "response.error":
			msg := ev.Message
			if msg == "" {
				msg = "stream error"
			}
			return "", Usage{}, &NetworkError{Op: "responses stream", Err: errors.New(msg)}
		default:
			// Unknown event kinds are skipped; the wire grows new ones.
		}
	}
	if err := scanner.Err(); err != nil {
		return "", Usage{}, &NetworkError{Op: "responses stream read", Err: err}
	}
	return finishReason, usage, nil
}

func resolveItemIndex(itemIdx map[string]int, ev responsesEvent) int {
	if ev.ItemID != "" {
		if idx, ok := itemIdx[ev.ItemID]; ok {
			return idx
		}
	}
	return ev.OutputIndex
}

func joinOutputText(parts []responsesContentPart) string {
	var builder strings.Builder
	for _, part := range parts {
		if part.Type == "" || part.Type == "output_text" || part.Type == "text" {
			builder.WriteString(part.Text)
		}
	}
	return builder.String()
}

func parseResponsesObject(r io.Reader, m *Merger, cb *StreamCallbacks) (string, Usage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", Usage{}, &NetworkError{Op: "responses read", Err: err}
	}
	var body responsesBody
	if err := json.Unmarshal(data, &body); err != nil {
		return "", Usage{}, &ProtocolError{Op: "responses parse", Detail: "undecodable response object", Err: err}
	}

	for i, item := range body.Output {
		switch item.Type {
		case "message":
			if text := joinOutputText(item.Content); text != "" {
				if m.Text(0, text) && cb != nil && cb.OnTextChunk != nil {
					cb.OnTextChunk(text)
				}
			}
		case "function_call":
			m.OpenCall(0, i, item.CallID, item.Name)
			if item.Arguments != "" {
				m.ArgsSnapshot(0, i, item.Arguments)
			}
			m.CloseCall(0, i, item.CallID, item.Name)
		}
	}
	m.Terminal(0)

	var usage Usage
	if body.Usage != nil {
		usage = Usage{
			PromptTokens:     body.Usage.InputTokens,
			CompletionTokens: body.Usage.OutputTokens,
			TotalTokens:      body.Usage.TotalTokens,
		}
	}
	finishReason := ""
	if body.Status == "incomplete" {
		finishReason = "incomplete"
	}
	return finishReason, usage, nil
}

// buildResponsesPayload flattens chat messages into typed input items:
// assistant tool calls become standalone function_call items and tool
// results become function_call_output items referencing the call id.
func buildResponsesPayload(req wireRequest) map[string]any {
	input := make([]map[string]any, 0, len(req.messages))
	for _, msg := range req.messages {
		switch msg.Role {
		case chat.RoleAssistant:
			if msg.Content != "" {
				input = append(input, map[string]any{
					"type": "message",
					"role": chat.RoleAssistant,
					"content": []map[string]any{
						{"type": "output_text", "text": msg.Content},
					},
				})
			}
			for _, tc := range msg.ToolCalls {
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   tc.ID,
					"name":      tc.Function.Name,
					"arguments": tc.Function.Arguments,
				})
			}
		case chat.RoleTool:
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": msg.ToolCallID,
				"output":  msg.Content,
			})
		default:
			content := make([]map[string]any, 0, 1+len(msg.MultiContent))
			if len(msg.MultiContent) > 0 {
				for _, part := range msg.MultiContent {
					switch p := part.(type) {
					case chat.TextContent:
						content = append(content, map[string]any{"type": "input_text", "text": p.Text})
					case chat.ImageContent:
						content = append(content, map[string]any{"type": "input_image", "image_url": p.ImageURL.URL})
					}
				}
			} else {
				content = append(content, map[string]any{"type": "input_text", "text": msg.Content})
			}
			input = append(input, map[string]any{
				"type":    "message",
				"role":    msg.Role,
				"content": content,
			})
		}
	}

	payload := map[string]any{
		"model":  req.model,
		"input":  input,
		"stream": true,
		"store":  false,
	}
	if req.temperature != nil {
		payload["temperature"] = *req.temperature
	}
	if req.maxTokens > 0 {
		payload["max_output_tokens"] = req.maxTokens
	}

	tools := make([]map[string]any, 0, len(req.tools)+2)
	for _, t := range req.tools {
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        t.Function.Name,
			"description": t.Function.Description,
			"parameters":  t.Function.Parameters,
		})
	}
	if req.searchTools {
		tools = append(tools,
			map[string]any{"type": "web_search"},
			map[string]any{"type": "x_search"},
		)
	}
	if len(tools) > 0 {
		payload["tools"] = tools
		payload["tool_choice"] = "auto"
	}
	return payload
}

func (a *responsesAdapter) listModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: "list models", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}

	var parsed struct {
		Data []struct {
			ID      string `json:"id"`
			OwnedBy string `json:"owned_by"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &ProtocolError{Op: "list models", Detail: "undecodable model list", Err: err}
	}
	out := make([]ModelInfo, 0, len(parsed.Data))
	for _, model := range parsed.Data {
		out = append(out, ModelInfo{ID: model.ID, OwnedBy: model.OwnedBy})
	}
	return out, nil
}
