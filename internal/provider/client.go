package provider

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"smith/internal/catalog"
	"smith/internal/chat"
	"smith/internal/config"
	"smith/internal/logging"
)

const defaultTemperature = 0.7

// Client owns the wire adapter for one endpoint and routes each request to a
// capable model before it goes out. The wire variant is fixed when the client
// is built; capability routing happens per request.
type Client struct {
	cfg     config.ProviderConfig
	catalog *catalog.Catalog
	adapter wireAdapter

	mu    sync.RWMutex
	model string
}

func NewClient(cfg config.ProviderConfig, cat *catalog.Catalog) *Client {
	adapter := selectAdapter(cfg)
	logging.Debug("provider client ready", "wire", adapter.name(), "base_url", cfg.BaseURL, "model", cfg.Model)
	return &Client{
		cfg:     cfg,
		catalog: cat,
		adapter: adapter,
		model:   cfg.Model,
	}
}

// selectAdapter picks the wire variant once per endpoint. Explicit config
// wins; auto keys off the host since the structured-event wire is what the
// x.ai endpoint serves natively.
func selectAdapter(cfg config.ProviderConfig) wireAdapter {
	switch cfg.Wire {
	case config.WireChat:
		return newChatAdapter(cfg)
	case config.WireResponses:
		return newResponsesAdapter(cfg)
	}
	if parsed, err := url.Parse(cfg.BaseURL); err == nil {
		host := strings.ToLower(parsed.Hostname())
		if host == "x.ai" || strings.HasSuffix(host, ".x.ai") {
			return newResponsesAdapter(cfg)
		}
	}
	return newChatAdapter(cfg)
}

func (c *Client) Name() string { return c.adapter.name() }

func (c *Client) CurrentModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
}

func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return c.adapter.listModels(ctx)
}

func (c *Client) Chat(ctx context.Context, req ChatRequest, cb *StreamCallbacks) (ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.CurrentModel()
	}
	model, searchTools := c.route(model, req.Messages)

	temperature := req.Temperature
	if temperature == nil {
		t := defaultTemperature
		temperature = &t
	}
	wireReq := wireRequest{
		model:       model,
		messages:    req.Messages,
		tools:       req.Tools,
		temperature: temperature,
		maxTokens:   req.MaxTokens,
		searchTools: searchTools,
	}

	delivered := 0
	counted := countingCallbacks(cb, &delivered)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(150*(1<<(attempt-1))) * time.Millisecond
			logging.Debug("retrying provider request", "attempt", attempt, "backoff", backoff, "err", lastErr)
			select {
			case <-ctx.Done():
				return ChatResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := c.adapter.chat(ctx, wireReq, counted)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ChatResponse{}, err
		}
		// Once any chunk reached the caller a replay would duplicate it, so
		// the error surfaces instead.
		if delivered > 0 || !retryable(err) {
			return ChatResponse{}, err
		}
		if attempt >= c.cfg.MaxRetries {
			break
		}
	}
	return ChatResponse{}, fmt.Errorf("provider chat failed after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

// route swaps the model when the request needs a capability the selected one
// lacks. Image input takes precedence over search: a request carrying images
// never reroutes to a text-only search model.
func (c *Client) route(model string, messages []chat.Message) (string, bool) {
	hasImages := false
	for _, msg := range messages {
		if msg.HasImages() {
			hasImages = true
			break
		}
	}

	if hasImages {
		if !c.catalog.Supports(model, catalog.CapabilityImage) {
			routed := c.cfg.ImageModel
			if routed == "" {
				if info := c.catalog.DefaultFor(catalog.CapabilityImage); info != nil {
					routed = info.ID
				}
			}
			if routed != "" && routed != model {
				logging.Debug("routing to image-capable model", "from", model, "to", routed)
				model = routed
			}
		}
		return model, false
	}

	wantSearch := false
	switch c.cfg.SearchMode {
	case config.SearchOn:
		wantSearch = true
	case config.SearchAuto:
		wantSearch = queryWantsSearch(lastUserText(messages))
	}
	if !wantSearch {
		return model, false
	}

	if !c.catalog.Supports(model, catalog.CapabilitySearch) {
		routed := c.cfg.SearchModel
		if routed == "" {
			if info := c.catalog.DefaultFor(catalog.CapabilitySearch); info != nil {
				routed = info.ID
			}
		}
		if routed != "" && routed != model {
			logging.Debug("routing to search-capable model", "from", model, "to", routed)
			model = routed
		}
	}
	// Server-side search tools only attach when the routed model can use
	// them; otherwise the request goes out as a plain completion.
	return model, c.catalog.Supports(model, catalog.CapabilitySearch)
}

func lastUserText(messages []chat.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == chat.RoleUser {
			return messages[i].PlainText()
		}
	}
	return ""
}
