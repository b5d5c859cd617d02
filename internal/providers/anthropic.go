package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/tauagent/tau/internal/models"
)

// AnthropicConfig configures the Anthropic Messages API adapter.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string // default https://api.anthropic.com/v1
	APIVersion string // default 2023-06-01
	HTTPClient *http.Client
	Retry      RetryConfig
}

// AnthropicProvider implements Client against the Anthropic Messages API.
// Content-block and cache_control shapes are hand-rolled against the public
// Messages API wire format (github.com/anthropics/anthropic-sdk-go's own
// param types are generic builder structs tied to its own client, not a fit
// for the hand-rolled HTTP transport below; see DESIGN.md); the HTTP
// transport itself is hand-rolled, as with OpenAIProvider, for per-attempt
// header control.
type AnthropicProvider struct {
	cfg AnthropicConfig
}

func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-06-01"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &AnthropicProvider{cfg: cfg}
}

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      any                `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

// anthropicCacheControl marks a content block as a prompt-cache breakpoint
// (cache_control: {"type": "ephemeral"}), per spec.md §4's prompt-cache
// forwarding contract. Anthropic is the only adapter that honors
// ChatRequest.PromptCache directly; OpenAI and Google report it via
// ChatResponse.IgnoredFields instead.
type anthropicCacheControl struct {
	Type string `json:"type"`
}

// anthropicSystemBlock is the system field's array form, used only when a
// cache breakpoint must be attached after it.
type anthropicSystemBlock struct {
	Type         string                  `json:"type"`
	Text         string                  `json:"text"`
	CacheControl *anthropicCacheControl `json:"cache_control,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// convertAnthropicMessages concatenates system messages (two newlines apart)
// into the top-level system field, and rewrites tool-role turns into a
// user-role message whose single content item is a tool_result block keyed
// by tool_use_id, per spec.md §4.1.
func convertAnthropicMessages(msgs []models.Message) (system string, out []anthropicMessage) {
	var systemParts []string
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, m.Text())
		case models.RoleTool:
			out = append(out, anthropicMessage{
				Role: "user",
				Content: []anthropicContentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Text(),
					IsError:   m.IsError,
				}},
			})
		default:
			am := anthropicMessage{Role: string(m.Role)}
			for _, b := range m.Content {
				switch b.Type {
				case models.BlockText:
					am.Content = append(am.Content, anthropicContentBlock{Type: "text", Text: b.Text})
				case models.BlockToolCall:
					am.Content = append(am.Content, anthropicContentBlock{
						Type:  "tool_use",
						ID:    b.ToolCall.ID,
						Name:  b.ToolCall.Name,
						Input: b.ToolCall.Arguments,
					})
				}
			}
			out = append(out, am)
		}
	}
	if len(systemParts) > 0 {
		system = join(systemParts, "\n\n")
	}
	return system, out
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

// systemField builds the request's system field: a plain string normally, or
// a single text block carrying a cache_control breakpoint when the caller
// asked for one via PromptCache.BreakpointAfterSystem.
func systemField(system string, cache *models.PromptCache) any {
	if system == "" {
		return nil
	}
	if cache != nil && cache.Enabled && cache.BreakpointAfterSystem {
		return []anthropicSystemBlock{{
			Type:         "text",
			Text:         system,
			CacheControl: &anthropicCacheControl{Type: "ephemeral"},
		}}
	}
	return system
}

func convertAnthropicTools(tools []models.ToolDefinition) []anthropicTool {
	out := make([]anthropicTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	return out
}

func (p *AnthropicProvider) Complete(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if p.cfg.APIKey == "" {
		return models.ChatResponse{}, MissingAPIKey("anthropic")
	}
	system, messages := convertAnthropicMessages(req.Messages)
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	body := anthropicRequest{
		Model:       req.Model,
		System:      systemField(system, req.PromptCache),
		Messages:    messages,
		Tools:       convertAnthropicTools(req.Tools),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return models.ChatResponse{}, SerdeError("anthropic", err)
	}

	return doWithRetry(ctx, p.cfg.Retry, func(ctx context.Context, attempt Attempt) (models.ChatResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			return models.ChatResponse{}, HTTPError("anthropic", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", p.cfg.APIKey)
		httpReq.Header.Set("anthropic-version", p.cfg.APIVersion)
		attempt.SetHeaders(httpReq)

		resp, err := p.cfg.HTTPClient.Do(httpReq)
		if err != nil {
			return models.ChatResponse{}, HTTPError("anthropic", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return models.ChatResponse{}, HTTPError("anthropic", err)
		}
		if resp.StatusCode != http.StatusOK {
			return models.ChatResponse{}, HTTPStatus("anthropic", resp.StatusCode, string(respBody))
		}

		var parsed anthropicResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return models.ChatResponse{}, SerdeError("anthropic", err)
		}

		var blocks []models.ContentBlock
		for _, cb := range parsed.Content {
			switch cb.Type {
			case "text":
				blocks = append(blocks, models.TextBlock(cb.Text))
			case "tool_use":
				blocks = append(blocks, models.ToolCallBlock(models.ToolCall{
					ID:        cb.ID,
					Name:      cb.Name,
					Arguments: cb.Input,
				}))
			}
		}

		return models.ChatResponse{
			Message:      models.Message{Role: models.RoleAssistant, Content: blocks},
			FinishReason: mapAnthropicStopReason(parsed.StopReason),
			Usage: models.Usage{
				Input:       parsed.Usage.InputTokens,
				Output:      parsed.Usage.OutputTokens,
				Total:       parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
				CachedInput: parsed.Usage.CacheReadInputTokens,
			},
		}, nil
	})
}

func mapAnthropicStopReason(r string) string {
	switch r {
	case "tool_use":
		return models.FinishToolCalls
	case "max_tokens":
		return models.FinishLength
	case "end_turn", "stop_sequence", "":
		return models.FinishStop
	default:
		return r
	}
}
