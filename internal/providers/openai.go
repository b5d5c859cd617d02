package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/tauagent/tau/internal/models"
)

// OpenAIConfig configures an OpenAI-compatible adapter (OpenAI itself, or any
// gateway exposing the chat-completions wire format).
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // default https://api.openai.com/v1
	HTTPClient *http.Client
	Retry      RetryConfig
}

// OpenAIProvider implements Client against the OpenAI-compatible chat
// completions endpoint. Request/response bodies are sashabaranov/go-openai's
// own wire types (openai.ChatCompletionRequest/Response), marshaled and sent
// by hand rather than through the SDK's client so every retry attempt can
// carry its own request-id and retry-attempt headers (the SDK client does
// not expose per-attempt header control).
type OpenAIProvider struct {
	cfg OpenAIConfig
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &OpenAIProvider{cfg: cfg}
}

// convertOpenAIMessages concatenates all system messages (two newlines apart) into
// a single leading system entry, per spec.md §4.1's system-handling contract.
func convertOpenAIMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	var system []string
	var out []openai.ChatCompletionMessage
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			system = append(system, m.Text())
			continue
		}
		if m.Role == models.RoleTool {
			content := m.Text()
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: m.ToolCallID,
			})
			continue
		}
		om := openai.ChatCompletionMessage{Role: string(m.Role)}
		om.Content = m.Text()
		for _, tc := range m.ToolCalls() {
			otc := openai.ToolCall{ID: tc.ID, Type: openai.ToolTypeFunction}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(tc.Arguments)
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	if len(system) > 0 {
		out = append([]openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: strings.Join(system, "\n\n")}}, out...)
	}
	return out
}

func convertOpenAITools(tools []models.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}

func (p *OpenAIProvider) Complete(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if p.cfg.APIKey == "" {
		return models.ChatResponse{}, MissingAPIKey("openai")
	}
	body := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertOpenAIMessages(req.Messages),
		Tools:       convertOpenAITools(req.Tools),
		ToolChoice:  nonEmptyToolChoice(req.ToolChoice),
		MaxTokens:   req.MaxTokens,
	}
	if req.Temperature != nil {
		body.Temperature = float32(*req.Temperature)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return models.ChatResponse{}, SerdeError("openai", err)
	}

	return doWithRetry(ctx, p.cfg.Retry, func(ctx context.Context, attempt Attempt) (models.ChatResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return models.ChatResponse{}, HTTPError("openai", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		attempt.SetHeaders(httpReq)

		resp, err := p.cfg.HTTPClient.Do(httpReq)
		if err != nil {
			return models.ChatResponse{}, HTTPError("openai", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return models.ChatResponse{}, HTTPError("openai", err)
		}
		if resp.StatusCode != http.StatusOK {
			return models.ChatResponse{}, HTTPStatus("openai", resp.StatusCode, string(respBody))
		}

		var parsed openai.ChatCompletionResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return models.ChatResponse{}, SerdeError("openai", err)
		}
		if len(parsed.Choices) == 0 {
			return models.ChatResponse{}, InvalidResponse("openai", "no choices in response")
		}
		choice := parsed.Choices[0]

		var blocks []models.ContentBlock
		if choice.Message.Content != "" {
			blocks = append(blocks, models.TextBlock(choice.Message.Content))
		}
		for _, tc := range choice.Message.ToolCalls {
			blocks = append(blocks, models.ToolCallBlock(models.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			}))
		}

		result := models.ChatResponse{
			Message:      models.Message{Role: models.RoleAssistant, Content: blocks},
			FinishReason: mapOpenAIFinishReason(string(choice.FinishReason)),
			Usage: models.Usage{
				Input:  parsed.Usage.PromptTokens,
				Output: parsed.Usage.CompletionTokens,
				Total:  parsed.Usage.TotalTokens,
			},
		}
		if req.PromptCache != nil {
			result.IgnoredFields = append(result.IgnoredFields, "prompt_cache")
		}
		return result, nil
	})
}

func mapOpenAIFinishReason(r string) string {
	switch r {
	case "tool_calls":
		return models.FinishToolCalls
	case "length":
		return models.FinishLength
	case "stop", "":
		return models.FinishStop
	default:
		return r
	}
}

// nonEmptyToolChoice returns nil for an unset tool choice so
// ChatCompletionRequest.ToolChoice (typed any) is omitted from the marshaled
// request rather than encoded as an empty string.
func nonEmptyToolChoice(choice string) any {
	if choice == "" {
		return nil
	}
	return choice
}
