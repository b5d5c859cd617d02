package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/tauagent/tau/internal/models"
)

// GoogleConfig configures the Google GenerateContent API adapter.
type GoogleConfig struct {
	APIKey     string
	BaseURL    string // default https://generativelanguage.googleapis.com/v1beta
	HTTPClient *http.Client
	Retry      RetryConfig
}

// GoogleProvider implements Client against Google's generateContent REST
// endpoint. Struct shapes are hand-rolled against the public REST schema
// (google.golang.org/genai's types are tied to its own genai.Client and
// don't fit the hand-rolled transport below; see DESIGN.md); transport is
// hand-rolled for per-attempt header control, as with the other adapters.
type GoogleProvider struct {
	cfg GoogleConfig
}

func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	return &GoogleProvider{cfg: cfg}
}

type googleFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type googleFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type googlePart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *googleFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *googleFunctionResponse `json:"functionResponse,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googleSystemInstruction struct {
	Parts []googlePart `json:"parts"`
}

type googleFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type googleTool struct {
	FunctionDeclarations []googleFunctionDeclaration `json:"functionDeclarations"`
}

type googleRequest struct {
	Contents          []googleContent           `json:"contents"`
	SystemInstruction *googleSystemInstruction  `json:"systemInstruction,omitempty"`
	Tools             []googleTool              `json:"tools,omitempty"`
	GenerationConfig  *googleGenerationConfig   `json:"generationConfig,omitempty"`
}

type googleGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
}

type googleResponse struct {
	Candidates []struct {
		Content      googleContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
		CachedContentTokenCount int `json:"cachedContentTokenCount"`
	} `json:"usageMetadata"`
}

// convertGoogleMessages concatenates system messages into systemInstruction
// parts and maps tool-role turns to a user-role functionResponse part, per
// spec.md §4.1.
func convertGoogleMessages(msgs []models.Message) (sys *googleSystemInstruction, out []googleContent) {
	var systemParts []googlePart
	for _, m := range msgs {
		switch m.Role {
		case models.RoleSystem:
			systemParts = append(systemParts, googlePart{Text: m.Text()})
		case models.RoleTool:
			out = append(out, googleContent{
				Role: "user",
				Parts: []googlePart{{
					FunctionResponse: &googleFunctionResponse{
						Name:     m.ToolName,
						Response: json.RawMessage(fmt.Sprintf(`{"content":%q}`, m.Text())),
					},
				}},
			})
		default:
			role := "user"
			if m.Role == models.RoleAssistant {
				role = "model"
			}
			gc := googleContent{Role: role}
			for _, b := range m.Content {
				switch b.Type {
				case models.BlockText:
					gc.Parts = append(gc.Parts, googlePart{Text: b.Text})
				case models.BlockToolCall:
					gc.Parts = append(gc.Parts, googlePart{
						FunctionCall: &googleFunctionCall{Name: b.ToolCall.Name, Args: b.ToolCall.Arguments},
					})
				}
			}
			out = append(out, gc)
		}
	}
	if len(systemParts) > 0 {
		sys = &googleSystemInstruction{Parts: systemParts}
	}
	return sys, out
}

func convertGoogleTools(tools []models.ToolDefinition) []googleTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]googleFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, googleFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	return []googleTool{{FunctionDeclarations: decls}}
}

func (p *GoogleProvider) Complete(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if p.cfg.APIKey == "" {
		return models.ChatResponse{}, MissingAPIKey("google")
	}
	sys, contents := convertGoogleMessages(req.Messages)
	body := googleRequest{
		Contents:          contents,
		SystemInstruction: sys,
		Tools:             convertGoogleTools(req.Tools),
	}
	if req.MaxTokens != 0 || req.Temperature != nil {
		body.GenerationConfig = &googleGenerationConfig{MaxOutputTokens: req.MaxTokens, Temperature: req.Temperature}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return models.ChatResponse{}, SerdeError("google", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.cfg.BaseURL, req.Model, p.cfg.APIKey)

	return doWithRetry(ctx, p.cfg.Retry, func(ctx context.Context, attempt Attempt) (models.ChatResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return models.ChatResponse{}, HTTPError("google", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		attempt.SetHeaders(httpReq)

		resp, err := p.cfg.HTTPClient.Do(httpReq)
		if err != nil {
			return models.ChatResponse{}, HTTPError("google", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return models.ChatResponse{}, HTTPError("google", err)
		}
		if resp.StatusCode != http.StatusOK {
			return models.ChatResponse{}, HTTPStatus("google", resp.StatusCode, string(respBody))
		}

		var parsed googleResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return models.ChatResponse{}, SerdeError("google", err)
		}
		if len(parsed.Candidates) == 0 {
			return models.ChatResponse{}, InvalidResponse("google", "no candidates in response")
		}
		cand := parsed.Candidates[0]

		var blocks []models.ContentBlock
		for _, part := range cand.Content.Parts {
			if part.FunctionCall != nil {
				blocks = append(blocks, models.ToolCallBlock(models.ToolCall{
					ID:        "call_" + uuid.NewString(),
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				}))
				continue
			}
			if part.Text != "" {
				blocks = append(blocks, models.TextBlock(part.Text))
			}
		}

		result := models.ChatResponse{
			Message:      models.Message{Role: models.RoleAssistant, Content: blocks},
			FinishReason: mapGoogleFinishReason(cand.FinishReason),
			Usage: models.Usage{
				Input:       parsed.UsageMetadata.PromptTokenCount,
				Output:      parsed.UsageMetadata.CandidatesTokenCount,
				Total:       parsed.UsageMetadata.TotalTokenCount,
				CachedInput: parsed.UsageMetadata.CachedContentTokenCount,
			},
		}
		if req.PromptCache != nil {
			result.IgnoredFields = append(result.IgnoredFields, "prompt_cache")
		}
		return result, nil
	})
}

func mapGoogleFinishReason(r string) string {
	switch r {
	case "MAX_TOKENS":
		return models.FinishLength
	case "STOP", "":
		return models.FinishStop
	default:
		return r
	}
}
