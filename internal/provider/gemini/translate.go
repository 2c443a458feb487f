package gemini

import (
	"strings"

	gateway "github.com/routellm/gateway/internal/gateway"
)

type generateContentRequest struct {
	Contents          []content          `json:"contents"`
	SystemInstruction *content           `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig  `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// translateRequest converts a ChatRequest into Gemini's generateContent
// shape: system messages hoist into systemInstruction and assistant turns
// map to the "model" role, since Gemini has no "assistant"/"system" roles.
func translateRequest(req *gateway.ChatRequest, maxTokens int) generateContentRequest {
	out := generateContentRequest{
		GenerationConfig: &generationConfig{Temperature: req.Temperature, MaxOutputTokens: &maxTokens},
	}
	for _, m := range req.Messages {
		if m.Role == gateway.RoleSystem {
			out.SystemInstruction = &content{Parts: []part{{Text: m.Content}}}
			continue
		}
		role := "user"
		if m.Role == gateway.RoleAssistant {
			role = "model"
		}
		out.Contents = append(out.Contents, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	return out
}

func translateResponse(out generateContentResponse, model string) *gateway.ChatResponse {
	var text strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			text.WriteString(p.Text)
		}
	}
	return &gateway.ChatResponse{
		Model:   model,
		Message: gateway.Message{Role: gateway.RoleAssistant, Content: text.String()},
		Usage: &gateway.Usage{
			PromptTokens:     out.UsageMetadata.PromptTokenCount,
			CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      out.UsageMetadata.TotalTokenCount,
		},
	}
}
