package anthropic

import (
	"encoding/base64"
	"os"
	"strings"

	gateway "github.com/routellm/gateway/internal/gateway"
)

// messagesRequestBody is the Anthropic Messages API request body.
type messagesRequestBody struct {
	Model       string         `json:"model"`
	MaxTokens   int            `json:"max_tokens"`
	Messages    []anthropicMsg `json:"messages"`
	System      string         `json:"system,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
}

type anthropicMsg struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *imageSource  `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponseBody struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// translateRequest converts a ChatRequest into Anthropic's Messages API
// shape: the system message is hoisted out of the messages array into the
// top-level "system" field, and image attachments become inline base64
// content blocks.
func translateRequest(req *gateway.ChatRequest, model string, maxTokens int, files map[string]*gateway.StoredFile) messagesRequestBody {
	out := messagesRequestBody{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages {
		if m.Role == gateway.RoleSystem {
			if out.System != "" {
				out.System += "\n\n" + m.Content
			} else {
				out.System = m.Content
			}
			continue
		}
		out.Messages = append(out.Messages, translateMessage(m, files))
	}
	return out
}

func translateMessage(m gateway.Message, files map[string]*gateway.StoredFile) anthropicMsg {
	blocks := []contentBlock{{Type: "text", Text: m.Content}}
	for _, a := range m.Attachments {
		f := files[a.FileID]
		if f == nil {
			continue
		}
		data, err := os.ReadFile(f.StoragePath)
		if err != nil {
			continue
		}
		blocks = append(blocks, contentBlock{
			Type:   "image",
			Source: &imageSource{Type: "base64", MediaType: normalizeImageMediaType(f.MimeType), Data: base64.StdEncoding.EncodeToString(data)},
		})
	}
	return anthropicMsg{Role: string(m.Role), Content: blocks}
}

// normalizeImageMediaType maps a stored file's mime type onto the four media
// types Anthropic accepts for image blocks, defaulting to JPEG the way the
// original provider adapter did for anything it didn't recognize.
func normalizeImageMediaType(mime string) string {
	switch strings.ToLower(mime) {
	case "image/png":
		return "image/png"
	case "image/gif":
		return "image/gif"
	case "image/webp":
		return "image/webp"
	case "image/jpeg", "image/jpg":
		return "image/jpeg"
	default:
		return "image/jpeg"
	}
}

func translateResponse(out messagesResponseBody, fallbackModel string, statusCode int) (*gateway.ChatResponse, error) {
	if len(out.Content) == 0 {
		return nil, gateway.NewTransientError(providerName, statusCode, "response contained no content blocks")
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	model := out.Model
	if model == "" {
		model = fallbackModel
	}
	usage := &gateway.Usage{
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
		TotalTokens:      out.Usage.InputTokens + out.Usage.OutputTokens,
	}
	return &gateway.ChatResponse{
		Model:   model,
		Message: gateway.Message{Role: gateway.RoleAssistant, Content: text.String()},
		Usage:   usage,
	}, nil
}
