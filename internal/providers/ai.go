package providers

import (
	"context"
	"strings"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/pkg/schema"
)

// Request styles.
const (
	styleChat      = "chat"
	styleAnthropic = "anthropic"
)

// Preset describes one AI vendor endpoint.
type Preset struct {
	URL          string
	Style        string
	AuthHeader   string // empty means "Authorization: Bearer <key>"
	Headers      map[string]string
	ResultQuery  string
	DefaultModel string
}

// DefaultPresets returns the built-in vendor presets.
func DefaultPresets() map[string]Preset {
	chat := `.choices[0].message.content`
	return map[string]Preset{
		"openrouter": {
			URL:          "https://openrouter.ai/api/v1/chat/completions",
			Style:        styleChat,
			Headers:      map[string]string{"X-Title": "Lessonflow"},
			ResultQuery:  chat,
			DefaultModel: "openai/gpt-4o-mini",
		},
		"openai": {
			URL:          "https://api.openai.com/v1/chat/completions",
			Style:        styleChat,
			ResultQuery:  chat,
			DefaultModel: "gpt-4o-mini",
		},
		"groq": {
			URL:          "https://api.groq.com/openai/v1/chat/completions",
			Style:        styleChat,
			ResultQuery:  chat,
			DefaultModel: "llama-3.3-70b-versatile",
		},
		"anthropic": {
			URL:          "https://api.anthropic.com/v1/messages",
			Style:        styleAnthropic,
			AuthHeader:   "x-api-key",
			Headers:      map[string]string{"anthropic-version": "2023-06-01"},
			ResultQuery:  `.content[0].text`,
			DefaultModel: "claude-3-5-sonnet-20241022",
		},
		"custom": {
			Style:       styleChat,
			ResultQuery: chat,
		},
	}
}

// AIRouter completes prompts against the vendor named in each request.
type AIRouter struct {
	presets map[string]Preset
	client  *client
}

// NewAIRouter creates a router over presets; nil presets use DefaultPresets.
func NewAIRouter(presets map[string]Preset, doer HTTPDoer) *AIRouter {
	if presets == nil {
		presets = DefaultPresets()
	}
	return &AIRouter{presets: presets, client: newClient(doer)}
}

var _ actions.AIProvider = (*AIRouter)(nil)

// Complete implements actions.AIProvider.
func (r *AIRouter) Complete(ctx context.Context, req actions.CompletionRequest) (string, error) {
	p, ok := r.presets[req.Provider]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeProvider, "unsupported AI provider %q", req.Provider)
	}
	url := p.URL
	if req.BaseURL != "" {
		url = chatURL(req.BaseURL, p.Style)
	}
	if url == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "provider %s needs a base_url", req.Provider)
	}
	model := req.Model
	if model == "" {
		model = p.DefaultModel
	}
	if model == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "provider %s needs a model", req.Provider)
	}

	headers := make(map[string]string, len(p.Headers)+1)
	for k, v := range p.Headers {
		headers[k] = v
	}
	if p.AuthHeader != "" {
		headers[p.AuthHeader] = req.APIKey
	} else {
		headers["Authorization"] = "Bearer " + req.APIKey
	}

	decoded, err := r.client.postJSON(ctx, req.Provider, url, headers, requestBody(p.Style, model, req))
	if err != nil {
		return "", err
	}
	return r.client.extract(ctx, req.Provider, p.ResultQuery, decoded)
}

func requestBody(style, model string, req actions.CompletionRequest) map[string]any {
	user := map[string]any{"role": "user", "content": req.Prompt}
	if style == styleAnthropic {
		return map[string]any{
			"model":       model,
			"max_tokens":  req.MaxTokens,
			"temperature": req.Temperature,
			"system":      req.SystemPrompt,
			"messages":    []any{user},
		}
	}
	messages := make([]any, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, user)
	return map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": req.Temperature,
		"max_tokens":  req.MaxTokens,
	}
}

// chatURL accepts either a full endpoint or an API root such as
// "http://localhost:11434/v1".
func chatURL(base, style string) string {
	base = strings.TrimRight(base, "/")
	suffix := "/chat/completions"
	if style == styleAnthropic {
		suffix = "/messages"
	}
	if strings.HasSuffix(base, suffix) {
		return base
	}
	return base + suffix
}
