package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rendis/lessonflow/pkg/schema"
)

// AI defaults.
const (
	DefaultAIProvider     = "openrouter"
	FallbackAIProvider    = "perplexity"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 2000
	DefaultSearchMode     = "smart"
	DefaultSearchLanguage = "en"

	noPreviousContent = "No previous content"
	emptyAIResult     = "No result returned."
)

const aiConfigSchema = `{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "minLength": 1},
    "provider": {"type": "string"},
    "model": {"type": "string"},
    "api_key": {"type": "string"},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "max_tokens": {"type": "integer", "minimum": 1},
    "system_prompt": {"type": "string"},
    "search_mode": {"type": "string"}
  },
  "required": ["prompt"]
}`

// AIConfig is the config of ai-* nodes.
type AIConfig struct {
	Prompt       string   `mapstructure:"prompt" validate:"required"`
	Provider     string   `mapstructure:"provider" validate:"omitempty,max=64"`
	Model        string   `mapstructure:"model"`
	APIKey       string   `mapstructure:"api_key"`
	Temperature  *float64 `mapstructure:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens    *int     `mapstructure:"max_tokens" validate:"omitempty,gt=0"`
	SystemPrompt string   `mapstructure:"system_prompt"`
	SearchMode   string   `mapstructure:"search_mode"`
}

// AIOptions configures the AI handler.
type AIOptions struct {
	DefaultProvider  string
	FallbackProvider string
	Language         string
	Breakers         *CircuitBreakerRegistry
	Logger           *slog.Logger
	// OnFallback is called when a node switches to the search fallback.
	OnFallback func(ctx context.Context, node *schema.Node, provider string, cause error)
}

// AIHandler runs the ai-* node kinds.
type AIHandler struct {
	provider AIProvider
	search   Searcher
	configs  ConfigStore
	opts     AIOptions
	logger   *slog.Logger
}

// NewAIHandler creates the AI handler. configs may be nil when every node
// carries its own api_key.
func NewAIHandler(provider AIProvider, search Searcher, configs ConfigStore, opts AIOptions) *AIHandler {
	if opts.DefaultProvider == "" {
		opts.DefaultProvider = DefaultAIProvider
	}
	if opts.FallbackProvider == "" {
		opts.FallbackProvider = FallbackAIProvider
	}
	if opts.Language == "" {
		opts.Language = DefaultSearchLanguage
	}
	if opts.Breakers == nil {
		opts.Breakers = NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &AIHandler{provider: provider, search: search, configs: configs, opts: opts, logger: logger}
}

func (h *AIHandler) Families() []schema.KindFamily { return []schema.KindFamily{schema.FamilyAI} }

func (h *AIHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Send the node prompt, wrapped for its agent kind, to an AI provider with search fallback.",
		ConfigSchema: json.RawMessage(aiConfigSchema),
	}
}

// Execute builds the prompt, calls the configured provider and falls back to
// search when that provider fails or its circuit is open.
func (h *AIHandler) Execute(ctx context.Context, node *schema.Node, input string) (string, error) {
	var cfg AIConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return "", err
	}

	prompt := BuildPrompt(node.Kind, cfg.Prompt, input)
	providerName := cfg.Provider
	if providerName == "" {
		providerName = h.opts.DefaultProvider
	}

	if providerName == h.opts.FallbackProvider {
		text, err := h.searchFallback(ctx, prompt, cfg, cfg.APIKey)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeProvider, "%s search failed: %s", providerName, err.Error()).
				WithNode(node.ID).WithCause(err)
		}
		return text, nil
	}

	req, err := h.request(ctx, node, providerName, prompt, cfg)
	if err != nil {
		return "", err
	}

	var text string
	primaryErr := h.opts.Breakers.Do(ctx, providerName, func(ctx context.Context) error {
		var err error
		text, err = h.provider.Complete(ctx, req)
		return err
	})
	if primaryErr == nil {
		return orEmptyResult(text), nil
	}
	if ctx.Err() != nil {
		return "", primaryErr
	}

	h.logger.WarnContext(ctx, "ai provider failed, using search fallback",
		"provider", providerName, "fallback", h.opts.FallbackProvider, "error", primaryErr)
	if h.opts.OnFallback != nil {
		h.opts.OnFallback(ctx, node, providerName, primaryErr)
	}

	// The node's api_key belongs to the primary provider, not to search.
	text, err = h.searchFallback(ctx, prompt, cfg, "")
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeProvider,
			"%s failed (%s) and %s fallback failed (%s)",
			providerName, schema.MessageOf(primaryErr), h.opts.FallbackProvider, err.Error()).
			WithNode(node.ID).
			WithCause(err).
			WithDetails(map[string]any{"provider": providerName, "fallback": h.opts.FallbackProvider})
	}
	return text, nil
}

// request resolves credentials and model for a provider call. A key on the
// node wins; otherwise the provider must be configured, enabled and keyed.
func (h *AIHandler) request(ctx context.Context, node *schema.Node, provider, prompt string, cfg AIConfig) (CompletionRequest, error) {
	req := CompletionRequest{
		Provider:     provider,
		Model:        cfg.Model,
		Prompt:       prompt,
		SystemPrompt: cfg.SystemPrompt,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
		APIKey:       cfg.APIKey,
	}
	if cfg.Temperature != nil {
		req.Temperature = *cfg.Temperature
	}
	if cfg.MaxTokens != nil {
		req.MaxTokens = *cfg.MaxTokens
	}

	var pc *schema.ProviderConfig
	if h.configs != nil {
		got, err := h.configs.GetProviderConfig(ctx, provider)
		switch {
		case err == nil:
			pc = got
		case schema.CodeOf(err) != schema.ErrCodeNotFound:
			return req, schema.NewErrorf(schema.ErrCodeStore, "load %s config: %s", provider, err.Error()).
				WithNode(node.ID).WithCause(err)
		}
	}

	if req.APIKey == "" {
		if !pc.Usable() {
			return req, schema.NewErrorf(schema.ErrCodeMissingCredentials,
				"no API key configured for provider %s", provider).WithNode(node.ID)
		}
		req.APIKey = pc.APIKey
	}
	if pc != nil {
		if req.Model == "" {
			req.Model = pc.DefaultModel
		}
		req.BaseURL = pc.BaseURL
	}
	return req, nil
}

func (h *AIHandler) searchFallback(ctx context.Context, prompt string, cfg AIConfig, apiKey string) (string, error) {
	if h.search == nil {
		return "", schema.NewError(schema.ErrCodeProvider, "no search fallback configured")
	}
	mode := cfg.SearchMode
	if mode == "" {
		mode = DefaultSearchMode
	}
	text, err := h.search.Search(ctx, SearchRequest{
		Query: prompt, Mode: mode, Language: h.opts.Language, APIKey: apiKey,
	})
	if err != nil {
		return "", err
	}
	return orEmptyResult(text), nil
}

func orEmptyResult(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyAIResult
	}
	return s
}

// BuildPrompt wraps a node prompt and its aggregated input for an AI kind.
func BuildPrompt(kind schema.NodeKind, prompt, input string) string {
	base := prompt
	if input != "" {
		base += "\n\nPrevious content:\n" + input
	}
	content := input
	if content == "" {
		content = noPreviousContent
	}

	switch kind {
	case schema.KindAIResearch:
		return "Search for: " + base
	case schema.KindAIGenerate:
		return "Create content about: " + base
	case schema.KindAISummarize:
		return "Summarize the following content:\n" + content + "\n\nInstructions: " + prompt
	case schema.KindAIAnalyze:
		return "Analyze the following content:\n" + content + "\n\nInstructions: " + prompt
	case schema.KindAIStudy:
		return "Study the following content:\n" + content +
			"\n\nPlease:\n" +
			"1. Summarize the main points\n" +
			"2. Explain the core concepts\n" +
			"3. Identify the relationships between ideas\n" +
			"4. Suggest questions for reflection\n\n" +
			"Additional instructions: " + prompt
	default:
		return base
	}
}
