package providers

import (
	"context"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/pkg/schema"
)

// DefaultSearchURL is the Perplexity chat endpoint.
const DefaultSearchURL = "https://api.perplexity.ai/chat/completions"

// SearchConfigID is the ConfigStore entry holding the search key.
const SearchConfigID = "perplexity"

var searchPrompts = map[string]string{
	"general": "You are an intelligent search assistant. Provide comprehensive and accurate answers. Use reliable sources and organize the response clearly with subheadings when needed.",
	"news":    "You are an intelligent news assistant. Present the latest news and updates in an organized manner. Focus on recent and important news with source citations.",
	"lesson":  "You are an intelligent educational assistant for students. Provide clear and detailed explanations. Use practical examples and organize information with subheadings. Focus on deep understanding of the topic.",
	"smart":   "You are an advanced intelligent assistant. Provide comprehensive and professionally organized answers. Use tables, lists, and structured formatting. When explaining educational topics, provide comparison tables and practical examples. Be precise and comprehensive in your answers.",
}

// SearchOptions configures the search client.
type SearchOptions struct {
	URL     string
	APIKey  string
	Model   string
	Configs actions.ConfigStore // consulted when APIKey is empty
}

// Search answers queries with an online search model.
type Search struct {
	opts   SearchOptions
	client *client
}

// NewSearch creates the search client.
func NewSearch(opts SearchOptions, doer HTTPDoer) *Search {
	if opts.URL == "" {
		opts.URL = DefaultSearchURL
	}
	if opts.Model == "" {
		opts.Model = "sonar"
	}
	return &Search{opts: opts, client: newClient(doer)}
}

var _ actions.Searcher = (*Search)(nil)

// Search implements actions.Searcher.
func (s *Search) Search(ctx context.Context, req actions.SearchRequest) (string, error) {
	key, err := s.key(ctx, req.APIKey)
	if err != nil {
		return "", err
	}

	system, ok := searchPrompts[req.Mode]
	if !ok {
		system = searchPrompts["general"]
	}
	if req.Language != "" && req.Language != "en" {
		system += " Answer in the language with code " + req.Language + "."
	}
	body := map[string]any{
		"model": s.opts.Model,
		"messages": []any{
			map[string]any{"role": "system", "content": system},
			map[string]any{"role": "user", "content": req.Query},
		},
	}
	if req.Mode == "news" {
		body["search_recency_filter"] = "day"
	}

	decoded, err := s.client.postJSON(ctx, "search", s.opts.URL, bearer(key), body)
	if err != nil {
		return "", err
	}
	return s.client.extract(ctx, "search", `.choices[0].message.content`, decoded)
}

// key prefers the request's own key, then the configured one, then the store.
func (s *Search) key(ctx context.Context, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if s.opts.APIKey != "" {
		return s.opts.APIKey, nil
	}
	if s.opts.Configs != nil {
		cfg, err := s.opts.Configs.GetProviderConfig(ctx, SearchConfigID)
		if err != nil && schema.CodeOf(err) != schema.ErrCodeNotFound {
			return "", err
		}
		if cfg.Usable() {
			return cfg.APIKey, nil
		}
	}
	return "", schema.NewError(schema.ErrCodeMissingCredentials, "search provider is not configured")
}
