package actions

import (
	"context"
	"time"

	"github.com/rendis/lessonflow/internal/expressions"
	"github.com/rendis/lessonflow/pkg/schema"
)

// CompletionRequest is one prompt sent to an AI vendor.
type CompletionRequest struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model,omitempty"`
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float64 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	APIKey       string  `json:"-"`
	BaseURL      string  `json:"base_url,omitempty"`
}

// AIProvider completes prompts against the vendor named in the request.
type AIProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// SearchRequest is a query for the search-style fallback provider.
type SearchRequest struct {
	Query    string `json:"query"`
	Mode     string `json:"searchType"`
	Language string `json:"language"`
	// APIKey overrides the configured search key.
	APIKey string `json:"-"`
}

// Searcher answers free-text queries. It backs AI nodes whose primary
// provider fails.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (string, error)
}

// Channel is an outbound messaging channel.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelTelegram Channel = "telegram"
	ChannelEmail    Channel = "email"
)

// Message is an outbound message.
type Message struct {
	Channel Channel `json:"channel"`
	To      string  `json:"to"`
	Subject string  `json:"subject,omitempty"`
	Body    string  `json:"body"`
}

// Confirmation is returned by a messenger once a message was accepted.
type Confirmation struct {
	Channel   Channel `json:"channel"`
	To        string  `json:"to"`
	MessageID string  `json:"message_id,omitempty"`
}

// Messenger delivers messages on a channel.
type Messenger interface {
	Send(ctx context.Context, msg Message) (*Confirmation, error)
}

// PDFDocument is the content of an exported PDF.
type PDFDocument struct {
	Title    string
	Content  string
	Filename string
}

// PdfExporter renders documents and returns where the file was written.
type PdfExporter interface {
	Export(ctx context.Context, doc PDFDocument) (string, error)
}

// CalendarEvent is an event to create on a calendar provider.
type CalendarEvent struct {
	Provider    string    `json:"provider"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Attendees   []string  `json:"attendees,omitempty"`
	Reminders   []int     `json:"reminders,omitempty"` // minutes before start
}

// CalendarService creates calendar events and returns the event id.
type CalendarService interface {
	CreateEvent(ctx context.Context, ev CalendarEvent) (string, error)
}

// LessonStore resolves stored lessons. Missing lessons return a NOT_FOUND error.
type LessonStore interface {
	GetLesson(ctx context.Context, id string) (*schema.Lesson, error)
}

// ConfigStore holds provider credentials. Missing entries return a NOT_FOUND error.
type ConfigStore interface {
	GetProviderConfig(ctx context.Context, id string) (*schema.ProviderConfig, error)
	SetProviderConfig(ctx context.Context, cfg *schema.ProviderConfig) error
}

// Capabilities bundles the external services node handlers call.
type Capabilities struct {
	AI       AIProvider
	Search   Searcher
	Messages Messenger
	PDF      PdfExporter
	Calendar CalendarService
	Lessons  LessonStore
	Configs  ConfigStore
}

// NewStandardDispatcher wires every built-in handler over caps.
func NewStandardDispatcher(caps Capabilities, ai AIOptions, renderer *expressions.Renderer) (*Dispatcher, error) {
	if renderer == nil {
		renderer = expressions.NewRenderer(nil)
	}
	return NewDispatcher(
		NewContentHandler(),
		NewAIHandler(caps.AI, caps.Search, caps.Configs, ai),
		NewMessagingHandler(caps.Messages, renderer),
		NewPDFHandler(caps.PDF, renderer),
		NewCalendarHandler(caps.Calendar),
		NewLessonHandler(caps.Lessons),
	)
}
