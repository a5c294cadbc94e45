package actions

import (
	"context"
	"sync"

	"github.com/rendis/lessonflow/pkg/schema"
)

type fakeAI struct {
	mu    sync.Mutex
	reqs  []CompletionRequest
	reply string
	err   error
}

func (f *fakeAI) Complete(_ context.Context, req CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

func (f *fakeAI) calls() []CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]CompletionRequest(nil), f.reqs...)
}

type fakeSearch struct {
	mu    sync.Mutex
	reqs  []SearchRequest
	reply string
	err   error
}

func (f *fakeSearch) Search(_ context.Context, req SearchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.reply, f.err
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeMessenger) Send(_ context.Context, msg Message) (*Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, msg)
	return &Confirmation{Channel: msg.Channel, To: msg.To, MessageID: "m-1"}, nil
}

type fakePDF struct {
	docs []PDFDocument
}

func (f *fakePDF) Export(_ context.Context, doc PDFDocument) (string, error) {
	f.docs = append(f.docs, doc)
	return "/exports/" + doc.Filename, nil
}

type fakeCalendar struct {
	events []CalendarEvent
}

func (f *fakeCalendar) CreateEvent(_ context.Context, ev CalendarEvent) (string, error) {
	f.events = append(f.events, ev)
	return "evt-1", nil
}

type fakeLessons map[string]*schema.Lesson

func (f fakeLessons) GetLesson(_ context.Context, id string) (*schema.Lesson, error) {
	l, ok := f[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "lesson %s not found", id)
	}
	return l, nil
}

type fakeConfigs struct {
	mu   sync.Mutex
	cfgs map[string]*schema.ProviderConfig
	err  error
}

func newFakeConfigs(cfgs ...*schema.ProviderConfig) *fakeConfigs {
	f := &fakeConfigs{cfgs: make(map[string]*schema.ProviderConfig)}
	for _, c := range cfgs {
		f.cfgs[c.ID] = c
	}
	return f
}

func (f *fakeConfigs) GetProviderConfig(_ context.Context, id string) (*schema.ProviderConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.cfgs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "provider %s not configured", id)
	}
	return c, nil
}

func (f *fakeConfigs) SetProviderConfig(_ context.Context, cfg *schema.ProviderConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfgs[cfg.ID] = cfg
	return nil
}

func aiNode(kind schema.NodeKind, cfg map[string]any) *schema.Node {
	return &schema.Node{ID: "ai", Kind: kind, Label: "AI", Config: cfg}
}
