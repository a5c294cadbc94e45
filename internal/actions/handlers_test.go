package actions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/lessonflow/pkg/schema"
)

func TestMessagingHandler_SendsAggregatedInput(t *testing.T) {
	m := &fakeMessenger{}
	h := NewMessagingHandler(m, nil)
	input := "[A]:\nfirst\n\n---\n\n[B]:\nsecond"

	out, err := h.Execute(context.Background(), &schema.Node{
		ID: "wa", Kind: schema.KindWhatsApp, Config: map[string]any{"to": "+15550001"},
	}, input)
	require.NoError(t, err)
	assert.Equal(t, "WhatsApp message sent to +15550001", out)
	require.Len(t, m.sent, 1)
	assert.Equal(t, input, m.sent[0].Body)
	assert.Equal(t, ChannelWhatsApp, m.sent[0].Channel)
}

func TestMessagingHandler_TemplatedMessage(t *testing.T) {
	m := &fakeMessenger{}
	h := NewMessagingHandler(m, nil)

	out, err := h.Execute(context.Background(), &schema.Node{
		ID: "tg", Kind: schema.KindTelegram, Label: "Daily",
		Config: map[string]any{"to": "42", "message": "{{ label }}: {{ input }}"},
	}, "read chapter 3")
	require.NoError(t, err)
	assert.Equal(t, "Telegram message sent to 42", out)
	assert.Equal(t, "Daily: read chapter 3", m.sent[0].Body)
}

func TestMessagingHandler_LiteralBraces(t *testing.T) {
	m := &fakeMessenger{}
	h := NewMessagingHandler(m, nil)

	_, err := h.Execute(context.Background(), &schema.Node{
		ID: "tg", Kind: schema.KindTelegram, Label: "Sets",
		Config: map[string]any{"to": "42", "message": "{{ label }}: write A = {{1, 2} as a set"},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "Sets: write A = {{1, 2} as a set", m.sent[0].Body)
}

func TestMessagingHandler_Email(t *testing.T) {
	m := &fakeMessenger{}
	h := NewMessagingHandler(m, nil)

	_, err := h.Execute(context.Background(), &schema.Node{
		ID: "em", Kind: schema.KindEmail, Config: map[string]any{"to": "not-an-address"},
	}, "body")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	out, err := h.Execute(context.Background(), &schema.Node{
		ID: "em", Kind: schema.KindEmail, Label: "Notes", Config: map[string]any{"to": "ana@example.com"},
	}, "body")
	require.NoError(t, err)
	assert.Equal(t, "Email message sent to ana@example.com", out)
	assert.Equal(t, "Notes", m.sent[0].Subject)
}

func TestMessagingHandler_Errors(t *testing.T) {
	h := NewMessagingHandler(&fakeMessenger{}, nil)

	_, err := h.Execute(context.Background(), &schema.Node{ID: "wa", Kind: schema.KindWhatsApp}, "x")
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "to is required")

	_, err = h.Execute(context.Background(), &schema.Node{
		ID: "wa", Kind: schema.KindWhatsApp, Config: map[string]any{"to": "1"},
	}, "  ")
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	failing := NewMessagingHandler(&fakeMessenger{err: schema.NewError(schema.ErrCodeMissingCredentials, "no token")}, nil)
	_, err = failing.Execute(context.Background(), &schema.Node{
		ID: "wa", Kind: schema.KindWhatsApp, Config: map[string]any{"to": "1"},
	}, "x")
	assert.Equal(t, schema.ErrCodeMissingCredentials, schema.CodeOf(err))
}

func TestPDFHandler(t *testing.T) {
	pdf := &fakePDF{}
	h := NewPDFHandler(pdf, nil)

	out, err := h.Execute(context.Background(), &schema.Node{
		ID: "pdf", Kind: schema.KindPDFExport, Label: "Cell Biology Notes",
	}, "content")
	require.NoError(t, err)
	assert.Equal(t, "PDF exported: /exports/Cell-Biology-Notes.pdf", out)
	assert.Equal(t, "Cell Biology Notes", pdf.docs[0].Title)
	assert.Equal(t, "content", pdf.docs[0].Content)

	_, err = h.Execute(context.Background(), &schema.Node{
		ID: "pdf", Kind: schema.KindPDFExport, Config: map[string]any{"title": "Week {{ 1 + 1 }}"},
	}, "c")
	require.NoError(t, err)
	assert.Equal(t, "Week 2", pdf.docs[1].Title)
	assert.Equal(t, "Week-2.pdf", pdf.docs[1].Filename)

	_, err = h.Execute(context.Background(), &schema.Node{ID: "pdf", Kind: schema.KindPDFExport}, "")
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestPDFFilename(t *testing.T) {
	assert.Equal(t, "lesson.pdf", PDFFilename("lesson"))
	assert.Equal(t, "a-b.pdf", PDFFilename("  a   b "))
	assert.Equal(t, "x-y.PDF", PDFFilename("x/y.PDF"))
}

func TestCalendarHandler(t *testing.T) {
	cal := &fakeCalendar{}
	h := NewCalendarHandler(cal)
	now := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
	h.now = func() time.Time { return now }

	out, err := h.Execute(context.Background(), &schema.Node{
		ID: "cal", Kind: schema.KindCalendar, Label: "Review", Description: "fallback",
	}, "study notes")
	require.NoError(t, err)
	assert.Equal(t, "Calendar event created: evt-1", out)
	ev := cal.events[0]
	assert.Equal(t, "ical", ev.Provider)
	assert.Equal(t, "Review", ev.Title)
	assert.Equal(t, "study notes", ev.Description)
	assert.True(t, ev.Start.Equal(time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)), ev.Start)
	assert.Equal(t, time.Hour, ev.End.Sub(ev.Start))

	_, err = h.Execute(context.Background(), &schema.Node{
		ID: "cal", Kind: schema.KindCalendar, Description: "fallback",
		Config: map[string]any{
			"provider": "google", "start": "2026-04-02T15:00:00Z", "duration_minutes": 30,
			"attendees": []any{"a@example.com"},
		},
	}, "")
	require.NoError(t, err)
	ev = cal.events[1]
	assert.Equal(t, "google", ev.Provider)
	assert.Equal(t, "fallback", ev.Description)
	assert.Equal(t, 30*time.Minute, ev.End.Sub(ev.Start))
	assert.Equal(t, []string{"a@example.com"}, ev.Attendees)
}

func TestCalendarHandler_InvalidConfig(t *testing.T) {
	h := NewCalendarHandler(&fakeCalendar{})
	for name, cfg := range map[string]map[string]any{
		"provider":  {"provider": "yahoo"},
		"start":     {"start": "tomorrow"},
		"attendees": {"attendees": []any{"nobody"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := h.Execute(context.Background(), &schema.Node{ID: "cal", Kind: schema.KindCalendar, Config: cfg}, "")
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
		})
	}
}

func TestLessonHandler(t *testing.T) {
	h := NewLessonHandler(fakeLessons{
		"l1": {ID: "l1", Title: "Cells", Content: "Cells are units of life."},
		"l2": {ID: "l2", Title: "Atoms", Summary: "Tiny."},
	})
	node := func(id string) *schema.Node {
		return &schema.Node{ID: "ref", Kind: schema.KindLessonReference, Config: map[string]any{"lesson_id": id}}
	}

	out, err := h.Execute(context.Background(), node("l1"), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "Cells are units of life.", out)

	out, err = h.Execute(context.Background(), node("l2"), "")
	require.NoError(t, err)
	assert.Equal(t, "Tiny.", out)

	_, err = h.Execute(context.Background(), node("missing"), "")
	assert.Equal(t, schema.ErrCodeUnresolvedReference, schema.CodeOf(err))
}

func TestContentHandler(t *testing.T) {
	h := NewContentHandler()
	ctx := context.Background()

	out, _ := h.Execute(ctx, &schema.Node{ID: "n", Kind: schema.KindNotes, Content: "c", Description: "d"}, "in")
	assert.Equal(t, "c", out)
	out, _ = h.Execute(ctx, &schema.Node{ID: "n", Kind: schema.KindNotes, Description: "d"}, "in")
	assert.Equal(t, "d", out)
	out, _ = h.Execute(ctx, &schema.Node{ID: "n", Kind: schema.KindStart, Label: "Begin"}, "")
	assert.Equal(t, "Executed: Begin", out)
	out, _ = h.Execute(ctx, &schema.Node{ID: "n", Kind: schema.KindTopic}, "")
	assert.Equal(t, "Executed: n", out)
}

// Same node, same input and deterministic capabilities give the same result.
func TestHandlers_Deterministic(t *testing.T) {
	d := standardDispatcher(t, Capabilities{})
	nodes := []*schema.Node{
		{ID: "s", Kind: schema.KindStart, Content: "hello"},
		{ID: "a", Kind: schema.KindAISummarize, Config: map[string]any{"prompt": "p", "api_key": "k"}},
		{ID: "w", Kind: schema.KindWhatsApp, Config: map[string]any{"to": "1", "message": "{{ input }}!"}},
		{ID: "l", Kind: schema.KindLessonReference, Config: map[string]any{"lesson_id": "l1"}},
	}
	for _, n := range nodes {
		first, err := d.Execute(context.Background(), n, "same input")
		require.NoError(t, err, n.ID)
		second, err := d.Execute(context.Background(), n, "same input")
		require.NoError(t, err, n.ID)
		assert.Equal(t, first, second, n.ID)
	}
}
