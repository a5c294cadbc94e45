package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/lessonflow/pkg/schema"
)

type stubHandler struct {
	families []schema.KindFamily
	reply    string
}

func (s *stubHandler) Families() []schema.KindFamily { return s.families }
func (s *stubHandler) Schema() HandlerSchema         { return HandlerSchema{Description: s.reply} }
func (s *stubHandler) Execute(_ context.Context, _ *schema.Node, input string) (string, error) {
	return s.reply + ":" + input, nil
}

func standardDispatcher(t *testing.T, caps Capabilities) *Dispatcher {
	t.Helper()
	if caps.AI == nil {
		caps.AI = &fakeAI{reply: "ai"}
	}
	if caps.Search == nil {
		caps.Search = &fakeSearch{reply: "search"}
	}
	if caps.Messages == nil {
		caps.Messages = &fakeMessenger{}
	}
	if caps.PDF == nil {
		caps.PDF = &fakePDF{}
	}
	if caps.Calendar == nil {
		caps.Calendar = &fakeCalendar{}
	}
	if caps.Lessons == nil {
		caps.Lessons = fakeLessons{"l1": {ID: "l1", Content: "lesson body"}}
	}
	if caps.Configs == nil {
		caps.Configs = newFakeConfigs()
	}
	d, err := NewStandardDispatcher(caps, AIOptions{}, nil)
	require.NoError(t, err)
	return d
}

func TestDispatcher_CoversEveryKind(t *testing.T) {
	d := standardDispatcher(t, Capabilities{})
	assert.Empty(t, d.Missing())
	for _, k := range schema.Kinds() {
		h, err := d.Handler(k)
		if k == schema.KindEnd {
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
			continue
		}
		require.NoError(t, err, k)
		assert.Contains(t, h.Families(), k.Family())
	}
}

func TestDispatcher_RejectsIncompleteRegistration(t *testing.T) {
	_, err := NewDispatcher(NewContentHandler())
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
	fe := err.(*schema.FlowError)
	assert.Contains(t, fe.Details["missing"], schema.FamilyAI)
}

func TestDispatcher_Register(t *testing.T) {
	d := &Dispatcher{handlers: make(map[schema.KindFamily]Handler)}

	require.NoError(t, d.Register(&stubHandler{families: []schema.KindFamily{schema.FamilyAI}}))

	err := d.Register(&stubHandler{families: []schema.KindFamily{schema.FamilyPDF, schema.FamilyAI}})
	assert.Equal(t, schema.ErrCodeConflict, schema.CodeOf(err))
	_, err = d.Handler(schema.KindPDFExport)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err), "a conflicting handler registers nothing")

	err = d.Register(&stubHandler{families: []schema.KindFamily{schema.FamilyEnd}})
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	assert.Error(t, d.Register(nil))
	assert.Error(t, d.Register(&stubHandler{}))
}

func TestDispatcher_Execute(t *testing.T) {
	d := &Dispatcher{handlers: make(map[schema.KindFamily]Handler)}
	require.NoError(t, d.Register(&stubHandler{families: []schema.KindFamily{schema.FamilyContent}, reply: "content"}))

	out, err := d.Execute(context.Background(), &schema.Node{ID: "n", Kind: schema.KindQuiz}, "in")
	require.NoError(t, err)
	assert.Equal(t, "content:in", out)

	_, err = d.Execute(context.Background(), &schema.Node{ID: "e", Kind: schema.KindEnd}, "")
	require.Error(t, err)
	assert.Equal(t, "e", err.(*schema.FlowError).NodeID)

	_, err = d.Execute(context.Background(), &schema.Node{ID: "x", Kind: "hologram"}, "")
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	_, err = d.Execute(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestDispatcher_List(t *testing.T) {
	d := standardDispatcher(t, Capabilities{})
	infos := d.List()
	require.Len(t, infos, len(schema.Families())-1)
	for i := 1; i < len(infos); i++ {
		assert.Less(t, infos[i-1].Family, infos[i].Family)
	}
	for _, info := range infos {
		assert.NotEmpty(t, info.Kinds, info.Family)
		assert.NotEmpty(t, info.Description, info.Family)
	}
	assert.NotEmpty(t, d.ConfigSchema(schema.KindAIStudy))
	assert.Nil(t, d.ConfigSchema(schema.KindEnd))
}
