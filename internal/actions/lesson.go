package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/lessonflow/pkg/schema"
)

const lessonConfigSchema = `{
  "type": "object",
  "properties": {"lesson_id": {"type": "string", "minLength": 1}},
  "required": ["lesson_id"]
}`

// LessonConfig is the config of lesson-reference nodes.
type LessonConfig struct {
	LessonID string `mapstructure:"lesson_id" validate:"required"`
}

// LessonHandler injects a stored lesson's content. Its input is ignored.
type LessonHandler struct {
	store LessonStore
}

// NewLessonHandler creates the lesson-reference handler.
func NewLessonHandler(s LessonStore) *LessonHandler {
	return &LessonHandler{store: s}
}

func (h *LessonHandler) Families() []schema.KindFamily {
	return []schema.KindFamily{schema.FamilyLesson}
}

func (h *LessonHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Emit the content of a stored lesson.",
		ConfigSchema: json.RawMessage(lessonConfigSchema),
	}
}

func (h *LessonHandler) Execute(ctx context.Context, node *schema.Node, _ string) (string, error) {
	var cfg LessonConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return "", err
	}
	lesson, err := h.store.GetLesson(ctx, cfg.LessonID)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			return "", schema.NewErrorf(schema.ErrCodeUnresolvedReference, "lesson %s not found", cfg.LessonID).
				WithNode(node.ID).WithCause(err)
		}
		return "", err
	}
	if lesson.Content != "" {
		return lesson.Content, nil
	}
	if lesson.Summary != "" {
		return lesson.Summary, nil
	}
	return lesson.Title, nil
}
