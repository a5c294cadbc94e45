package actions

import (
	"context"

	"github.com/rendis/lessonflow/pkg/schema"
)

// ContentHandler serves start nodes and every passive content kind. The
// result is the node's content, else its description, else a note that it ran.
type ContentHandler struct{}

// NewContentHandler creates the passive content handler.
func NewContentHandler() *ContentHandler { return &ContentHandler{} }

func (h *ContentHandler) Families() []schema.KindFamily {
	return []schema.KindFamily{schema.FamilyStart, schema.FamilyContent}
}

func (h *ContentHandler) Schema() HandlerSchema {
	return HandlerSchema{Description: "Emit the node's own content or description."}
}

func (h *ContentHandler) Execute(_ context.Context, node *schema.Node, _ string) (string, error) {
	switch {
	case node.Content != "":
		return node.Content, nil
	case node.Description != "":
		return node.Description, nil
	}
	label := node.Label
	if label == "" {
		label = node.ID
	}
	return "Executed: " + label, nil
}
