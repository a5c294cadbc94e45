package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/lessonflow/pkg/schema"
)

// Handler executes the nodes of one or more kind families. Execute receives
// the node and its aggregated input and returns the node's result text.
type Handler interface {
	Families() []schema.KindFamily
	Schema() HandlerSchema
	Execute(ctx context.Context, node *schema.Node, input string) (string, error)
}

// HandlerSchema describes the config contract of a handler.
type HandlerSchema struct {
	Description  string          `json:"description,omitempty"`
	ConfigSchema json.RawMessage `json:"config_schema,omitempty"`
}

// HandlerInfo is a summary of a registered handler for listing.
type HandlerInfo struct {
	Family      schema.KindFamily `json:"family"`
	Kinds       []schema.NodeKind `json:"kinds"`
	Description string            `json:"description,omitempty"`
}
