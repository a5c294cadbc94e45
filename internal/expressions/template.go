package expressions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/lessonflow/pkg/schema"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// Renderer expands "{{ expression }}" blocks inside free text using an Engine.
// Text without blocks is returned unchanged.
type Renderer struct {
	engine Engine
}

// NewRenderer creates a Renderer; a nil engine uses a fresh ExprEngine.
func NewRenderer(engine Engine) *Renderer {
	if engine == nil {
		engine = NewExprEngine()
	}
	return &Renderer{engine: engine}
}

// HasBlocks reports whether text contains a template block.
func HasBlocks(text string) bool {
	return strings.Contains(text, openDelim)
}

// Render expands every block in text. nil results render as "". A "{{" with
// no closing "}}" after it is literal text; {{"{{"}} writes a literal "{{"
// ahead of a later block.
func (r *Renderer) Render(ctx context.Context, text string, data map[string]any) (string, error) {
	if !HasBlocks(text) {
		return text, nil
	}

	var b strings.Builder
	rest := text
	for {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+len(openDelim):], closeDelim)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])

		body := strings.TrimSpace(rest[start+len(openDelim) : start+len(openDelim)+end])
		if body == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty template block")
		}
		val, err := r.engine.Evaluate(ctx, body, data)
		if err != nil {
			return "", err
		}
		if val != nil {
			fmt.Fprint(&b, val)
		}
		rest = rest[start+len(openDelim)+end+len(closeDelim):]
	}
	return b.String(), nil
}
