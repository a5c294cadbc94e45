package actions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/lessonflow/internal/expressions"
	"github.com/rendis/lessonflow/pkg/schema"
)

const pdfConfigSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string", "description": "Text with {{ expression }} blocks. A {{ with no closing }} stays literal; {{\"{{\"}} writes a literal {{."},
    "filename": {"type": "string", "pattern": "^[^/\\\\]*$"}
  }
}`

// PDFConfig is the config of pdf-export nodes.
type PDFConfig struct {
	Title    string `mapstructure:"title"`
	Filename string `mapstructure:"filename" validate:"omitempty,excludesall=/\\"`
}

// PDFHandler exports the aggregated input as a PDF document.
type PDFHandler struct {
	exporter PdfExporter
	renderer *expressions.Renderer
}

// NewPDFHandler creates the pdf-export handler.
func NewPDFHandler(e PdfExporter, r *expressions.Renderer) *PDFHandler {
	if r == nil {
		r = expressions.NewRenderer(nil)
	}
	return &PDFHandler{exporter: e, renderer: r}
}

func (h *PDFHandler) Families() []schema.KindFamily { return []schema.KindFamily{schema.FamilyPDF} }

func (h *PDFHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Render the aggregated input into a PDF file.",
		ConfigSchema: json.RawMessage(pdfConfigSchema),
	}
}

func (h *PDFHandler) Execute(ctx context.Context, node *schema.Node, input string) (string, error) {
	var cfg PDFConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return "", err
	}

	content := input
	if content == "" {
		content = node.Content
	}
	if strings.TrimSpace(content) == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "no content to export").WithNode(node.ID)
	}

	title, err := h.renderer.Render(ctx, cfg.Title, templateData(node, input))
	if err != nil {
		return "", err
	}
	if title == "" {
		title = node.Label
	}
	if title == "" {
		title = "lesson"
	}

	filename := cfg.Filename
	if filename == "" {
		filename = PDFFilename(title)
	}

	path, err := h.exporter.Export(ctx, PDFDocument{Title: title, Content: content, Filename: filename})
	if err != nil {
		return "", err
	}
	return "PDF exported: " + path, nil
}

// PDFFilename derives a file name from a title: whitespace runs become "-".
func PDFFilename(title string) string {
	name := strings.Join(strings.Fields(title), "-")
	name = strings.NewReplacer("/", "-", "\\", "-").Replace(name)
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
