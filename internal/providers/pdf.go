package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/go-pdf/fpdf"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/pkg/schema"
)

// PDFWriter renders documents into a directory.
type PDFWriter struct {
	dir  string
	font string
}

// NewPDFWriter creates a writer that stores files under dir. With a TrueType
// font path any script can be written; without one the built-in Helvetica only
// covers Windows-1252 and other text is rejected.
func NewPDFWriter(dir, fontPath string) *PDFWriter {
	return &PDFWriter{dir: dir, font: fontPath}
}

var _ actions.PdfExporter = (*PDFWriter)(nil)

// Export implements actions.PdfExporter. A title line is followed by the
// content wrapped to the page width; pages break automatically.
func (w *PDFWriter) Export(ctx context.Context, doc actions.PDFDocument) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Base(doc.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "pdf filename is empty")
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create pdf dir: %w", err)
	}
	path := filepath.Join(w.dir, name)

	pdf := fpdf.New("P", "mm", "A4", "")
	family, tr := "Helvetica", func(s string) string { return s }
	if w.font != "" {
		if _, err := os.Stat(w.font); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeExecution, "pdf font: %s", err.Error()).WithCause(err)
		}
		family = "body"
		pdf.AddUTF8Font(family, "", w.font)
		pdf.AddUTF8Font(family, "B", w.font)
	} else {
		for _, field := range []struct{ name, text string }{{"title", doc.Title}, {"content", doc.Content}} {
			if r, ok := firstOutsideCP1252(field.text); ok {
				return "", schema.NewErrorf(schema.ErrCodeValidation,
					"pdf %s contains %q (U+%04X) which the built-in font cannot encode; set pdf_font to a TrueType font",
					field.name, r, r)
			}
		}
		tr = pdf.UnicodeTranslatorFromDescriptor("")
	}
	pdf.SetTitle(doc.Title, true)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	pdf.SetFont(family, "B", 18)
	pdf.MultiCell(0, 9, tr(doc.Title), "", "L", false)
	pdf.Ln(4)
	pdf.SetFont(family, "", 12)
	pdf.MultiCell(0, 7, tr(doc.Content), "", "L", false)

	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "write pdf: %s", err.Error()).WithCause(err)
	}
	return path, nil
}

// cp1252Extra are the printable runes Windows-1252 places in 0x80-0x9F.
var cp1252Extra = []rune{
	0x20AC, 0x201A, 0x0192, 0x201E, 0x2026, 0x2020, 0x2021, 0x02C6, 0x2030,
	0x0160, 0x2039, 0x0152, 0x017D, 0x2018, 0x2019, 0x201C, 0x201D, 0x2022,
	0x2013, 0x2014, 0x02DC, 0x2122, 0x0161, 0x203A, 0x0153, 0x017E, 0x0178,
}

// firstOutsideCP1252 returns the first rune of s that Windows-1252 lacks.
func firstOutsideCP1252(s string) (rune, bool) {
	for _, r := range s {
		switch {
		case r < 0x80, r >= 0xA0 && r <= 0xFF:
		case slices.Contains(cp1252Extra, r):
		default:
			return r, true
		}
	}
	return 0, false
}
