// Package render defines the document renderer boundary. The real renderer
// lives outside this engine; the engine only needs printable bytes and a
// filename to hand to the signing provider.
package render

import (
	"context"
	"fmt"
	"strings"

	"signflow/contract"
)

// Renderer converts a contract record into a fixed-layout printable document.
type Renderer interface {
	Render(ctx context.Context, c contract.Record) (data []byte, filename string, err error)
}

// PDFStubRenderer emits a minimal well-formed PDF carrying the contract
// title. It exists so the pipeline runs end to end in development and tests;
// production wires the external rendering service instead.
type PDFStubRenderer struct{}

func (PDFStubRenderer) Render(_ context.Context, c contract.Record) ([]byte, string, error) {
	if c.ID == "" {
		return nil, "", fmt.Errorf("render: contract id required")
	}

	title := strings.ReplaceAll(c.Title, "(", "")
	title = strings.ReplaceAll(title, ")", "")

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	b.WriteString("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n")
	b.WriteString("2 0 obj << /Type /Pages /Kids [3 0 R] /Count 1 >> endobj\n")
	b.WriteString("3 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R >> endobj\n")
	stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", title)
	b.WriteString(fmt.Sprintf("4 0 obj << /Length %d >> stream\n%s\nendstream endobj\n", len(stream), stream))
	b.WriteString("trailer << /Root 1 0 R >>\n")
	b.WriteString("%%EOF\n")

	return []byte(b.String()), filenameFor(c), nil
}

func filenameFor(c contract.Record) string {
	slug := strings.ToLower(strings.TrimSpace(c.Title))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "contract"
	}
	return slug + ".pdf"
}
