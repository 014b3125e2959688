package export

import (
	"context"
	"fmt"
	"strings"
)

type converter func(ctx context.Context, html, title string) (*Result, error)

// Service provides contract export functionality
type Service struct {
	pdf  converter
	docx converter
}

// NewService creates an export service backed by headless Chrome and pandoc.
func NewService() *Service {
	return &Service{pdf: exportPDF, docx: exportDOCX}
}

// Export renders doc into a printable page and converts it.
func (s *Service) Export(ctx context.Context, doc Document, format Format) (*Result, error) {
	if strings.TrimSpace(doc.RenderedHTML) == "" {
		return nil, ErrContentUnavailable
	}

	page, err := RenderContractHTML(templateDataFor(doc))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := doc.Title
	if title == "" {
		title = "contract-" + doc.CollaborationKey
	}

	switch format {
	case FormatPDF:
		return s.pdf(ctx, page, title)
	case FormatDOCX:
		return s.docx(ctx, page, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
