// Package export turns a rendered contract into a PDF or DOCX file.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat accepts "pdf" and "docx", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Document is the contract content handed to the exporter.
type Document struct {
	CollaborationKey string
	Title            string
	RenderedHTML     string
	Action           string
	IsContractSent   bool
	IsSigned         bool
	UpdatedAt        time.Time
	Activity         []Activity
}

// Activity is one timeline line printed after the contract body.
type Activity struct {
	When        time.Time
	Type        string
	Description string
	Actor       string
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrContentUnavailable indicates there is no rendered contract to export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrUnsupportedFormat     = errors.New("unsupported export format")
)
