// Package export renders a form's projected schema as a printable document
// in PDF or DOCX format.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	FormID  string
	Version string // "latest" or commit hash
	Format  Format
}

// FormInfo holds the form metadata shown on the exported document
type FormInfo struct {
	ID        string
	Title     string
	Author    string
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrSchemaUnavailable indicates the form schema could not be loaded for export.
	ErrSchemaUnavailable = errors.New("export schema unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
