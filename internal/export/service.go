package export

import (
	"context"
	"fmt"

	"formloom/api/internal/schema"
)

// DataSource defines the data access the exporter needs
type DataSource interface {
	GetForm(ctx context.Context, id string) (FormInfo, error)
	// GetSchemaVersion resolves "latest" to the current projection and
	// anything else to a historical snapshot hash.
	GetSchemaVersion(ctx context.Context, formID, version string) (*schema.Schema, error)
}

// Service provides form export functionality
type Service struct {
	source DataSource
}

// NewService creates a new export service
func NewService(source DataSource) *Service {
	return &Service{source: source}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	form, err := s.source.GetForm(ctx, req.FormID)
	if err != nil {
		return nil, fmt.Errorf("get form: %w", err)
	}

	version := req.Version
	if version == "" {
		version = "latest"
	}
	snap, err := s.source.GetSchemaVersion(ctx, req.FormID, version)
	if err != nil {
		return nil, fmt.Errorf("get schema: %w", err)
	}
	if snap == nil {
		return nil, ErrSchemaUnavailable
	}

	html, err := RenderFormHTML(BuildTemplateData(form, snap))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, form.Title)
	case FormatDOCX:
		return exportDOCX(html, form.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
