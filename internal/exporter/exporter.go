// Package exporter renders a single markdown page to HTML, Markdown,
// plain text, or PDF on demand, backing the server's /api/export
// endpoint. Whole-repository static export now lives in
// internal/staticsite, which understands internal/index's url_path
// convention; this package keeps only the single-page conversion
// Exporter.ExportPage already performed.
package exporter

import (
	"log/slog"

	"github.com/marrow-wiki/mbr/internal/renderer"
)

// Exporter converts a single markdown document into another format.
type Exporter struct {
	renderer *renderer.Service
	logger   *slog.Logger
}

// New constructs an exporter instance ready for use.
func New(logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		renderer: renderer.NewService(logger),
		logger:   logger.With("component", "exporter"),
	}, nil
}
