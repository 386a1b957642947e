package pdfdoc_test

import (
	"testing"

	"github.com/marrow-wiki/mbr/internal/pdfdoc"
)

func TestParseCoverRequest(t *testing.T) {
	t.Parallel()
	base, ok := pdfdoc.ParseCoverRequest("docs/report.pdf.cover.jpg")
	if !ok || base != "docs/report.pdf" {
		t.Fatalf("ParseCoverRequest = %q, %v", base, ok)
	}

	if _, ok := pdfdoc.ParseCoverRequest("docs/report.pdf"); ok {
		t.Errorf("expected non-cover request to be rejected")
	}
	if _, ok := pdfdoc.ParseCoverRequest("docs/image.png.cover.jpg"); ok {
		t.Errorf("expected non-pdf base to be rejected")
	}
}
