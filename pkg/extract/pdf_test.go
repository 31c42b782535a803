package extract_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow-io/orderflow/pkg/extract"
)

// buildPDF assembles a minimal single-page PDF around the given content
// stream, with a correct cross-reference table.
func buildPDF(t *testing.T, content string) []byte {
	t.Helper()
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	}

	var sb strings.Builder
	sb.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = sb.Len()
		fmt.Fprintf(&sb, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xrefStart := sb.Len()
	fmt.Fprintf(&sb, "xref\n0 %d\n", len(objects)+1)
	sb.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&sb, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&sb, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xrefStart)
	return []byte(sb.String())
}

func orderPDF(t *testing.T) []byte {
	content := strings.Join([]string{
		"BT /F1 12 Tf 72 740 Td (Bestellung Nr. 4711) Tj ET",
		"BT /F1 10 Tf 72 700 Td (Artikelnummer) Tj ET",
		"BT /F1 10 Tf 220 700 Td (Menge) Tj ET",
		"BT /F1 10 Tf 300 700 Td (Einheit) Tj ET",
		"BT /F1 10 Tf 72 680 Td (AB-12) Tj ET",
		"BT /F1 10 Tf 220 680 Td (5) Tj ET",
		"BT /F1 10 Tf 300 680 Td (ST) Tj ET",
	}, "\n")
	return buildPDF(t, content)
}

func TestAnalyzePDF(t *testing.T) {
	stats, err := extract.AnalyzePDF(orderPDF(t))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PageCount)
	assert.Contains(t, stats.Text, "Bestellung")
	assert.Greater(t, stats.TextCharsTotal, 0)
	assert.Greater(t, stats.TextCoverageRatio, 0.0)
	assert.LessOrEqual(t, stats.TextCoverageRatio, 1.0)

	_, err = extract.AnalyzePDF([]byte("not a pdf"))
	assert.Error(t, err)
}

func TestPDFTextExtractReadsAlignedTable(t *testing.T) {
	rec, err := (&extract.PDFTextExtractor{}).Extract(orderPDF(t))
	require.NoError(t, err)
	assert.Equal(t, "rule_pdf_text_v1", rec.ExtractorVersion)
	require.Len(t, rec.Lines, 1)

	l := rec.Lines[0]
	assert.Equal(t, "AB-12", l.CustomerSKURaw)
	require.NotNil(t, l.Qty)
	assert.Equal(t, 5.0, *l.Qty)
	assert.Equal(t, "ST", l.UOM)
	assert.Less(t, rec.Confidence.Overall, 1.0, "layout heuristics never reach grid confidence")
}

func TestPDFTextExtractFailsWithoutTable(t *testing.T) {
	raw := buildPDF(t, "BT /F1 12 Tf 72 740 Td (Sehr geehrte Damen und Herren) Tj ET")
	_, err := (&extract.PDFTextExtractor{}).Extract(raw)
	assert.Error(t, err)
}
