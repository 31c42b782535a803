package extract_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/orderflow-io/orderflow/pkg/extract"
)

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func TestXLSXExtractFindsHeaderBelowTitleRows(t *testing.T) {
	raw := buildWorkbook(t, [][]any{
		{"Bestellung 2026-1044"},
		{"Musterfirma GmbH", "", ""},
		{},
		{"Artikelnummer", "Bezeichnung", "Menge", "Einheit", "Preis"},
		{"AB-12", "Sechskantschraube M8", 100, "Stk", 0.85},
		{"CD-34", "Mutter M8", 250.5, "Stk", 0.12},
	})

	rec, err := (&extract.XLSXExtractor{}).Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, "rule_xlsx_v1", rec.ExtractorVersion)
	require.Len(t, rec.Lines, 2)

	l1 := rec.Lines[0]
	assert.Equal(t, "AB-12", l1.CustomerSKURaw)
	require.NotNil(t, l1.Qty)
	assert.Equal(t, 100.0, *l1.Qty)
	assert.Equal(t, "ST", l1.UOM)
	require.NotNil(t, l1.UnitPrice)
	assert.Equal(t, 0.85, *l1.UnitPrice)

	require.NotNil(t, rec.Lines[1].Qty)
	assert.Equal(t, 250.5, *rec.Lines[1].Qty)
	assert.Greater(t, rec.Confidence.Overall, 0.9)
}

func TestXLSXExtractUnknownUnitWarns(t *testing.T) {
	raw := buildWorkbook(t, [][]any{
		{"sku", "description", "qty", "unit"},
		{"AB-12", "Hex bolt", 5, "Gros"},
	})

	rec, err := (&extract.XLSXExtractor{}).Extract(raw)
	require.NoError(t, err)
	require.Len(t, rec.Lines, 1)
	assert.Empty(t, rec.Lines[0].UOM)
	require.Len(t, rec.Warnings, 1)
	assert.Equal(t, "UNKNOWN_UOM", rec.Warnings[0].Code)
}

func TestXLSXExtractRejectsWorkbookWithoutHeader(t *testing.T) {
	raw := buildWorkbook(t, [][]any{
		{"Bestellung"},
		{"nur", "zwei"},
	})
	_, err := (&extract.XLSXExtractor{}).Extract(raw)
	assert.Error(t, err)

	_, err = (&extract.XLSXExtractor{}).Extract([]byte("not a workbook"))
	assert.Error(t, err)
}
