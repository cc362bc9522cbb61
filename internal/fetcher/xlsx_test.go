package fetcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeWorkbook(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "parcelas.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX_Basic(t *testing.T) {
	t.Parallel()
	path := writeWorkbook(t, map[string][][]string{
		"Parcelas": {
			{"Nombre", "Cultivo", "Propietario"},
			{"La Esperanza", "Coffee", "Cooperativa Andina"},
			{"El Mirador", "Avocado", "Fedecafe"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Nombre", "Cultivo", "Propietario"}, rows[0])
	assert.Equal(t, []string{"La Esperanza", "Coffee", "Cooperativa Andina"}, rows[1])
	assert.Equal(t, []string{"El Mirador", "Avocado", "Fedecafe"}, rows[2])
}

func TestReadXLSX_SkipRows(t *testing.T) {
	t.Parallel()
	path := writeWorkbook(t, map[string][][]string{
		"Parcelas": {
			{"Nombre", "Cultivo"},
			{"la esperanza", "coffee"},
			{"el mirador", "avocado"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SkipRows: 1})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"la esperanza", "coffee"}, rows[0])
	assert.Equal(t, []string{"el mirador", "avocado"}, rows[1])
}

func TestReadXLSX_SheetName(t *testing.T) {
	t.Parallel()
	path := writeWorkbook(t, map[string][][]string{
		"Resumen":  {{"ignorar", "esto"}},
		"Parcelas": {{"Nombre", "Cultivo"}, {"lote norte", "citrus"}},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "Parcelas"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"lote norte", "citrus"}, rows[1])
}

func TestReadXLSX_SheetNameNotFound(t *testing.T) {
	t.Parallel()
	path := writeWorkbook(t, map[string][][]string{
		"Parcelas": {{"a"}},
	})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	t.Parallel()
	path := writeWorkbook(t, map[string][][]string{
		"Parcelas": {{"a"}},
	})

	_, err := ReadXLSX(path, XLSXOptions{SheetIndex: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_WithHeaderCh(t *testing.T) {
	t.Parallel()
	path := writeWorkbook(t, map[string][][]string{
		"Parcelas": {
			{"Nombre", "Cultivo"},
			{"la esperanza", "coffee"},
		},
	})

	headerCh := make(chan []string, 1)
	rows, err := ReadXLSX(path, XLSXOptions{
		SkipRows: 1,
		HeaderCh: headerCh,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"la esperanza", "coffee"}, rows[0])
	assert.Equal(t, []string{"Nombre", "Cultivo"}, <-headerCh)
}

func TestReadXLSX_EmptySheet(t *testing.T) {
	t.Parallel()
	path := writeWorkbook(t, map[string][][]string{
		"Parcelas": {},
	})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadXLSX_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := ReadXLSX("/nonexistent/path/parcelas.xlsx", XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}

func TestReadXLSX_NotASpreadsheet(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not a workbook"), 0o644))

	_, err := ReadXLSX(path, XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xlsx: open file")
}
