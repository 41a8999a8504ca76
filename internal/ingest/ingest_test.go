package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dgnsrekt/portal_export/internal/failure"
)

func writeXLSX(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "cotizaciones.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite:///"+filepath.Join(t.TempDir(), "data", "cotizadores.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReadXLSX(t *testing.T) {
	path := writeXLSX(t, [][]any{
		{"DOCUMENTO", "CLIENTE", "", "CLIENTE"},
		{"D-1", "ANA", "x", "dup"},
		{},
		{"D-2", "LUIS"},
	})
	sheet, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"DOCUMENTO", "CLIENTE", "column_3", "CLIENTE_2"}, sheet.Header)
	require.Len(t, sheet.Rows, 2)
	require.Equal(t, "LUIS", sheet.Rows[1][1])
}

func TestReadCSVWithBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reporte.csv")
	require.NoError(t, os.WriteFile(path, []byte("\xef\xbb\xbfDOCUMENTO,CLIENTE\nD-1,ANA\n"), 0o644))
	sheet, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"DOCUMENTO", "CLIENTE"}, sheet.Header)
	require.Equal(t, [][]string{{"D-1", "ANA"}}, sheet.Rows)
}

func TestReadUnsupported(t *testing.T) {
	_, err := ReadFile("report.pdf")
	require.Equal(t, failure.CodeValidation, failure.CodeOf(err))
}

func TestReadLegacyXLS(t *testing.T) {
	_, err := ReadFile("Reporte.xls")
	require.Equal(t, failure.CodeIngestFailed, failure.CodeOf(err))
	require.ErrorContains(t, err, ".xlsx")
}

func TestColumnNamesAvoidsExistingHeaders(t *testing.T) {
	require.Equal(t, []string{"a", "a_2", "a_3"}, ColumnNames([]string{"a", "a_2", "a"}))
	require.Equal(t, []string{"a", "a_2", "a_2_2"}, ColumnNames([]string{"a", "a", "a_2"}))
	require.Equal(t, []string{"column_2", "column_2_2"}, ColumnNames([]string{"column_2", " "}))
	require.Equal(t, []string{"Cliente", "CLIENTE_2"}, ColumnNames([]string{"Cliente", "CLIENTE"}))
}

func TestAppendCreatesAndExtendsTable(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	n, err := s.Append(ctx, "fast_cotizaciones", Sheet{
		Header: []string{"DOCUMENTO", "CLIENTE"},
		Rows:   [][]string{{"D-1", "ANA"}, {"D-2"}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// A later export grows a column; earlier rows keep NULL there.
	n, err = s.Append(ctx, "fast_cotizaciones", Sheet{
		Header: []string{"DOCUMENTO", "CLIENTE", "VENDEDOR"},
		Rows:   [][]string{{"D-3", "EVA", "JOSE"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	total, err := s.Count(ctx, "fast_cotizaciones")
	require.NoError(t, err)
	require.Equal(t, 3, total)

	var vendedor *string
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT "VENDEDOR" FROM fast_cotizaciones WHERE "DOCUMENTO" = 'D-1'`).Scan(&vendedor))
	require.Nil(t, vendedor)
}

func TestAppendIsNotDeduplicated(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	sheet := Sheet{Header: []string{"DOCUMENTO"}, Rows: [][]string{{"D-1"}}}
	for i := 0; i < 2; i++ {
		_, err := s.Append(ctx, "classic_cotizaciones", sheet)
		require.NoError(t, err)
	}
	total, err := s.Count(ctx, "classic_cotizaciones")
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestAppendRejectsBadTableName(t *testing.T) {
	s := openStore(t)
	_, err := s.Append(context.Background(), `x"; DROP TABLE y; --`, Sheet{Header: []string{"a"}})
	require.Equal(t, failure.CodeValidation, failure.CodeOf(err))
}

func TestFileEndToEnd(t *testing.T) {
	s := openStore(t)
	path := writeXLSX(t, [][]any{{"DOCUMENTO", "CLIENTE"}, {"D-1", "ANA"}, {"D-2", "LUIS"}})
	n, err := s.File(context.Background(), "fast_cotizaciones", path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}
