// Package ingest appends exported spreadsheets to the relational store.
// Columns come from the file's own header; rows are appended without
// deduplication.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dgnsrekt/portal_export/internal/failure"
)

// Sheet is a header plus data rows, all as text.
type Sheet struct {
	Header []string
	Rows   [][]string
}

// ReadFile reads the first worksheet of an .xlsx/.xlsm file or a .csv file.
func ReadFile(path string) (Sheet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx":
		return readXLSX(path)
	case ".csv", ".txt":
		return readCSV(path)
	case ".xls":
		return Sheet{}, failure.Newf(failure.CodeIngestFailed, "%s is a legacy .xls workbook; only .xlsx/.xlsm and .csv exports can be ingested", filepath.Base(path))
	default:
		return Sheet{}, failure.Newf(failure.CodeValidation, "unsupported export format %q", filepath.Ext(path))
	}
}

func readXLSX(path string) (Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Sheet{}, failure.New(failure.CodeIngestFailed, "open workbook "+path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Sheet{}, failure.Newf(failure.CodeIngestFailed, "workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Sheet{}, failure.New(failure.CodeIngestFailed, "read sheet "+sheets[0], err)
	}
	return fromRecords(rows, path)
}

func readCSV(path string) (Sheet, error) {
	file, err := os.Open(path)
	if err != nil {
		return Sheet{}, failure.New(failure.CodeIngestFailed, "open "+path, err)
	}
	defer file.Close()

	r := csv.NewReader(stripBOM(file))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return Sheet{}, failure.New(failure.CodeIngestFailed, "parse csv "+path, err)
	}
	return fromRecords(records, path)
}

func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, 3)
	n, _ := io.ReadFull(r, buf)
	if n == 3 && string(buf) == "\xef\xbb\xbf" {
		return r
	}
	return io.MultiReader(strings.NewReader(string(buf[:n])), r)
}

// fromRecords splits the header off and drops fully blank rows.
func fromRecords(records [][]string, path string) (Sheet, error) {
	if len(records) == 0 {
		return Sheet{}, failure.Newf(failure.CodeIngestFailed, "%s is empty", path)
	}
	s := Sheet{Header: ColumnNames(records[0])}
	for _, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		s.Rows = append(s.Rows, rec)
	}
	return s, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ColumnNames trims header cells, names empty ones column_N and suffixes
// duplicates with the lowest free _2, _3 and so on. Names compare
// case-insensitively, as sqlite does.
func ColumnNames(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		base := name
		for n := 2; used[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}
