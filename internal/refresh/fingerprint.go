// Package refresh decides when a result table reflects a newly applied date
// filter, using the loading overlay when the portal shows one and a content
// fingerprint otherwise.
package refresh

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dgnsrekt/portal_export/internal/page"
)

// Fingerprint summarizes the first rows of two key columns.
type Fingerprint struct {
	Rows   int    `json:"rows"`
	Text   string `json:"text"`
	Digest string `json:"digest"`
}

// Equal compares digests.
func (f Fingerprint) Equal(o Fingerprint) bool { return f.Digest == o.Digest }

func (f Fingerprint) String() string {
	if len(f.Digest) < 12 {
		return f.Digest
	}
	return fmt.Sprintf("%d rows %s", f.Rows, f.Digest[:12])
}

// FromRows fingerprints at most limit rows. Row i renders as "i:a|b" with
// trimmed cells; rows are joined by newlines and hashed with SHA-1.
func FromRows(colA, colB []string, limit int) Fingerprint {
	n := min(limit, len(colA), len(colB))
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, fmt.Sprintf("%d:%s|%s", i, strings.TrimSpace(colA[i]), strings.TrimSpace(colB[i])))
	}
	text := strings.Join(parts, "\n")
	sum := sha1.Sum([]byte(text))
	return Fingerprint{Rows: n, Text: text, Digest: hex.EncodeToString(sum[:])}
}

// Table names the rendered result table and its key columns.
type Table struct {
	Rows    string `yaml:"rows"`
	ColumnA string `yaml:"column_a"`
	ColumnB string `yaml:"column_b"`
	Limit   int    `yaml:"limit"`
}

// DefaultTable is the fast portal's quote table keyed by DOCUMENTO and
// CLIENTE.
func DefaultTable() Table {
	return Table{
		Rows:    "table.p-datatable-table tbody tr",
		ColumnA: "table.p-datatable-table tbody tr td:nth-child(2)",
		ColumnB: "table.p-datatable-table tbody tr td:nth-child(5)",
		Limit:   8,
	}
}

// Compute reads the key columns from p and fingerprints them.
func (t Table) Compute(ctx context.Context, p page.Page) (Fingerprint, error) {
	a, err := p.Texts(ctx, t.ColumnA)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("read %s: %w", t.ColumnA, err)
	}
	b, err := p.Texts(ctx, t.ColumnB)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("read %s: %w", t.ColumnB, err)
	}
	limit := t.Limit
	if limit <= 0 {
		limit = 8
	}
	return FromRows(a, b, limit), nil
}
