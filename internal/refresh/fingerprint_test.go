package refresh

import (
	"context"
	"testing"

	"github.com/dgnsrekt/portal_export/internal/page/pagetest"
)

func TestFromRowsDeterministic(t *testing.T) {
	a := []string{" D-001 ", "D-002"}
	b := []string{"ANA", " LUIS"}
	first := FromRows(a, b, 8)
	second := FromRows(a, b, 8)
	if !first.Equal(second) || first.Text != second.Text {
		t.Fatalf("FromRows() not deterministic: %+v vs %+v", first, second)
	}
	if want := "0:D-001|ANA\n1:D-002|LUIS"; first.Text != want {
		t.Fatalf("FromRows().Text = %q; want %q", first.Text, want)
	}
}

func TestFromRowsSensitiveToEitherColumn(t *testing.T) {
	base := FromRows([]string{"A", "X"}, []string{"B", "Y"}, 8)
	changedA := FromRows([]string{"A", "Z"}, []string{"B", "Y"}, 8)
	changedB := FromRows([]string{"A", "X"}, []string{"B", "Q"}, 8)
	if base.Equal(changedA) {
		t.Fatal("changing column A did not change the fingerprint")
	}
	if base.Equal(changedB) {
		t.Fatal("changing column B did not change the fingerprint")
	}
}

func TestFromRowsBoundedPrefix(t *testing.T) {
	a := []string{"1", "2", "3"}
	b := []string{"x", "y", "z"}
	if got := FromRows(a, b, 2); got.Rows != 2 || !got.Equal(FromRows(a[:2], b[:2], 8)) {
		t.Fatalf("FromRows(limit=2) = %+v; want only the first two rows", got)
	}
	if got := FromRows(a, b[:1], 8); got.Rows != 1 {
		t.Fatalf("FromRows(uneven) rows = %d; want 1", got.Rows)
	}
}

func TestTableCompute(t *testing.T) {
	tbl := DefaultTable()
	f := pagetest.New()
	f.Set(tbl.ColumnA, pagetest.Element{Texts: []string{"A"}})
	f.Set(tbl.ColumnB, pagetest.Element{Texts: []string{"B"}})

	fp, err := tbl.Compute(context.Background(), f)
	if err != nil {
		t.Fatalf("Compute() error = %v", err)
	}
	if fp.Text != "0:A|B" {
		t.Fatalf("Compute().Text = %q; want %q", fp.Text, "0:A|B")
	}
}
