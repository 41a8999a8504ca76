package browser

import (
	"errors"
	"strings"
	"testing"

	"github.com/dgnsrekt/portal_export/internal/cdpcontrol"
	"github.com/dgnsrekt/portal_export/internal/failure"
)

var threeTabs = []cdpcontrol.TabInfo{
	{Index: 0, TargetID: "A", Title: "Inbox", URL: "https://mail.example/"},
	{Index: 1, TargetID: "B", Title: "Cotizador Vehicular", URL: "https://fast.example/recepcion"},
	{Index: 2, TargetID: "C", Title: "Reporte", URL: "https://classic.example/SanIsidro"},
}

func intPtr(i int) *int { return &i }

func TestMatchTab(t *testing.T) {
	tests := []struct {
		name     string
		criteria TabCriteria
		want     string
	}{
		{name: "empty picks first", criteria: TabCriteria{}, want: "A"},
		{name: "index", criteria: TabCriteria{Index: intPtr(2)}, want: "C"},
		{name: "index wins over title", criteria: TabCriteria{Index: intPtr(0), TitleContains: "cotizador"}, want: "A"},
		{name: "title case-insensitive", criteria: TabCriteria{TitleContains: "COTIZADOR"}, want: "B"},
		{name: "url substring", criteria: TabCriteria{URLContains: "sanisidro"}, want: "C"},
		{name: "bad index falls back to title", criteria: TabCriteria{Index: intPtr(9), TitleContains: "reporte"}, want: "C"},
	}
	for _, tt := range tests {
		got, err := MatchTab(threeTabs, tt.criteria)
		if err != nil {
			t.Fatalf("%s: MatchTab() error = %v", tt.name, err)
		}
		if got.TargetID != tt.want {
			t.Fatalf("%s: MatchTab() = %s; want %s", tt.name, got.TargetID, tt.want)
		}
	}
}

func TestMatchTabOutOfRangeReportsCount(t *testing.T) {
	_, err := MatchTab(threeTabs, TabCriteria{Index: intPtr(5)})
	if got := failure.CodeOf(err); got != failure.CodeTabNotFound {
		t.Fatalf("CodeOf() = %q; want %q", got, failure.CodeTabNotFound)
	}
	var nm *NoMatchError
	if !errors.As(err, &nm) {
		t.Fatalf("error %v does not carry NoMatchError", err)
	}
	if nm.Count != 3 {
		t.Fatalf("NoMatchError.Count = %d; want 3", nm.Count)
	}
	if !strings.Contains(err.Error(), "index=5") || !strings.Contains(err.Error(), "3 open tabs") {
		t.Fatalf("error = %q; want criteria and tab count", err.Error())
	}
}

func TestMatchTabNoTabs(t *testing.T) {
	_, err := MatchTab(nil, TabCriteria{})
	if !failure.HasCode(err, failure.CodeTabNotFound) {
		t.Fatalf("MatchTab(nil) error = %v; want TAB_NOT_FOUND", err)
	}
}
