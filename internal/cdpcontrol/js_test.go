package cdpcontrol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseSelector(t *testing.T) {
	tests := []struct {
		in   string
		kind string
		want string
	}{
		{in: "p-datepicker input[placeholder*=\"Rango de fechas\"]", kind: "css", want: "p-datepicker input[placeholder*=\"Rango de fechas\"]"},
		{in: "xpath=//button[contains(., 'Excel')]", kind: "xpath", want: "//button[contains(., 'Excel')]"},
		{in: `text="Reporte"`, kind: "xpath", want: `normalize-space(.)="Reporte"`},
		{in: "text=Ver  Cotizaciones", kind: "xpath", want: `normalize-space(.)="Ver Cotizaciones"`},
	}
	for _, tt := range tests {
		got := parseSelector(tt.in)
		if got.Kind != tt.kind {
			t.Fatalf("parseSelector(%q).Kind = %q; want %q", tt.in, got.Kind, tt.kind)
		}
		if !strings.Contains(got.Query, tt.want) {
			t.Fatalf("parseSelector(%q).Query = %q; want it to contain %q", tt.in, got.Query, tt.want)
		}
	}
}

func TestXPathLiteral(t *testing.T) {
	tests := map[string]string{
		`plain`:        `"plain"`,
		`say "hi"`:     `'say "hi"'`,
		`it's "quote"`: `concat("it's ", '"', "quote", '"', "")`,
	}
	for in, want := range tests {
		if got := xpathLiteral(in); got != want {
			t.Fatalf("xpathLiteral(%q) = %s; want %s", in, got, want)
		}
	}
}

func TestJSJSONAndWrapper(t *testing.T) {
	got := jsJSON(selectorSpec{Kind: "css", Query: "a"})
	var m map[string]any
	if err := json.Unmarshal([]byte(got), &m); err != nil {
		t.Fatalf("jsJSON returned invalid JSON: %v", err)
	}
	if m["kind"] != "css" || m["query"] != "a" {
		t.Fatalf("jsJSON decoded = %v; want kind=css query=a", m)
	}

	expr := jsVisible("#export")
	if !strings.HasPrefix(expr, "(function(){\ntry {") {
		t.Fatalf("unexpected wrapper: %s", expr)
	}
	if !strings.Contains(expr, `{"kind":"css","query":"#export"}`) {
		t.Fatalf("wrapper lost selector: %s", expr)
	}
	if !strings.Contains(expr, "function _firstVisible") {
		t.Fatalf("wrapper lost query helpers: %s", expr)
	}
}
