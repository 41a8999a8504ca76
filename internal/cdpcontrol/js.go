package cdpcontrol

import (
	"encoding/json"
	"strings"
)

// selectorSpec is a selector resolved into something the page can evaluate.
type selectorSpec struct {
	Kind  string `json:"kind"` // "css" or "xpath"
	Query string `json:"query"`
}

// parseSelector resolves the selector syntax shared by the portal
// definitions: plain CSS, "xpath=<expr>", or "text=<exact text>".
func parseSelector(sel string) selectorSpec {
	s := strings.TrimSpace(sel)
	switch {
	case strings.HasPrefix(s, "xpath="):
		return selectorSpec{Kind: "xpath", Query: strings.TrimSpace(strings.TrimPrefix(s, "xpath="))}
	case strings.HasPrefix(s, "text="):
		return selectorSpec{Kind: "xpath", Query: textXPath(strings.TrimPrefix(s, "text="))}
	default:
		return selectorSpec{Kind: "css", Query: s}
	}
}

// textXPath matches the innermost elements whose normalized text equals text.
func textXPath(text string) string {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		text = text[1 : len(text)-1]
	}
	lit := xpathLiteral(strings.Join(strings.Fields(text), " "))
	return "//*[not(self::script) and not(self::style)][normalize-space(.)=" + lit + "][not(.//*[normalize-space(.)=" + lit + "])]"
}

func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = `"` + p + `"`
	}
	return "concat(" + strings.Join(quoted, `, '"', `) + ")"
}

const jsQueryHelpers = `
function _all(sel) {
  if (sel.kind === "xpath") {
    var res = document.evaluate(sel.query, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
    var out = [];
    for (var i = 0; i < res.snapshotLength; i++) out.push(res.snapshotItem(i));
    return out;
  }
  return Array.prototype.slice.call(document.querySelectorAll(sel.query));
}
function _visible(el) {
  if (!el || !el.isConnected || typeof el.getBoundingClientRect !== "function") return false;
  var st = window.getComputedStyle(el);
  if (st.visibility === "hidden" || st.display === "none") return false;
  var r = el.getBoundingClientRect();
  return r.width > 0 && r.height > 0;
}
function _firstVisible(els) {
  for (var i = 0; i < els.length; i++) if (_visible(els[i])) return els[i];
  return null;
}
function _ok(data) { return JSON.stringify({ok:true,data:data}); }
function _fail(code, msg) { return JSON.stringify({ok:false,error_code:code,error_message:msg}); }
`

func jsJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func wrapJSEval(body string) string {
	return `(function(){
try {
` + jsQueryHelpers + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + errCodeEval + `",error_message:String(err && err.message || err)});
}
})()`
}

func withSelector(sel string, body string) string {
	return wrapJSEval("var sel = " + jsJSON(parseSelector(sel)) + ";\nvar els = _all(sel);\n" + body)
}

func jsVisible(sel string) string {
	return withSelector(sel, `return _ok(_firstVisible(els) !== null);`)
}

func jsCount(sel string) string {
	return withSelector(sel, `return _ok(els.length);`)
}

func jsValue(sel string) string {
	return withSelector(sel, `
if (els.length === 0) return _fail("`+errCodeNoElement+`", "no element matches selector");
var el = els[0];
if (typeof el.value === "string") return _ok(el.value);
return _ok(el.textContent || "");`)
}

func jsTexts(sel string) string {
	return withSelector(sel, `
var out = [];
for (var i = 0; i < els.length; i++) out.push(els[i].textContent || "");
return _ok(out);`)
}

func jsScrollIntoView(sel string) string {
	return withSelector(sel, `
if (els.length === 0) return _fail("`+errCodeNoElement+`", "no element matches selector");
var el = _firstVisible(els) || els[0];
el.scrollIntoView({block:"center", inline:"center"});
return _ok(true);`)
}

// jsClickPoint scrolls the first visible match into view and returns its
// center, or NOT_VISIBLE when another element would receive the click.
func jsClickPoint(sel string) string {
	return withSelector(sel, `
if (els.length === 0) return _fail("`+errCodeNoElement+`", "no element matches selector");
var el = _firstVisible(els);
if (!el) return _fail("`+errCodeNotVisible+`", "no visible element matches selector");
el.scrollIntoView({block:"center", inline:"center"});
var r = el.getBoundingClientRect();
var x = r.left + r.width / 2, y = r.top + r.height / 2;
var hit = document.elementFromPoint(x, y);
if (hit && hit !== el && !el.contains(hit) && !hit.contains(el)) {
  return _fail("`+errCodeNotVisible+`", "element is covered by " + hit.tagName.toLowerCase());
}
return _ok({x:x, y:y});`)
}

func jsFocusForFill(sel string) string {
	return withSelector(sel, `
var el = _firstVisible(els);
if (!el) return _fail("`+errCodeNotVisible+`", "no visible element matches selector");
el.focus();
if (typeof el.select === "function") el.select();
return _ok(true);`)
}

const jsDocumentInfo = `(function(){
return JSON.stringify({ok:true,data:{title:document.title,url:location.href}});
})()`
