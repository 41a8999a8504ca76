package cdpcontrol

import "encoding/json"

const (
	errCodeNoElement  = "NO_ELEMENT"
	errCodeNotVisible = "NOT_VISIBLE"
	errCodeEval       = "EVAL_FAILURE"
)

// TabInfo describes a page target of the browser.
type TabInfo struct {
	Index    int    `json:"index"`
	TargetID string `json:"target_id"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

type evalEnvelope struct {
	OK           bool            `json:"ok"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
