package browser

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/portal_export/internal/cdpcontrol"
	"github.com/dgnsrekt/portal_export/internal/failure"
)

// TabCriteria selects a tab. Index wins when it is in range; otherwise the
// title and URL substrings are matched case-insensitively. Empty criteria
// select the first tab.
type TabCriteria struct {
	Index         *int   `json:"index,omitempty" yaml:"index,omitempty"`
	TitleContains string `json:"title_contains,omitempty" yaml:"title_contains,omitempty"`
	URLContains   string `json:"url_contains,omitempty" yaml:"url_contains,omitempty"`
}

// IsZero reports whether no criterion is set.
func (c TabCriteria) IsZero() bool {
	return c.Index == nil && c.TitleContains == "" && c.URLContains == ""
}

func (c TabCriteria) String() string {
	var parts []string
	if c.Index != nil {
		parts = append(parts, fmt.Sprintf("index=%d", *c.Index))
	}
	if c.TitleContains != "" {
		parts = append(parts, fmt.Sprintf("title~%q", c.TitleContains))
	}
	if c.URLContains != "" {
		parts = append(parts, fmt.Sprintf("url~%q", c.URLContains))
	}
	if len(parts) == 0 {
		return "first tab"
	}
	return strings.Join(parts, " ")
}

// NoMatchError is the cause attached to TAB_NOT_FOUND failures.
type NoMatchError struct {
	Count    int
	Criteria TabCriteria
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no tab matched %s among %d open tabs", e.Criteria, e.Count)
}

// MatchTab picks a tab from tabs according to c.
func MatchTab(tabs []cdpcontrol.TabInfo, c TabCriteria) (cdpcontrol.TabInfo, error) {
	if c.Index != nil {
		if i := *c.Index; i >= 0 && i < len(tabs) {
			return tabs[i], nil
		}
	}
	if c.IsZero() && len(tabs) > 0 {
		return tabs[0], nil
	}

	title := strings.ToLower(c.TitleContains)
	url := strings.ToLower(c.URLContains)
	if title != "" || url != "" {
		for _, tab := range tabs {
			if title != "" && strings.Contains(strings.ToLower(tab.Title), title) {
				return tab, nil
			}
			if url != "" && strings.Contains(strings.ToLower(tab.URL), url) {
				return tab, nil
			}
		}
	}

	cause := &NoMatchError{Count: len(tabs), Criteria: c}
	return cdpcontrol.TabInfo{}, failure.New(failure.CodeTabNotFound, cause.Error(), cause)
}
