package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
)

// VersionInfo is the browser's /json/version document.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Version probes the remote-debugging HTTP endpoint.
func Version(ctx context.Context, httpBase string) (VersionInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, err := getJSON(ctx, strings.TrimRight(httpBase, "/")+"/json/version")
	if err != nil {
		return VersionInfo{}, err
	}
	var info VersionInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return VersionInfo{}, fmt.Errorf("decode /json/version: %w", err)
	}
	if info.WebSocketDebuggerURL == "" {
		return VersionInfo{}, fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info, nil
}

// ListTabs returns the page targets of the browser, in the order the
// browser reports them.
func ListTabs(ctx context.Context, httpBase string) ([]TabInfo, error) {
	infos, err := listTargets(ctx, httpBase)
	if err != nil {
		return nil, err
	}
	tabs := make([]TabInfo, 0, len(infos))
	for _, ti := range infos {
		if ti.Type != "page" {
			continue
		}
		tabs = append(tabs, TabInfo{
			Index:    len(tabs),
			TargetID: string(ti.TargetID),
			Title:    ti.Title,
			URL:      ti.URL,
		})
	}
	return tabs, nil
}

// listTargets fetches open targets via the HTTP /json/list endpoint.
func listTargets(ctx context.Context, httpBase string) ([]*target.Info, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body, err := getJSON(listCtx, strings.TrimRight(httpBase, "/")+"/json/list")
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode /json/list: %w", err)
	}

	out := make([]*target.Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, &target.Info{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

func getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	path := req.URL.Path
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
