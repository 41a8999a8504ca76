package cdpcontrol

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/portal_export/internal/failure"
)

// Client owns one browser-level CDP connection and the flat sessions it has
// attached to page targets.
type Client struct {
	cdpURL      string
	evalTimeout time.Duration

	mu               sync.Mutex
	cdp              *rawCDP
	tabs             map[target.ID]*Tab
	downloadsChanged bool
}

func NewClient(cdpURL string, evalTimeout time.Duration) *Client {
	if evalTimeout <= 0 {
		evalTimeout = 5 * time.Second
	}
	return &Client{
		cdpURL:      cdpURL,
		evalTimeout: evalTimeout,
		tabs:        make(map[target.ID]*Tab),
	}
}

// URL returns the remote-debugging HTTP endpoint.
func (c *Client) URL() string { return c.cdpURL }

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cdpURL == "" {
		return failure.New(failure.CodeCDP, "missing CDP URL", nil)
	}
	if c.cdp != nil && c.cdp.connected() {
		return nil
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cdp = newRawCDP(c.cdpURL)
	if err := c.cdp.connect(ctx); err != nil {
		c.cdp = nil
		return failure.New(failure.CodeCDP, "connect to CDP failed", err)
	}
	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL)
	return nil
}

// Close detaches every session this client attached and drops the
// connection. Targets are never closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	if c.cdp == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if c.downloadsChanged {
		if err := c.cdp.setDownloadBehavior(ctx, browser.SetDownloadBehaviorBehaviorDefault, ""); err != nil {
			slog.Debug("cdpcontrol download behavior reset failed", "error", err)
		}
		c.downloadsChanged = false
	}
	for id, tab := range c.tabs {
		if err := c.cdp.detachFromTarget(ctx, tab.sessionID); err != nil {
			slog.Debug("cdpcontrol detach cleanup failed", "target_id", string(id), "error", err)
		}
	}
	c.cdp.close()
	c.cdp = nil
	c.tabs = make(map[target.ID]*Tab)
}

// ListTabs returns the browser's page targets.
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	tabs, err := ListTabs(ctx, c.cdpURL)
	if err != nil {
		return nil, failure.New(failure.CodeCDP, "list tabs failed", err)
	}
	slog.Debug("cdpcontrol list tabs", "count", len(tabs))
	return tabs, nil
}

// Tab returns a driver for the target, attaching a session on first use.
func (c *Client) Tab(ctx context.Context, info TabInfo) (*Tab, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cdp == nil {
		return nil, failure.New(failure.CodeCDP, "CDP client not connected", nil)
	}
	id := target.ID(info.TargetID)
	if tab, ok := c.tabs[id]; ok {
		tab.info = info
		return tab, nil
	}

	sessionID, err := c.cdp.attachToTarget(ctx, info.TargetID)
	if err != nil {
		return nil, failure.New(failure.CodeCDP, "attach to tab failed", err)
	}
	if err := c.cdp.enablePageDomain(ctx, sessionID); err != nil {
		if detachErr := c.cdp.detachFromTarget(ctx, sessionID); detachErr != nil {
			slog.Debug("cdpcontrol detach after failed enable", "error", detachErr)
		}
		return nil, failure.New(failure.CodeCDP, "enable page domain failed", err)
	}

	tab := &Tab{client: c, info: info, sessionID: sessionID}
	c.tabs[id] = tab
	slog.Debug("cdpcontrol tab attached", "target_id", info.TargetID, "title", info.Title)
	return tab, nil
}

// Activate brings the tab to the foreground.
func (c *Client) Activate(ctx context.Context, targetID string) error {
	raw, err := c.raw()
	if err != nil {
		return err
	}
	if err := raw.activateTarget(ctx, targetID); err != nil {
		return failure.New(failure.CodeCDP, "activate tab failed", err)
	}
	return nil
}

func (c *Client) raw() (*rawCDP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil, failure.New(failure.CodeCDP, "CDP client not connected", nil)
	}
	return c.cdp, nil
}

func (c *Client) markDownloadsChanged() {
	c.mu.Lock()
	c.downloadsChanged = true
	c.mu.Unlock()
}
