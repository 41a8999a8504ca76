package cdpcontrol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/portal_export/internal/page"
	"github.com/dgnsrekt/portal_export/internal/wait"
)

// actionableWindow bounds how long Click and Fill wait for an element that
// exists but is hidden or covered.
const actionableWindow = 2 * time.Second

// Tab drives one page target over a flat CDP session.
type Tab struct {
	client    *Client
	info      TabInfo
	sessionID string
}

var _ page.Page = (*Tab)(nil)

// Info returns the target metadata captured when the tab was attached.
func (t *Tab) Info() TabInfo { return t.info }

// evalError is a structured failure reported by page-side JS.
type evalError struct {
	Code    string
	Message string
}

func (e *evalError) Error() string { return e.Code + ": " + e.Message }

func (t *Tab) eval(ctx context.Context, js string, out any) error {
	raw, err := t.client.raw()
	if err != nil {
		return err
	}

	evalCtx, cancel := context.WithTimeout(ctx, t.client.evalTimeout)
	defer cancel()

	res, err := raw.evaluate(evalCtx, t.sessionID, js)
	if err != nil {
		slog.Debug("cdpcontrol eval failed", "target_id", t.info.TargetID, "error", err)
		return fmt.Errorf("evaluate on %s: %w", t.info.TargetID, err)
	}

	var env evalEnvelope
	if err := json.Unmarshal([]byte(res), &env); err != nil {
		return fmt.Errorf("invalid evaluation envelope: %w", err)
	}
	if !env.OK {
		code := env.ErrorCode
		if code == "" {
			code = errCodeEval
		}
		return &evalError{Code: code, Message: env.ErrorMessage}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("invalid evaluation data: %w", err)
	}
	return nil
}

// Navigate loads url and returns once DOMContentLoaded fires for the tab.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	raw, err := t.client.raw()
	if err != nil {
		return err
	}

	parsed := make(chan struct{}, 1)
	unregister := raw.registerEventHandler("Page.domContentEventFired", func(sessionID string, _ json.RawMessage) {
		if sessionID != t.sessionID {
			return
		}
		select {
		case parsed <- struct{}{}:
		default:
		}
	})
	defer unregister()

	slog.Debug("cdpcontrol navigate", "target_id", t.info.TargetID, "url", url)
	if err := raw.navigate(ctx, t.sessionID, url); err != nil {
		return err
	}

	select {
	case <-parsed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Click waits briefly for the element to be actionable, then sends a
// trusted mouse click at its center.
func (t *Tab) Click(ctx context.Context, selector string) error {
	var pt struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := t.whenActionable(ctx, selector, jsClickPoint(selector), &pt); err != nil {
		return err
	}

	raw, err := t.client.raw()
	if err != nil {
		return err
	}
	slog.Debug("cdpcontrol click", "target_id", t.info.TargetID, "selector", selector, "x", pt.X, "y", pt.Y)
	return raw.dispatchMouseClick(ctx, t.sessionID, pt.X, pt.Y)
}

func (t *Tab) ScrollIntoView(ctx context.Context, selector string) error {
	return t.eval(ctx, jsScrollIntoView(selector), nil)
}

// Fill focuses the element, selects its content and types text over it.
func (t *Tab) Fill(ctx context.Context, selector, text string) error {
	if err := t.whenActionable(ctx, selector, jsFocusForFill(selector), nil); err != nil {
		return err
	}
	raw, err := t.client.raw()
	if err != nil {
		return err
	}
	return raw.insertText(ctx, t.sessionID, text)
}

func (t *Tab) whenActionable(ctx context.Context, selector, js string, out any) error {
	err := wait.Poll(ctx, page.PollInterval, actionableWindow, func(ctx context.Context) (bool, error) {
		err := t.eval(ctx, js, out)
		return err == nil, err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", selector, err)
	}
	return nil
}

func (t *Tab) Visible(ctx context.Context, selector string) (bool, error) {
	var out bool
	err := t.eval(ctx, jsVisible(selector), &out)
	return out, err
}

func (t *Tab) Count(ctx context.Context, selector string) (int, error) {
	var out int
	err := t.eval(ctx, jsCount(selector), &out)
	return out, err
}

func (t *Tab) Value(ctx context.Context, selector string) (string, error) {
	var out string
	err := t.eval(ctx, jsValue(selector), &out)
	return out, err
}

func (t *Tab) Texts(ctx context.Context, selector string) ([]string, error) {
	var out []string
	err := t.eval(ctx, jsTexts(selector), &out)
	return out, err
}

type documentInfo struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

func (t *Tab) Title(ctx context.Context) (string, error) {
	var out documentInfo
	err := t.eval(ctx, jsDocumentInfo, &out)
	return out.Title, err
}

func (t *Tab) URL(ctx context.Context) (string, error) {
	var out documentInfo
	err := t.eval(ctx, jsDocumentInfo, &out)
	return out.URL, err
}

func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	raw, err := t.client.raw()
	if err != nil {
		return nil, err
	}
	data, err := raw.captureScreenshot(ctx, t.sessionID)
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(data)
}
