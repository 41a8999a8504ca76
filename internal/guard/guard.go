// Package guard wraps the export click with a range precondition, an
// ordered fallback chain for locating the export control, and a single
// retry when the portal reports that no range was selected.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/portal_export/internal/daterange"
	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/page"
	"github.com/dgnsrekt/portal_export/internal/wait"
)

// Config describes one portal's export control.
type Config struct {
	// RangeInput is read before each click when RequireRange is set.
	RangeInput   string `yaml:"range_input"`
	RequireRange bool   `yaml:"require_range"`

	// ExportChain is tried in order; the first visible match is clicked.
	ExportChain []string `yaml:"export_chain"`

	// Notice is the "no range selected" notification.
	Notice string `yaml:"notice"`

	LocateTimeout time.Duration `yaml:"locate_timeout"`
	NoticeWait    time.Duration `yaml:"notice_wait"`
}

// Reselect re-applies the date range before the retry.
type Reselect func(ctx context.Context) error

// Guard performs guarded downloads.
type Guard struct {
	cfg      Config
	capturer *page.Capturer
}

func New(cfg Config, capturer *page.Capturer) *Guard {
	if cfg.LocateTimeout <= 0 {
		cfg.LocateTimeout = 10 * time.Second
	}
	if cfg.NoticeWait <= 0 {
		cfg.NoticeWait = time.Second
	}
	return &Guard{cfg: cfg, capturer: capturer}
}

// Download clicks the export control and captures the file. At most two
// clicks happen: the retry runs only when the capture failed, the notice was
// seen during or right after the capture, and reselect is non-nil.
func (g *Guard) Download(ctx context.Context, p page.Page, reselect Reselect, timeout time.Duration) (page.Artifact, error) {
	sel, err := g.prepare(ctx, p)
	if err != nil {
		return page.Artifact{}, err
	}
	art, noticed, err := g.capture(ctx, p, sel, timeout)
	if err == nil {
		return art, nil
	}
	if ctx.Err() != nil {
		return page.Artifact{}, ctx.Err()
	}
	if !noticed {
		noticed = g.cfg.Notice != "" && g.noticeVisible(ctx, p)
	}
	if reselect == nil || !noticed {
		return page.Artifact{}, err
	}

	slog.Warn("guard no-range notice after export, reselecting", "error", err)
	if err := reselect(ctx); err != nil {
		return page.Artifact{}, err
	}
	if sel, err = g.prepare(ctx, p); err != nil {
		return page.Artifact{}, err
	}
	art, _, err = g.capture(ctx, p, sel, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return page.Artifact{}, ctx.Err()
		}
		return page.Artifact{}, failure.New(failure.CodeRetryExhausted, "export failed after reselecting the range", err)
	}
	return art, nil
}

// capture clicks sel and waits for the download while watching for the
// notice. A notice that shows up during the wait ends it early: the portal
// rejected the export and no download follows. A notice already on screen
// before the click only counts once it has gone and come back.
func (g *Guard) capture(ctx context.Context, p page.Page, sel string, timeout time.Duration) (page.Artifact, bool, error) {
	target := page.ElementTarget{Selector: sel}
	if g.cfg.Notice == "" {
		art, err := g.capturer.Capture(ctx, p, target, timeout)
		return art, false, err
	}
	stale, _ := p.Visible(ctx, g.cfg.Notice)

	capCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var noticed atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = wait.Poll(capCtx, page.PollInterval, timeout, func(ctx context.Context) (bool, error) {
			ok, err := p.Visible(ctx, g.cfg.Notice)
			if err != nil {
				return false, err
			}
			if stale {
				stale = ok
				return false, nil
			}
			if !ok {
				return false, nil
			}
			noticed.Store(true)
			cancel()
			return true, nil
		})
	}()

	art, err := g.capturer.Capture(capCtx, p, target, timeout)
	cancel()
	<-done
	if err == nil {
		return art, false, nil
	}
	if noticed.Load() && ctx.Err() == nil {
		return page.Artifact{}, true, failure.New(failure.CodeDownloadFailed, "portal reported no range selected", err)
	}
	return page.Artifact{}, false, err
}

// prepare checks the precondition and locates the export control.
func (g *Guard) prepare(ctx context.Context, p page.Page) (string, error) {
	if err := g.checkPrecondition(ctx, p); err != nil {
		return "", err
	}
	return g.locate(ctx, p)
}

func (g *Guard) checkPrecondition(ctx context.Context, p page.Page) error {
	if !g.cfg.RequireRange {
		return nil
	}
	v, err := p.Value(ctx, g.cfg.RangeInput)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.New(failure.CodePreconditionFailed, "read range input", err)
	}
	if !daterange.IsCanonical(v) {
		return failure.Newf(failure.CodePreconditionFailed, "range input reads %q, not a two-date range", v)
	}
	return nil
}

// locate returns the first visible selector of the export chain.
func (g *Guard) locate(ctx context.Context, p page.Page) (string, error) {
	if len(g.cfg.ExportChain) == 0 {
		return "", failure.New(failure.CodeControlNotFound, "empty export selector chain", nil)
	}
	var found string
	err := wait.Poll(ctx, page.PollInterval, g.cfg.LocateTimeout, func(ctx context.Context) (bool, error) {
		var lastErr error
		for _, sel := range g.cfg.ExportChain {
			ok, err := p.Visible(ctx, sel)
			if err != nil {
				lastErr = err
				continue
			}
			if ok {
				found = sel
				return true, nil
			}
		}
		return false, lastErr
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", failure.New(failure.CodeControlNotFound,
			fmt.Sprintf("no export control among [%s]", strings.Join(g.cfg.ExportChain, "; ")), err)
	}
	slog.Debug("guard export control located", "selector", found)
	return found, nil
}

func (g *Guard) noticeVisible(ctx context.Context, p page.Page) bool {
	return page.WaitVisible(ctx, p, g.cfg.Notice, g.cfg.NoticeWait) == nil
}
