// Package pipeline runs one portal export end to end: acquire a session,
// pick the tab, reach the report page, apply today's range, wait for the
// table to refresh and download the export through the guard.
package pipeline

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/dgnsrekt/portal_export/internal/browser"
	"github.com/dgnsrekt/portal_export/internal/daterange"
	"github.com/dgnsrekt/portal_export/internal/guard"
	"github.com/dgnsrekt/portal_export/internal/page"
	"github.com/dgnsrekt/portal_export/internal/portals"
	"github.com/dgnsrekt/portal_export/internal/refresh"
)

// Session is the part of *browser.Session the pipeline drives.
type Session interface {
	Active() page.Page
	SelectTab(ctx context.Context, c browser.TabCriteria) (page.Page, error)
	Release() error
}

// Acquirer opens a session for one run.
type Acquirer func(ctx context.Context) (Session, error)

// FromStrategy adapts a browser strategy.
func FromStrategy(s browser.Strategy) Acquirer {
	return func(ctx context.Context) (Session, error) {
		sess, err := s.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return sess, nil
	}
}

// FailureHook observes a failed run while the page is still attached.
type FailureHook func(ctx context.Context, p page.Page, err error)

// Options configures a Pipeline.
type Options struct {
	Acquire   Acquirer
	Capturer  *page.Capturer
	Now       func() time.Time
	Getenv    func(string) string
	OnFailure FailureHook
}

// Pipeline runs exports. It is not safe for concurrent Run calls on the
// same browser; callers serialize runs.
type Pipeline struct {
	opts Options
}

func New(opts Options) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	return &Pipeline{opts: opts}
}

// Result describes a finished run.
type Result struct {
	Portal   string           `json:"portal"`
	Range    *daterange.Range `json:"-"`
	Artifact page.Artifact    `json:"artifact"`
	Refresh  refresh.Outcome  `json:"refresh,omitempty"`
}

// Run executes def. The session is released on every path.
func (pl *Pipeline) Run(ctx context.Context, def portals.Definition) (res Result, err error) {
	res.Portal = def.Name
	if err := def.Validate(); err != nil {
		return res, err
	}
	start := time.Now()
	log := slog.With("portal", def.Name)

	sess, err := pl.opts.Acquire(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		if rerr := sess.Release(); rerr != nil {
			log.Warn("pipeline session release failed", "error", rerr)
		}
	}()

	p := sess.Active()
	if !def.Tab.IsZero() {
		if p, err = sess.SelectTab(ctx, def.Tab); err != nil {
			return res, err
		}
	}
	defer func() {
		if err != nil && p != nil && pl.opts.OnFailure != nil {
			hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			pl.opts.OnFailure(hookCtx, p, err)
		}
	}()

	if err = page.NavigateAndWaitReady(ctx, p, def.URL, def.ReadySelector, def.NavigationTimeout); err != nil {
		return res, err
	}
	log.Info("pipeline page ready", "url", def.URL)

	if err = portals.RunSteps(ctx, p, def.Steps, pl.opts.Getenv); err != nil {
		return res, err
	}

	g := guard.New(def.Guard, pl.opts.Capturer)
	var reselect guard.Reselect
	if def.UsesRange {
		r := daterange.TodayToTomorrow(pl.opts.Now(), daterange.LoadLocation(def.TimeZone))
		res.Range = &r
		picker := daterange.NewController(def.Picker)
		detector := def.Refresh.WithDefaults()

		baseline := detector.Baseline(ctx, p)
		if err = ctx.Err(); err != nil {
			return res, err
		}

		if err = picker.SelectRange(ctx, p, r); err != nil {
			return res, err
		}
		if res.Refresh, err = detector.WaitForRefresh(ctx, p, r, baseline, def.RefreshTimeout); err != nil {
			return res, err
		}
		reselect = func(ctx context.Context) error {
			return picker.SelectRange(ctx, p, r)
		}
	}

	if res.Artifact, err = g.Download(ctx, p, reselect, def.DownloadTimeout); err != nil {
		return res, err
	}
	log.Info("pipeline export done", "path", res.Artifact.Path, "elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}
