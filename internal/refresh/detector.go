package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/portal_export/internal/daterange"
	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/page"
	"github.com/dgnsrekt/portal_export/internal/wait"
)

// Detector confirms a table refresh after a range selection.
type Detector struct {
	Input   string `yaml:"input"`
	Dialog  string `yaml:"dialog"`
	Overlay string `yaml:"overlay"`
	Table   Table  `yaml:"table"`

	DialogTimeout       time.Duration `yaml:"dialog_timeout"`
	OverlayGrace        time.Duration `yaml:"overlay_grace"`
	RangePollInterval   time.Duration `yaml:"range_poll_interval"`
	ContentPollInterval time.Duration `yaml:"content_poll_interval"`
	BaselineTimeout     time.Duration `yaml:"baseline_timeout"`
}

// DefaultDetector matches the fast portal.
func DefaultDetector() Detector {
	w := daterange.DefaultWidget()
	return Detector{
		Input:               w.Input,
		Dialog:              w.Dialog,
		Overlay:             ".p-datatable-loading-overlay, .p-datatable-loading-icon",
		Table:               DefaultTable(),
		DialogTimeout:       3 * time.Second,
		OverlayGrace:        1500 * time.Millisecond,
		RangePollInterval:   250 * time.Millisecond,
		ContentPollInterval: 300 * time.Millisecond,
		BaselineTimeout:     5 * time.Second,
	}
}

// WithDefaults fills unset fields from DefaultDetector.
func (d Detector) WithDefaults() Detector {
	def := DefaultDetector()
	if d.Input == "" {
		d.Input = def.Input
	}
	if d.Dialog == "" {
		d.Dialog = def.Dialog
	}
	if d.Overlay == "" {
		d.Overlay = def.Overlay
	}
	if d.Table.Rows == "" {
		d.Table.Rows = def.Table.Rows
	}
	if d.Table.ColumnA == "" {
		d.Table.ColumnA = def.Table.ColumnA
	}
	if d.Table.ColumnB == "" {
		d.Table.ColumnB = def.Table.ColumnB
	}
	if d.Table.Limit <= 0 {
		d.Table.Limit = def.Table.Limit
	}
	if d.DialogTimeout <= 0 {
		d.DialogTimeout = def.DialogTimeout
	}
	if d.OverlayGrace <= 0 {
		d.OverlayGrace = def.OverlayGrace
	}
	if d.RangePollInterval <= 0 {
		d.RangePollInterval = def.RangePollInterval
	}
	if d.ContentPollInterval <= 0 {
		d.ContentPollInterval = def.ContentPollInterval
	}
	if d.BaselineTimeout <= 0 {
		d.BaselineTimeout = def.BaselineTimeout
	}
	return d
}

// Outcome reports which signal confirmed the refresh.
type Outcome string

const (
	ViaOverlay     Outcome = "overlay"
	ViaFingerprint Outcome = "fingerprint"
)

// Baseline fingerprints the table before a range is applied. It waits up to
// BaselineTimeout for the first row and returns nil when the table stays
// empty, so an unloaded table is never compared against its first render.
func (d Detector) Baseline(ctx context.Context, p page.Page) *Fingerprint {
	if err := wait.Poll(ctx, page.PollInterval, d.BaselineTimeout, func(ctx context.Context) (bool, error) {
		n, err := p.Count(ctx, d.Table.Rows)
		return n > 0, err
	}); err != nil {
		slog.Debug("refresh baseline skipped, table has no rows", "error", err)
		return nil
	}
	fp, err := d.Table.Compute(ctx, p)
	if err != nil || fp.Rows == 0 {
		slog.Debug("refresh baseline skipped", "rows", fp.Rows, "error", err)
		return nil
	}
	return &fp
}

// WaitForRefresh blocks until the range input reads expected and the table
// has reloaded. baseline is the fingerprint taken before the range was
// applied; when nil or empty it is computed once the first row is present.
func (d Detector) WaitForRefresh(ctx context.Context, p page.Page, expected daterange.Range, baseline *Fingerprint, timeout time.Duration) (Outcome, error) {
	start := time.Now()

	if err := page.WaitHidden(ctx, p, d.Dialog, d.DialogTimeout); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Debug("refresh picker dialog still visible, continuing", "error", err)
	}

	want := expected.Format()
	var got string
	err := wait.Poll(ctx, d.RangePollInterval, timeout, func(ctx context.Context) (bool, error) {
		v, err := p.Value(ctx, d.Input)
		got = v
		return v == want, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", failure.New(failure.CodeRangeMismatch, fmt.Sprintf("range input reads %q; want %q", got, want), err)
	}

	if err := page.WaitVisible(ctx, p, d.Overlay, d.OverlayGrace); err == nil {
		if err := page.WaitHidden(ctx, p, d.Overlay, timeout); err == nil {
			slog.Info("refresh confirmed", "via", ViaOverlay, "elapsed_ms", time.Since(start).Milliseconds())
			return ViaOverlay, nil
		}
		slog.Debug("refresh overlay did not clear, falling back to fingerprint")
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	if err := wait.Poll(ctx, page.PollInterval, timeout, func(ctx context.Context) (bool, error) {
		n, err := p.Count(ctx, d.Table.Rows)
		return n > 0, err
	}); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", failure.New(failure.CodeStaleContent, "result table has no rows", err)
	}

	var base Fingerprint
	if baseline != nil && baseline.Rows > 0 {
		base = *baseline
	} else {
		fp, err := d.Table.Compute(ctx, p)
		if err != nil {
			return "", failure.New(failure.CodeStaleContent, "compute baseline fingerprint", err)
		}
		base = fp
	}

	var current Fingerprint
	err = wait.Poll(ctx, d.ContentPollInterval, timeout, func(ctx context.Context) (bool, error) {
		fp, err := d.Table.Compute(ctx, p)
		current = fp
		return err == nil && !fp.Equal(base), err
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", failure.New(failure.CodeStaleContent, fmt.Sprintf("table fingerprint still %s", current), err)
	}
	slog.Info("refresh confirmed", "via", ViaFingerprint, "baseline", base.String(), "current", current.String(), "elapsed_ms", time.Since(start).Milliseconds())
	return ViaFingerprint, nil
}
