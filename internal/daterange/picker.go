package daterange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/page"
	"github.com/dgnsrekt/portal_export/internal/wait"
)

// Widget holds the selectors of a PrimeNG-style range picker.
type Widget struct {
	Input     string `yaml:"input"`
	Dialog    string `yaml:"dialog"`
	DayCell   string `yaml:"day_cell"` // printf template taking the data-date value
	NextMonth string `yaml:"next_month"`

	Settle        time.Duration `yaml:"settle"`
	OpenTimeout   time.Duration `yaml:"open_timeout"`
	CellTimeout   time.Duration `yaml:"cell_timeout"`
	VerifyTimeout time.Duration `yaml:"verify_timeout"`
}

// DefaultWidget matches the fast portal's "Rango de fechas" picker.
func DefaultWidget() Widget {
	return Widget{
		Input:         `p-datepicker input[placeholder*="Rango de fechas"]`,
		Dialog:        `[role="dialog"][aria-label="Choose Date"]`,
		DayCell:       `span.p-datepicker-day[data-date="%s"]`,
		NextMonth:     `button.p-datepicker-next`,
		Settle:        50 * time.Millisecond,
		OpenTimeout:   5 * time.Second,
		CellTimeout:   5 * time.Second,
		VerifyTimeout: 2 * time.Second,
	}
}

func (w Widget) withDefaults() Widget {
	d := DefaultWidget()
	if w.Input == "" {
		w.Input = d.Input
	}
	if w.Dialog == "" {
		w.Dialog = d.Dialog
	}
	if w.DayCell == "" {
		w.DayCell = d.DayCell
	}
	if w.NextMonth == "" {
		w.NextMonth = d.NextMonth
	}
	if w.Settle <= 0 {
		w.Settle = d.Settle
	}
	if w.OpenTimeout <= 0 {
		w.OpenTimeout = d.OpenTimeout
	}
	if w.CellTimeout <= 0 {
		w.CellTimeout = d.CellTimeout
	}
	if w.VerifyTimeout <= 0 {
		w.VerifyTimeout = d.VerifyTimeout
	}
	return w
}

// Controller applies a Range through the picker and verifies the result.
type Controller struct {
	w Widget
}

func NewController(w Widget) *Controller {
	return &Controller{w: w.withDefaults()}
}

// Widget returns the effective selectors.
func (c *Controller) Widget() Widget { return c.w }

// SelectRange opens the picker, clicks the start and end cells (advancing
// one month when they differ) and checks the input reads r.Format().
func (c *Controller) SelectRange(ctx context.Context, p page.Page, r Range) error {
	if r.MonthSteps() < 0 || r.MonthSteps() > 1 || r.End.Before(r.Start) {
		return failure.Newf(failure.CodeValidation, "unsupported range %s", r)
	}
	start := time.Now()

	if err := p.Click(ctx, c.w.Input); err != nil {
		return c.notApplied(ctx, "open range picker", err)
	}
	if err := page.WaitVisible(ctx, p, c.w.Dialog, c.w.OpenTimeout); err != nil {
		return c.notApplied(ctx, "range picker dialog not visible", err)
	}
	if err := wait.Sleep(ctx, c.w.Settle); err != nil {
		return err
	}

	if err := c.clickDay(ctx, p, r.Start); err != nil {
		return c.notApplied(ctx, "select start date", err)
	}
	if r.MonthSteps() == 1 {
		if err := p.Click(ctx, c.w.NextMonth); err != nil {
			return c.notApplied(ctx, "advance to next month", err)
		}
		if err := wait.Sleep(ctx, c.w.Settle); err != nil {
			return err
		}
	}
	if err := c.clickDay(ctx, p, r.End); err != nil {
		return c.notApplied(ctx, "select end date", err)
	}

	want := r.Format()
	var got string
	err := wait.Poll(ctx, page.PollInterval, c.w.VerifyTimeout, func(ctx context.Context) (bool, error) {
		v, err := p.Value(ctx, c.w.Input)
		got = v
		return v == want, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.New(failure.CodeRangeNotApplied, fmt.Sprintf("range input reads %q; want %q", got, want), err)
	}
	slog.Info("daterange applied", "range", want, "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// clickDay clicks the cell for d. The portal has shipped both zero-based
// and one-based month numbering in data-date, so both are tried in order.
func (c *Controller) clickDay(ctx context.Context, p page.Page, d time.Time) error {
	sel := c.cellSelector(zeroBasedDate(d))
	n, err := p.Count(ctx, sel)
	if err != nil {
		return err
	}
	if n == 0 {
		sel = c.cellSelector(oneBasedDate(d))
		slog.Debug("daterange zero-based cell missing, trying one-based", "selector", sel)
	}
	if err := page.WaitVisible(ctx, p, sel, c.w.CellTimeout); err != nil {
		return fmt.Errorf("day cell %s: %w", sel, err)
	}
	return p.Click(ctx, sel)
}

func (c *Controller) cellSelector(dataDate string) string {
	cell := fmt.Sprintf(c.w.DayCell, dataDate)
	if c.w.Dialog == "" {
		return cell
	}
	return c.w.Dialog + " " + cell
}

func (c *Controller) notApplied(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return failure.New(failure.CodeRangeNotApplied, msg, err)
}

func zeroBasedDate(d time.Time) string {
	return fmt.Sprintf("%d-%d-%d", d.Year(), int(d.Month())-1, d.Day())
}

func oneBasedDate(d time.Time) string {
	return fmt.Sprintf("%d-%d-%d", d.Year(), int(d.Month()), d.Day())
}
