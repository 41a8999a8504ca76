package page

import (
	"context"
	"fmt"
	"time"

	"github.com/dgnsrekt/portal_export/internal/failure"
)

// Trigger is whatever causes the browser to start a download. It is either
// an ElementTarget or an ActionTarget.
type Trigger interface {
	fire(ctx context.Context, p Page, timeout time.Duration) error
	String() string
}

// ElementTarget waits for the element to be visible, scrolls it into view
// and clicks it.
type ElementTarget struct {
	Selector string
}

func (t ElementTarget) fire(ctx context.Context, p Page, timeout time.Duration) error {
	if err := WaitVisible(ctx, p, t.Selector, timeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.New(failure.CodeControlNotFound, "download control not visible: "+t.Selector, err)
	}
	if err := p.ScrollIntoView(ctx, t.Selector); err != nil {
		return fmt.Errorf("scroll %s into view: %w", t.Selector, err)
	}
	if err := p.Click(ctx, t.Selector); err != nil {
		return fmt.Errorf("click %s: %w", t.Selector, err)
	}
	return nil
}

func (t ElementTarget) String() string { return "element " + t.Selector }

// ActionTarget runs an arbitrary action, e.g. a keyboard shortcut or a
// multi-step menu interaction.
type ActionTarget struct {
	Name string
	Do   func(ctx context.Context) error
}

func (t ActionTarget) fire(ctx context.Context, _ Page, _ time.Duration) error {
	if t.Do == nil {
		return failure.Newf(failure.CodeValidation, "action %q has no function", t.Name)
	}
	return t.Do(ctx)
}

func (t ActionTarget) String() string { return "action " + t.Name }
