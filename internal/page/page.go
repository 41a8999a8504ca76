// Package page defines the browser-tab port used by the export protocol and
// the waits built on top of it: navigation readiness, element visibility and
// download capture.
//
// Selectors are CSS by default. A "text=" prefix matches elements whose
// normalized own text equals the rest of the selector, and an "xpath="
// prefix evaluates an XPath expression.
package page

import (
	"context"
	"time"

	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/wait"
)

// Page is a single document handle inside a browser session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	ScrollIntoView(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	Visible(ctx context.Context, selector string) (bool, error)
	Count(ctx context.Context, selector string) (int, error)
	Value(ctx context.Context, selector string) (string, error)
	Texts(ctx context.Context, selector string) ([]string, error)
	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)

	// ArmDownload starts listening for the next download and directs the
	// browser to stage it inside dir. It must be called before the action
	// that causes the download.
	ArmDownload(ctx context.Context, dir string) (Download, error)
}

// Download is an armed download listener.
type Download interface {
	// Started blocks until the browser reports a download and returns its
	// source-suggested filename.
	Started(ctx context.Context) (string, error)
	// Completed blocks until the download finishes and returns the staged
	// file path.
	Completed(ctx context.Context) (string, error)
	Close()
}

// PollInterval is the default cadence of visibility polls.
var PollInterval = 100 * time.Millisecond

// WaitVisible polls until selector matches a visible element.
func WaitVisible(ctx context.Context, p Page, selector string, timeout time.Duration) error {
	return wait.Poll(ctx, PollInterval, timeout, func(ctx context.Context) (bool, error) {
		return p.Visible(ctx, selector)
	})
}

// WaitHidden polls until no element matching selector is visible.
func WaitHidden(ctx context.Context, p Page, selector string, timeout time.Duration) error {
	return wait.Poll(ctx, PollInterval, timeout, func(ctx context.Context) (bool, error) {
		visible, err := p.Visible(ctx, selector)
		return !visible, err
	})
}

// NavigateAndWaitReady loads url and blocks until the document has been
// parsed and readySelector is visible. Both waits share timeout.
func NavigateAndWaitReady(ctx context.Context, p Page, url, readySelector string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := p.Navigate(navCtx, url); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if navCtx.Err() != nil {
			return failure.New(failure.CodeNavigationTimeout, "document not parsed: "+url, err)
		}
		return failure.New(failure.CodeCDP, "navigate to "+url, err)
	}

	if readySelector == "" {
		return nil
	}
	if err := WaitVisible(navCtx, p, readySelector, time.Until(start.Add(timeout))); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return failure.New(failure.CodeNavigationTimeout, "readiness selector not visible: "+readySelector, err)
	}
	return nil
}
