// Package notify posts plain-text run summaries to an ntfy-style endpoint.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/portal_export/internal/runlog"
)

// Summary renders a one-paragraph message for a finished run.
func Summary(rec runlog.Record) string {
	var b strings.Builder
	if rec.Status == runlog.StatusOK {
		fmt.Fprintf(&b, "Export %s succeeded", rec.Portal)
	} else {
		fmt.Fprintf(&b, "Export %s failed", rec.Portal)
	}
	if rec.Range != "" {
		fmt.Fprintf(&b, " for %s", rec.Range)
	}
	if rec.Status == runlog.StatusOK {
		if rec.SuggestedFilename != "" {
			fmt.Fprintf(&b, ": %s", rec.SuggestedFilename)
		}
		if rec.Table != "" {
			fmt.Fprintf(&b, ", %d rows into %s", rec.RowsIngested, rec.Table)
		}
	} else {
		fmt.Fprintf(&b, ": [%s] %s", rec.ErrorCode, rec.Error)
	}
	fmt.Fprintf(&b, " (run %s, %s)", rec.ID, rec.FinishedAt.Sub(rec.StartedAt).Round(100 * time.Millisecond))
	return b.String()
}

// SendRun sends the summary of rec to endpoint.
func SendRun(ctx context.Context, client *http.Client, endpoint string, rec runlog.Record) error {
	return Send(ctx, client, endpoint, Summary(rec))
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("notification endpoint is empty")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
