package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chromedp/cdproto/browser"
	"github.com/dgnsrekt/portal_export/internal/page"
)

// ArmDownload subscribes to browser download events and switches the
// browser to save downloads under dir, named by their GUID. The first
// download that begins after arming is the one reported.
func (t *Tab) ArmDownload(ctx context.Context, dir string) (page.Download, error) {
	raw, err := t.client.raw()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve download dir: %w", err)
	}

	d := &download{
		dir:   abs,
		began: make(chan struct{}),
		done:  make(chan struct{}),
	}
	d.unregister = append(d.unregister,
		raw.registerEventHandler("Browser.downloadWillBegin", d.onWillBegin),
		raw.registerEventHandler("Browser.downloadProgress", d.onProgress),
	)

	if err := raw.setDownloadBehavior(ctx, browser.SetDownloadBehaviorBehaviorAllowAndName, abs); err != nil {
		d.Close()
		return nil, fmt.Errorf("set download behavior: %w", err)
	}
	t.client.markDownloadsChanged()
	slog.Debug("cdpcontrol download armed", "target_id", t.info.TargetID, "dir", abs)
	return d, nil
}

type download struct {
	dir        string
	unregister []func()

	mu        sync.Mutex
	guid      string
	suggested string
	state     browser.DownloadProgressState
	filePath  string
	began     chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (d *download) onWillBegin(_ string, params json.RawMessage) {
	var ev browser.EventDownloadWillBegin
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Debug("cdpcontrol bad downloadWillBegin", "error", err)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.guid != "" {
		return
	}
	d.guid = ev.GUID
	d.suggested = ev.SuggestedFilename
	slog.Debug("cdpcontrol download began", "guid", ev.GUID, "suggested_filename", ev.SuggestedFilename, "url", ev.URL)
	close(d.began)
}

func (d *download) onProgress(_ string, params json.RawMessage) {
	var ev browser.EventDownloadProgress
	if err := json.Unmarshal(params, &ev); err != nil {
		slog.Debug("cdpcontrol bad downloadProgress", "error", err)
		return
	}
	if ev.State == browser.DownloadProgressStateInProgress {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.guid == "" || ev.GUID != d.guid || d.state != "" {
		return
	}
	d.state = ev.State
	d.filePath = ev.FilePath
	close(d.done)
}

func (d *download) Started(ctx context.Context) (string, error) {
	select {
	case <-d.began:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.suggested, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (d *download) Completed(ctx context.Context) (string, error) {
	select {
	case <-d.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != browser.DownloadProgressStateCompleted {
		return "", fmt.Errorf("download %s ended in state %q", d.guid, d.state)
	}
	for _, candidate := range []string{d.filePath, filepath.Join(d.dir, d.guid)} {
		if candidate == "" {
			continue
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("download %s completed but no file found in %s", d.guid, d.dir)
}

func (d *download) Close() {
	d.closeOnce.Do(func() {
		for _, fn := range d.unregister {
			fn()
		}
	})
}
