package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgnsrekt/portal_export/internal/cdpcontrol"
	"github.com/dgnsrekt/portal_export/internal/failure"
)

// Attach connects to a browser that is already running with remote
// debugging enabled. The browser and its tabs belong to the user; release
// only detaches.
type Attach struct {
	CDPURL      string
	EvalTimeout time.Duration
}

func (a *Attach) Name() string { return "attach" }

func (a *Attach) Acquire(ctx context.Context) (*Session, error) {
	client := cdpcontrol.NewClient(a.CDPURL, a.EvalTimeout)
	if err := client.Connect(ctx); err != nil {
		return nil, failure.New(failure.CodeAttachFailed, "remote-debugging endpoint unreachable at "+a.CDPURL, err)
	}

	tabs, err := client.ListTabs(ctx)
	if err != nil {
		_ = client.Close()
		return nil, failure.New(failure.CodeAttachFailed, "list tabs at "+a.CDPURL, err)
	}
	if len(tabs) == 0 {
		_ = client.Close()
		return nil, failure.New(failure.CodeAttachFailed, "browser at "+a.CDPURL+" has no open tabs", nil)
	}

	tab, err := client.Tab(ctx, tabs[0])
	if err != nil {
		_ = client.Close()
		return nil, failure.New(failure.CodeAttachFailed, "attach to first tab", err)
	}
	slog.Info("browser attached", "cdp_url", a.CDPURL, "tabs", len(tabs), "target_id", tabs[0].TargetID)
	return newSession(a.Name(), client, tab, client.Close), nil
}
