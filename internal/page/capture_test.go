package page_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/page"
	"github.com/dgnsrekt/portal_export/internal/page/pagetest"
)

const exportButton = `xpath=//button[contains(normalize-space(.), "Exportar")]`

func newCapturer(t *testing.T) *page.Capturer {
	t.Helper()
	c, err := page.NewCapturer(t.TempDir())
	if err != nil {
		t.Fatalf("NewCapturer() error = %v", err)
	}
	return c
}

func TestCaptureArmsListenerBeforeClick(t *testing.T) {
	f := pagetest.New()
	f.Set(exportButton, pagetest.Element{Visible: true})
	f.QueueDownload(pagetest.DownloadPlan{SuggestedFilename: "cotizaciones.xlsx", Content: []byte("xlsx")})

	c := newCapturer(t)
	art, err := c.Capture(context.Background(), f, page.ElementTarget{Selector: exportButton}, time.Second)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	events := f.Events()
	armAt, clickAt := -1, -1
	for i, e := range events {
		switch e {
		case "arm":
			armAt = i
		case "click:" + exportButton:
			clickAt = i
		}
	}
	if armAt < 0 || clickAt < 0 || armAt > clickAt {
		t.Fatalf("events = %v; want arm before click", events)
	}

	want := filepath.Join(c.Dir(), "cotizaciones.xlsx")
	if art.Path != want {
		t.Fatalf("artifact path = %q; want %q", art.Path, want)
	}
	if art.SuggestedFilename != "cotizaciones.xlsx" {
		t.Fatalf("suggested filename = %q; want cotizaciones.xlsx", art.SuggestedFilename)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "xlsx" {
		t.Fatalf("artifact content = %q; want %q", data, "xlsx")
	}
}

func TestCaptureOverwritesPreviousArtifact(t *testing.T) {
	f := pagetest.New()
	f.Set(exportButton, pagetest.Element{Visible: true})
	c := newCapturer(t)

	old := filepath.Join(c.Dir(), "report.csv")
	if err := os.WriteFile(old, []byte("old"), 0o644); err != nil {
		t.Fatalf("write old artifact: %v", err)
	}
	f.QueueDownload(pagetest.DownloadPlan{SuggestedFilename: "report.csv", Content: []byte("new")})

	if _, err := c.Capture(context.Background(), f, page.ElementTarget{Selector: exportButton}, time.Second); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	data, err := os.ReadFile(old)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "new" {
		t.Fatalf("artifact content = %q; want %q", data, "new")
	}
}

func TestCaptureActionTarget(t *testing.T) {
	f := pagetest.New()
	f.QueueDownload(pagetest.DownloadPlan{SuggestedFilename: "../../escape.xlsx", Content: []byte("x")})
	c := newCapturer(t)

	trigger := page.ActionTarget{Name: "menu export", Do: func(ctx context.Context) error {
		f.FireDownload()
		return nil
	}}
	art, err := c.Capture(context.Background(), f, trigger, time.Second)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if want := filepath.Join(c.Dir(), "escape.xlsx"); art.Path != want {
		t.Fatalf("artifact path = %q; want %q", art.Path, want)
	}
	if got := f.Events(); len(got) < 2 || got[0] != "arm" || got[1] != "fire" {
		t.Fatalf("events = %v; want arm then fire", got)
	}
}

func TestCaptureTimesOutWithoutDownload(t *testing.T) {
	f := pagetest.New()
	f.Set(exportButton, pagetest.Element{Visible: true})
	c := newCapturer(t)

	_, err := c.Capture(context.Background(), f, page.ElementTarget{Selector: exportButton}, 50*time.Millisecond)
	if got := failure.CodeOf(err); got != failure.CodeDownloadTimeout {
		t.Fatalf("Capture() code = %q (%v); want %q", got, err, failure.CodeDownloadTimeout)
	}
}

func TestCaptureFailedDownload(t *testing.T) {
	f := pagetest.New()
	f.Set(exportButton, pagetest.Element{Visible: true})
	f.QueueDownload(pagetest.DownloadPlan{SuggestedFilename: "x.xlsx", Err: pagetest.ErrCanceled})
	c := newCapturer(t)

	_, err := c.Capture(context.Background(), f, page.ElementTarget{Selector: exportButton}, time.Second)
	if got := failure.CodeOf(err); got != failure.CodeDownloadFailed {
		t.Fatalf("Capture() code = %q; want %q", got, failure.CodeDownloadFailed)
	}
	if !errors.Is(err, pagetest.ErrCanceled) {
		t.Fatalf("Capture() error = %v; want wrapped ErrCanceled", err)
	}
}

func TestNavigateAndWaitReady(t *testing.T) {
	f := pagetest.New()
	f.OnNavigate(func(f *pagetest.Fake, url string) error {
		f.Set(`text=RECEPCIÓN DE CLIENTE`, pagetest.Element{Visible: true})
		return nil
	})

	err := page.NavigateAndWaitReady(context.Background(), f, "https://portal.example/fast", `text=RECEPCIÓN DE CLIENTE`, time.Second)
	if err != nil {
		t.Fatalf("NavigateAndWaitReady() error = %v", err)
	}
}

func TestNavigateAndWaitReadyTimeout(t *testing.T) {
	f := pagetest.New()
	err := page.NavigateAndWaitReady(context.Background(), f, "https://portal.example/fast", "#never", 50*time.Millisecond)
	if got := failure.CodeOf(err); got != failure.CodeNavigationTimeout {
		t.Fatalf("NavigateAndWaitReady() code = %q; want %q", got, failure.CodeNavigationTimeout)
	}
}
