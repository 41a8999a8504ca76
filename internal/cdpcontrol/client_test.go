package cdpcontrol

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type cdpEvent struct {
	Method    string
	SessionID string
	Params    any
}

type cdpHandler func(method, sessionID string, params json.RawMessage) (result any, events []cdpEvent)

// fakeBrowser serves /json/version, /json/list and a browser websocket that
// answers every command through handle. It records the methods it saw.
type fakeBrowser struct {
	srv     *httptest.Server
	mu      sync.Mutex
	methods []string
}

func newFakeBrowser(t *testing.T, targets string, handle cdpHandler) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"Browser":              "Chrome/140.0",
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/test",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(targets))
	})
	mux.HandleFunc("/devtools/browser/test", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			for {
				data, err := wsutil.ReadClientText(conn)
				if err != nil {
					return
				}
				var msg struct {
					ID        int64           `json:"id"`
					Method    string          `json:"method"`
					SessionID string          `json:"sessionId"`
					Params    json.RawMessage `json:"params"`
				}
				if err := json.Unmarshal(data, &msg); err != nil {
					return
				}
				fb.mu.Lock()
				fb.methods = append(fb.methods, msg.Method)
				fb.mu.Unlock()

				result, events := handle(msg.Method, msg.SessionID, msg.Params)
				if result == nil {
					result = map[string]any{}
				}
				resp, _ := json.Marshal(map[string]any{"id": msg.ID, "result": result})
				if err := wsutil.WriteServerText(conn, resp); err != nil {
					return
				}
				for _, ev := range events {
					b, _ := json.Marshal(map[string]any{"method": ev.Method, "sessionId": ev.SessionID, "params": ev.Params})
					if err := wsutil.WriteServerText(conn, b); err != nil {
						return
					}
				}
			}
		}()
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) seen() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.methods...)
}

func evalResult(data any) any {
	env, _ := json.Marshal(map[string]any{"ok": true, "data": data})
	return map[string]any{"result": map[string]any{"type": "string", "value": string(env)}}
}

func TestTabDownloadNavigateAndRelease(t *testing.T) {
	dlDir := t.TempDir()
	fb := newFakeBrowser(t, `[]`, func(method, sessionID string, params json.RawMessage) (any, []cdpEvent) {
		switch method {
		case "Target.attachToTarget":
			return map[string]any{"sessionId": "S1"}, nil
		case "Page.navigate":
			return map[string]any{"frameId": "F1"}, []cdpEvent{{Method: "Page.domContentEventFired", SessionID: sessionID, Params: map[string]any{"timestamp": 1}}}
		case "Runtime.evaluate":
			return evalResult(true), nil
		case "Browser.setDownloadBehavior":
			var p struct {
				Behavior     string `json:"behavior"`
				DownloadPath string `json:"downloadPath"`
			}
			_ = json.Unmarshal(params, &p)
			if p.Behavior != "allowAndName" {
				return nil, nil
			}
			_ = os.WriteFile(filepath.Join(p.DownloadPath, "guid-1"), []byte("xlsx"), 0o644)
			return nil, []cdpEvent{
				{Method: "Browser.downloadWillBegin", Params: map[string]any{"frameId": "F1", "guid": "guid-1", "url": "https://portal.example/export", "suggestedFilename": "cotizaciones.xlsx"}},
				{Method: "Browser.downloadProgress", Params: map[string]any{"guid": "guid-1", "totalBytes": 4, "receivedBytes": 4, "state": "completed"}},
			}
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient(fb.srv.URL, time.Second)
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	tab, err := client.Tab(ctx, TabInfo{TargetID: "T1", Title: "Cotizador Vehicular"})
	if err != nil {
		t.Fatalf("Tab() error = %v", err)
	}

	if err := tab.Navigate(ctx, "https://portal.example/fast"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	visible, err := tab.Visible(ctx, "text=RECEPCIÓN DE CLIENTE")
	if err != nil || !visible {
		t.Fatalf("Visible() = %v, %v; want true, nil", visible, err)
	}

	dl, err := tab.ArmDownload(ctx, dlDir)
	if err != nil {
		t.Fatalf("ArmDownload() error = %v", err)
	}
	defer dl.Close()

	name, err := dl.Started(ctx)
	if err != nil {
		t.Fatalf("Started() error = %v", err)
	}
	if name != "cotizaciones.xlsx" {
		t.Fatalf("Started() = %q; want cotizaciones.xlsx", name)
	}
	path, err := dl.Completed(ctx)
	if err != nil {
		t.Fatalf("Completed() error = %v", err)
	}
	if want := filepath.Join(dlDir, "guid-1"); path != want {
		t.Fatalf("Completed() = %q; want %q", path, want)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	methods := fb.seen()
	joined := strings.Join(methods, ",")
	if !strings.Contains(joined, "Target.detachFromTarget") {
		t.Fatalf("methods = %v; want Target.detachFromTarget on close", methods)
	}
	for _, m := range methods {
		if m == "Target.closeTarget" || m == "Browser.close" {
			t.Fatalf("methods = %v; client must not close targets or the browser", methods)
		}
	}
}

func TestDownloadCanceled(t *testing.T) {
	d := &download{dir: t.TempDir(), began: make(chan struct{}), done: make(chan struct{})}
	d.onWillBegin("", json.RawMessage(`{"frameId":"F","guid":"g1","url":"u","suggestedFilename":"a.xlsx"}`))
	d.onProgress("", json.RawMessage(`{"guid":"other","totalBytes":1,"receivedBytes":1,"state":"completed"}`))
	d.onProgress("", json.RawMessage(`{"guid":"g1","totalBytes":1,"receivedBytes":0,"state":"canceled"}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := d.Completed(ctx); err == nil || !strings.Contains(err.Error(), "canceled") {
		t.Fatalf("Completed() error = %v; want canceled state error", err)
	}
}

func TestCleanupLockedLogsDetachFailure(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	client := &Client{
		cdp: newRawCDP("http://example.com"),
		tabs: map[target.ID]*Tab{
			"target-1": {sessionID: "session-1"},
		},
	}
	client.cleanupLocked()

	if !strings.Contains(buf.String(), "detach cleanup failed") {
		t.Fatalf("expected detach cleanup debug log, got %q", buf.String())
	}
	if client.cdp != nil || len(client.tabs) != 0 {
		t.Fatalf("cleanupLocked() left state behind: cdp=%v tabs=%d", client.cdp, len(client.tabs))
	}
}
