package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dgnsrekt/portal_export/internal/cdpcontrol"
	"github.com/dgnsrekt/portal_export/internal/controller"
	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/runlog"
	"github.com/dgnsrekt/portal_export/internal/snapshot"
)

type stubService struct {
	exportErr  error
	lastPortal string
	lastOpts   controller.RunOptions
	runs       []runlog.Record
}

func (s *stubService) Portals() []string { return []string{"classic", "fast"} }

func (s *stubService) Export(ctx context.Context, portal string, opts controller.RunOptions) (runlog.Record, error) {
	s.lastPortal, s.lastOpts = portal, opts
	if s.exportErr != nil {
		return runlog.Record{}, s.exportErr
	}
	return runlog.Record{ID: "run-1", Portal: portal, Status: runlog.StatusOK, SuggestedFilename: "cotizaciones.xlsx"}, nil
}

func (s *stubService) Runs(portal string, limit int) []runlog.Record { return s.runs }

func (s *stubService) ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	return []cdpcontrol.TabInfo{{Index: 0, TargetID: "A", Title: "Cotizador Vehicular", URL: "https://fast.example/"}}, nil
}

func (s *stubService) Evidence(portal string) ([]snapshot.Meta, error) { return nil, nil }

func (s *stubService) EvidenceImage(id string) ([]byte, string, error) {
	if id != "123e4567-e89b-12d3-a456-426614174000" {
		return nil, "", failure.Newf(failure.CodeNotFound, "evidence not found: %s", id)
	}
	return []byte("\x89PNG"), "png", nil
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsListsPortalRoutes(t *testing.T) {
	w := serve(t, NewServer(&stubService{}), http.MethodGet, "/docs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{"/openapi.json", "POST /api/v1/exports/classic", "POST /api/v1/exports/fast"} {
		if !strings.Contains(body, want) {
			t.Fatalf("docs page missing %q", want)
		}
	}
}

func TestHealthListsPortals(t *testing.T) {
	w := serve(t, NewServer(&stubService{}), http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Status  string   `json:"status"`
		Portals []string `json:"portals"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "ok" || len(body.Portals) != 2 {
		t.Fatalf("health = %+v; want ok with two portals", body)
	}
}

func TestRunExport(t *testing.T) {
	svc := &stubService{}
	h := NewServer(svc)

	w := serve(t, h, http.MethodPost, "/api/v1/exports/fast")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusOK, w.Body.String())
	}
	var rec runlog.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if rec.ID != "run-1" || svc.lastPortal != "fast" || !svc.lastOpts.Ingest {
		t.Fatalf("export = %+v portal=%q opts=%+v; want run-1 for fast with ingest", rec, svc.lastPortal, svc.lastOpts)
	}

	serve(t, h, http.MethodPost, "/api/v1/exports/classic?ingest=false")
	if svc.lastOpts.Ingest {
		t.Fatalf("ingest=false was not passed through")
	}
}

func TestRunExportMapsErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{failure.Newf(failure.CodeBusy, "another export is running"), http.StatusConflict},
		{failure.Newf(failure.CodeRateLimited, "slow down"), http.StatusTooManyRequests},
		{failure.Newf(failure.CodeNotFound, "unknown portal"), http.StatusNotFound},
		{failure.Newf(failure.CodeTabNotFound, "no tab"), http.StatusNotFound},
		{failure.Newf(failure.CodeDownloadTimeout, "no download"), http.StatusGatewayTimeout},
		{failure.Newf(failure.CodeAttachFailed, "no browser"), http.StatusBadGateway},
		{failure.Newf(failure.CodePreconditionFailed, "range empty"), http.StatusUnprocessableEntity},
		{failure.Newf(failure.CodeRetryExhausted, "twice"), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := serve(t, NewServer(&stubService{exportErr: tt.err}), http.MethodPost, "/api/v1/exports/fast")
		if w.Code != tt.want {
			t.Fatalf("Export error %v: status = %d, want %d", tt.err, w.Code, tt.want)
		}
	}
}

func TestListRunsNeverNull(t *testing.T) {
	w := serve(t, NewServer(&stubService{}), http.MethodGet, "/api/v1/runs?limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"runs":[]`) {
		t.Fatalf("runs body = %s; want empty array", w.Body.String())
	}
}

func TestListTabs(t *testing.T) {
	w := serve(t, NewServer(&stubService{}), http.MethodGet, "/api/v1/tabs")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Cotizador Vehicular") {
		t.Fatalf("tabs = %d %s", w.Code, w.Body.String())
	}
}

func TestEvidenceImage(t *testing.T) {
	h := NewServer(&stubService{})
	w := serve(t, h, http.MethodGet, "/api/v1/evidence/123e4567-e89b-12d3-a456-426614174000/image")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("content-type = %q; want image/png", got)
	}
	if w.Body.String() != "\x89PNG" {
		t.Fatalf("body = %q", w.Body.String())
	}

	if w := serve(t, h, http.MethodGet, "/api/v1/evidence/nope/image"); w.Code != http.StatusNotFound {
		t.Fatalf("missing evidence status = %d, want 404", w.Code)
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	h := NewServer(&stubService{exportErr: errors.New("boom")})
	serve(t, h, http.MethodGet, "/health")
	if strings.Contains(buf.String(), "path=/health") {
		t.Fatalf("health probe logged at info: %q", buf.String())
	}
	serve(t, h, http.MethodPost, "/api/v1/exports/fast")
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "status=500") {
		t.Fatalf("server error not logged at warn: %q", buf.String())
	}
}
