// Package controller orchestrates export runs for the CLI and the HTTP API.
// It serializes runs, records them, stores failure evidence and ingests
// successful artifacts.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/portal_export/internal/cdpcontrol"
	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/notify"
	"github.com/dgnsrekt/portal_export/internal/page"
	"github.com/dgnsrekt/portal_export/internal/pipeline"
	"github.com/dgnsrekt/portal_export/internal/portals"
	"github.com/dgnsrekt/portal_export/internal/runlog"
	"github.com/dgnsrekt/portal_export/internal/snapshot"
)

const historyLimit = 200

// Ingester appends a downloaded file to a table.
type Ingester interface {
	File(ctx context.Context, table, path string) (int, error)
}

// RunWriter persists finished run records.
type RunWriter interface {
	Write(rec runlog.Record) error
}

type tabLister interface {
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
}

// Options wires a Service.
type Options struct {
	Portals      *portals.Set
	Acquire      pipeline.Acquirer
	StrategyName string
	Capturer     *page.Capturer

	Ingest       Ingester
	Runs         RunWriter
	History      []runlog.Record
	Evidence     *snapshot.Store
	EvidenceKeep int

	NotifyURL  string
	HTTPClient *http.Client

	// MinRunInterval spaces runs against the portals. Zero disables it.
	MinRunInterval time.Duration
	Now            func() time.Time
	Getenv         func(string) string
}

// RunOptions tunes a single export.
type RunOptions struct {
	Ingest bool
}

// Service runs exports one at a time.
type Service struct {
	opts    Options
	limiter *rate.Limiter
	runMu   sync.Mutex

	mu      sync.RWMutex
	history []runlog.Record
}

func NewService(opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	s := &Service{opts: opts}
	if opts.MinRunInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(opts.MinRunInterval), 1)
	}
	s.history = append(s.history, opts.History...)
	if len(s.history) > historyLimit {
		s.history = s.history[:historyLimit]
	}
	return s
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return failure.Newf(failure.CodeValidation, "%s is required", fieldName)
	}
	return nil
}

// Portals lists the configured portal names.
func (s *Service) Portals() []string {
	return s.opts.Portals.Names()
}

// Export runs one portal export. The returned record is filled in on both
// success and failure.
func (s *Service) Export(ctx context.Context, portal string, ro RunOptions) (runlog.Record, error) {
	if err := s.requireNonEmpty(portal, "portal"); err != nil {
		return runlog.Record{}, err
	}
	def, err := s.opts.Portals.Get(strings.TrimSpace(portal))
	if err != nil {
		return runlog.Record{}, err
	}
	if !s.runMu.TryLock() {
		return runlog.Record{}, failure.Newf(failure.CodeBusy, "another export is running")
	}
	defer s.runMu.Unlock()
	if s.limiter != nil && !s.limiter.Allow() {
		return runlog.Record{}, failure.Newf(failure.CodeRateLimited, "exports are limited to one every %s", s.opts.MinRunInterval)
	}

	rec := runlog.Record{
		ID:        uuid.NewString(),
		Portal:    def.Name,
		Strategy:  s.opts.StrategyName,
		StartedAt: s.opts.Now().UTC(),
	}
	log := slog.With("run_id", rec.ID, "portal", def.Name)
	log.Info("export started", "strategy", rec.Strategy)

	pl := pipeline.New(pipeline.Options{
		Acquire:   s.opts.Acquire,
		Capturer:  s.opts.Capturer,
		Now:       s.opts.Now,
		Getenv:    s.opts.Getenv,
		OnFailure: s.captureEvidence(&rec),
	})
	res, err := pl.Run(ctx, def)
	if res.Range != nil {
		rec.Range = res.Range.Format()
	}
	rec.Refresh = string(res.Refresh)
	rec.ArtifactPath = res.Artifact.Path
	rec.SuggestedFilename = res.Artifact.SuggestedFilename

	if err == nil && ro.Ingest && s.opts.Ingest != nil {
		rec.Table = def.Table
		rec.RowsIngested, err = s.opts.Ingest.File(ctx, def.Table, res.Artifact.Path)
		if err != nil {
			err = failure.New(failure.CodeIngestFailed, fmt.Sprintf("ingest %s into %s", res.Artifact.Path, def.Table), err)
		}
	}

	rec.FinishedAt = s.opts.Now().UTC()
	if err != nil {
		rec.Status = runlog.StatusFailed
		rec.ErrorCode = failure.CodeOf(err)
		rec.Error = err.Error()
		log.Error("export failed", "code", rec.ErrorCode, "error", err)
	} else {
		rec.Status = runlog.StatusOK
		log.Info("export finished", "path", rec.ArtifactPath, "rows", rec.RowsIngested, "elapsed_ms", rec.FinishedAt.Sub(rec.StartedAt).Milliseconds())
	}
	s.record(ctx, rec)
	return rec, err
}

func (s *Service) captureEvidence(rec *runlog.Record) pipeline.FailureHook {
	return func(ctx context.Context, p page.Page, runErr error) {
		if s.opts.Evidence == nil {
			return
		}
		img, err := p.Screenshot(ctx)
		if err != nil {
			slog.Warn("evidence screenshot failed", "run_id", rec.ID, "error", err)
			return
		}
		meta := snapshot.Meta{
			RunID:     rec.ID,
			Portal:    rec.Portal,
			ErrorCode: failure.CodeOf(runErr),
			Error:     runErr.Error(),
		}
		if title, err := p.Title(ctx); err == nil {
			meta.PageTitle = title
		}
		if url, err := p.URL(ctx); err == nil {
			meta.PageURL = url
		}
		saved, err := s.opts.Evidence.Save(meta, img)
		if err != nil {
			slog.Warn("evidence save failed", "run_id", rec.ID, "error", err)
			return
		}
		rec.EvidenceID = saved.ID
		slog.Info("evidence stored", "run_id", rec.ID, "evidence_id", saved.ID, "size_bytes", saved.SizeBytes)
		if s.opts.EvidenceKeep > 0 {
			if _, err := s.opts.Evidence.Prune(s.opts.EvidenceKeep); err != nil {
				slog.Debug("evidence prune failed", "error", err)
			}
		}
	}
}

func (s *Service) record(ctx context.Context, rec runlog.Record) {
	s.mu.Lock()
	s.history = append([]runlog.Record{rec}, s.history...)
	if len(s.history) > historyLimit {
		s.history = s.history[:historyLimit]
	}
	s.mu.Unlock()

	if s.opts.Runs != nil {
		if err := s.opts.Runs.Write(rec); err != nil {
			slog.Warn("run log write failed", "run_id", rec.ID, "error", err)
		}
	}
	if s.opts.NotifyURL != "" {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := notify.SendRun(nctx, s.opts.HTTPClient, s.opts.NotifyURL, rec); err != nil {
			slog.Warn("run notification failed", "run_id", rec.ID, "error", err)
		}
	}
}

// Runs returns recent runs, newest first, optionally for one portal.
func (s *Service) Runs(portal string, limit int) []runlog.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]runlog.Record, 0, len(s.history))
	for _, rec := range s.history {
		if portal != "" && rec.Portal != portal {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// ListTabs opens a session, lists its page targets and releases it.
func (s *Service) ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error) {
	if !s.runMu.TryLock() {
		return nil, failure.Newf(failure.CodeBusy, "an export is running")
	}
	defer s.runMu.Unlock()

	sess, err := s.opts.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Release(); err != nil {
			slog.Warn("tab listing release failed", "error", err)
		}
	}()
	lister, ok := sess.(tabLister)
	if !ok {
		return nil, failure.Newf(failure.CodeValidation, "session does not support tab listing")
	}
	return lister.ListTabs(ctx)
}

// Evidence lists stored failure evidence.
func (s *Service) Evidence(portal string) ([]snapshot.Meta, error) {
	if s.opts.Evidence == nil {
		return []snapshot.Meta{}, nil
	}
	return s.opts.Evidence.List(strings.TrimSpace(portal))
}

// EvidenceImage returns the screenshot bytes of one evidence entry.
func (s *Service) EvidenceImage(id string) ([]byte, string, error) {
	if err := s.requireNonEmpty(id, "id"); err != nil {
		return nil, "", err
	}
	if s.opts.Evidence == nil {
		return nil, "", failure.Newf(failure.CodeNotFound, "evidence not found: %s", id)
	}
	return s.opts.Evidence.ReadImage(strings.TrimSpace(id))
}
