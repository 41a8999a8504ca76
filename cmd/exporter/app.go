package main

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/portal_export/internal/config"
	"github.com/dgnsrekt/portal_export/internal/controller"
	"github.com/dgnsrekt/portal_export/internal/ingest"
	"github.com/dgnsrekt/portal_export/internal/page"
	"github.com/dgnsrekt/portal_export/internal/pipeline"
	"github.com/dgnsrekt/portal_export/internal/runlog"
	"github.com/dgnsrekt/portal_export/internal/snapshot"
)

// app owns the long-lived resources behind the controller service.
type app struct {
	svc   *controller.Service
	store *ingest.Store
	runs  *runlog.Writer
}

func newApp(ctx context.Context, cfg *config.Config, withStore bool) (*app, error) {
	set, err := cfg.Portals()
	if err != nil {
		return nil, err
	}
	capturer, err := page.NewCapturer(cfg.DownloadDir)
	if err != nil {
		return nil, err
	}
	evidence, err := snapshot.NewStore(cfg.EvidenceDir)
	if err != nil {
		return nil, err
	}

	a := &app{}
	if withStore {
		if a.store, err = ingest.Open(ctx, cfg.DBURL); err != nil {
			return nil, err
		}
	}

	history, err := runlog.ReadRecent(cfg.RunlogDir, 200)
	if err != nil {
		slog.Warn("run history unavailable", "dir", cfg.RunlogDir, "error", err)
	}
	a.runs = runlog.NewWriter(cfg.RunlogDir, cfg.RunlogBufferSize, 10)

	strategy := cfg.BrowserStrategy()
	opts := controller.Options{
		Portals:        set,
		Acquire:        pipeline.FromStrategy(strategy),
		StrategyName:   strategy.Name(),
		Capturer:       capturer,
		Runs:           a.runs,
		History:        history,
		Evidence:       evidence,
		EvidenceKeep:   cfg.EvidenceKeep,
		NotifyURL:      cfg.NotifyURL,
		MinRunInterval: cfg.MinRunInterval,
	}
	if a.store != nil {
		opts.Ingest = a.store
	}
	a.svc = controller.NewService(opts)
	return a, nil
}

func (a *app) Close() {
	if err := a.runs.Close(); err != nil {
		slog.Debug("run log close failed", "error", err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Debug("ingest store close failed", "error", err)
		}
	}
}
