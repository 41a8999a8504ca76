package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/portal_export/internal/cdpcontrol"
	"github.com/dgnsrekt/portal_export/internal/controller"
	"github.com/dgnsrekt/portal_export/internal/failure"
	"github.com/dgnsrekt/portal_export/internal/runlog"
	"github.com/dgnsrekt/portal_export/internal/snapshot"
)

type Service interface {
	Portals() []string
	Export(ctx context.Context, portal string, opts controller.RunOptions) (runlog.Record, error)
	Runs(portal string, limit int) []runlog.Record
	ListTabs(ctx context.Context) ([]cdpcontrol.TabInfo, error)
	Evidence(portal string) ([]snapshot.Meta, error)
	EvidenceImage(id string) ([]byte, string, error)
}

const apiTitle = "Portal Export API"

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig(apiTitle, "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)
	router.Get("/docs", docsHandler(apiTitle, svc))

	registerHealthHandlers(api, svc)
	registerExportHandlers(api, svc)
	registerEvidenceHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	code := failure.CodeOf(err)
	switch code {
	case "":
		return huma.Error500InternalServerError(err.Error())
	case failure.CodeValidation:
		return huma.Error400BadRequest(err.Error())
	case failure.CodeNotFound, failure.CodeTabNotFound:
		return huma.Error404NotFound(err.Error())
	case failure.CodeBusy:
		return huma.Error409Conflict(err.Error())
	case failure.CodeRateLimited:
		return huma.Error429TooManyRequests(err.Error())
	case failure.CodeNavigationTimeout, failure.CodeDownloadTimeout:
		return huma.Error504GatewayTimeout(err.Error())
	case failure.CodeAttachFailed, failure.CodeLaunchFailed, failure.CodeCDP:
		return huma.Error502BadGateway(err.Error())
	case failure.CodeRangeNotApplied, failure.CodeRangeMismatch, failure.CodeStaleContent,
		failure.CodePreconditionFailed, failure.CodeControlNotFound:
		return huma.Error422UnprocessableEntity(err.Error())
	default:
		return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", code, err.Error()))
	}
}
