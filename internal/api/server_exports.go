package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/portal_export/internal/controller"
	"github.com/dgnsrekt/portal_export/internal/runlog"
)

type runOutput struct {
	Body runlog.Record
}

func registerExportHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "run-export", Method: http.MethodPost, Path: "/api/v1/exports/{portal}", Summary: "Run one portal export", Description: "Exports today's quotes from the portal and, unless ingest is false, appends them to the portal's table. Only one export runs at a time.", Tags: []string{"Exports"}},
		func(ctx context.Context, input *struct {
			Portal string `path:"portal" doc:"Portal name" example:"fast"`
			Ingest bool   `query:"ingest" default:"true" doc:"Append the downloaded file to the portal table"`
		}) (*runOutput, error) {
			rec, err := svc.Export(ctx, input.Portal, controller.RunOptions{Ingest: input.Ingest})
			if err != nil {
				return nil, mapErr(err)
			}
			return &runOutput{Body: rec}, nil
		})

	type listRunsOutput struct {
		Body struct {
			Runs []runlog.Record `json:"runs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-runs", Method: http.MethodGet, Path: "/api/v1/runs", Summary: "List recent export runs", Tags: []string{"Exports"}},
		func(ctx context.Context, input *struct {
			Portal string `query:"portal" doc:"Only runs of this portal"`
			Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"200"`
		}) (*listRunsOutput, error) {
			out := &listRunsOutput{}
			out.Body.Runs = svc.Runs(input.Portal, input.Limit)
			if out.Body.Runs == nil {
				out.Body.Runs = []runlog.Record{}
			}
			return out, nil
		})
}
