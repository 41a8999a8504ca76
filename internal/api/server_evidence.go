package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/portal_export/internal/snapshot"
)

func registerEvidenceHandlers(api huma.API, svc Service) {
	type listEvidenceOutput struct {
		Body struct {
			Evidence []snapshot.Meta `json:"evidence"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-evidence", Method: http.MethodGet, Path: "/api/v1/evidence", Summary: "List failure screenshots", Tags: []string{"Evidence"}},
		func(ctx context.Context, input *struct {
			Portal string `query:"portal" doc:"Only evidence of this portal"`
		}) (*listEvidenceOutput, error) {
			metas, err := svc.Evidence(input.Portal)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listEvidenceOutput{}
			out.Body.Evidence = metas
			if out.Body.Evidence == nil {
				out.Body.Evidence = []snapshot.Meta{}
			}
			for i := range out.Body.Evidence {
				out.Body.Evidence[i].Error = truncate(out.Body.Evidence[i].Error, 500)
			}
			return out, nil
		})

	type imageOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{OperationID: "get-evidence-image", Method: http.MethodGet, Path: "/api/v1/evidence/{id}/image", Summary: "Download a failure screenshot", Tags: []string{"Evidence"}},
		func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*imageOutput, error) {
			data, format, err := svc.EvidenceImage(input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &imageOutput{ContentType: "image/" + format, Body: data}, nil
		})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
