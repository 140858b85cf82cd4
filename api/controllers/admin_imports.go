package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/api/middleware"
	"github.com/angelmondragon/bookstore-backend/api/responses"
	"github.com/angelmondragon/bookstore-backend/api/validators"
	"github.com/angelmondragon/bookstore-backend/internal/importer"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

type importDispatcher interface {
	Dispatch(params importer.Params, triggeredBy string) (uuid.UUID, error)
	InFlight() []importer.InFlight
}

type importCanceller interface {
	Cancel(ctx context.Context, params importer.Params) error
}

type importRunReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.ImportRun, error)
	List(ctx context.Context, params importer.RunListParams) (*importer.RunPage, error)
}

type importRequest struct {
	StartPage int `json:"start_page" validate:"min=0"`
	MaxPages  int `json:"max_pages" validate:"min=0"`
	BatchSize int `json:"batch_size" validate:"min=0,max=60"`
}

func (r importRequest) params() importer.Params {
	return importer.Params{StartPage: r.StartPage, MaxPages: r.MaxPages, BatchSize: r.BatchSize}
}

// AdminTriggerImport starts a catalog import in the background and answers
// with the run id before the import finishes.
func AdminTriggerImport(dispatcher importDispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := req.params().Normalize()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		trigger := "admin"
		if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
			trigger = "admin:" + userID.String()
		}
		runID, err := dispatcher.Dispatch(params, trigger)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"run_id": runID,
			"params": params,
		})
	}
}

func AdminCancelImport(canceller importCanceller, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := req.params().Normalize()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := canceller.Cancel(r.Context(), params); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{"cancel_requested": true, "params": params})
	}
}

func AdminInFlightImports(dispatcher importDispatcher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs := dispatcher.InFlight()
		if runs == nil {
			runs = []importer.InFlight{}
		}
		responses.WriteSuccess(w, runs)
	}
}

// AdminListImportRuns pages run records newest first, optionally filtered
// by status. Pass next_cursor back as ?cursor for the following page.
func AdminListImportRuns(runs importRunReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status", enums.ParseImportRunStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := runs.List(r.Context(), importer.RunListParams{
			Status: status,
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if page.Items == nil {
			page.Items = []models.ImportRun{}
		}
		responses.WriteSuccess(w, page)
	}
}

func AdminImportRunDetail(runs importRunReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := routeUUID(r, "runId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		run, err := runs.FindByID(r.Context(), runID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, run)
	}
}
