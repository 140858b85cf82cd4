package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/bookstore-backend/api/responses"
	"github.com/angelmondragon/bookstore-backend/api/validators"
	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/logger"
)

const (
	defaultLogCount = 50
	maxLogCount     = 1000
)

type importLogReader interface {
	Recent(ctx context.Context, count int) ([]importlog.Entry, error)
	ByType(ctx context.Context, logType enums.ImportLogType, count int) ([]importlog.Entry, error)
	ByStatus(ctx context.Context, status enums.ImportLogStatus, count int) ([]importlog.Entry, error)
	Stats(ctx context.Context) (importlog.Stats, error)
}

func AdminRecentImportLogs(stream importLogReader, logg *logger.Logger) http.HandlerFunc {
	return importLogHandler(logg, func(r *http.Request, count int) ([]importlog.Entry, error) {
		return stream.Recent(r.Context(), count)
	})
}

func AdminImportLogsByType(stream importLogReader, logg *logger.Logger) http.HandlerFunc {
	return importLogHandler(logg, func(r *http.Request, count int) ([]importlog.Entry, error) {
		logType, err := enums.ParseImportLogType(chi.URLParam(r, "type"))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid log type")
		}
		return stream.ByType(r.Context(), logType, count)
	})
}

func AdminImportLogsByStatus(stream importLogReader, logg *logger.Logger) http.HandlerFunc {
	return importLogHandler(logg, func(r *http.Request, count int) ([]importlog.Entry, error) {
		status, err := enums.ParseImportLogStatus(chi.URLParam(r, "status"))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid log status")
		}
		return stream.ByStatus(r.Context(), status, count)
	})
}

func AdminImportLogStats(stream importLogReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := stream.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func importLogHandler(logg *logger.Logger, read func(r *http.Request, count int) ([]importlog.Entry, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := validators.ParseQueryInt(r, "count", defaultLogCount, 1, maxLogCount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		entries, err := read(r, count)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if entries == nil {
			entries = []importlog.Entry{}
		}
		responses.WriteSuccess(w, entries)
	}
}
