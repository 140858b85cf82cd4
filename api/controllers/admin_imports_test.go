package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/bookstore-backend/api/middleware"
	"github.com/angelmondragon/bookstore-backend/internal/importer"
	"github.com/angelmondragon/bookstore-backend/internal/importlog"
	"github.com/angelmondragon/bookstore-backend/pkg/config"
	"github.com/angelmondragon/bookstore-backend/pkg/db/models"
	"github.com/angelmondragon/bookstore-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/bookstore-backend/pkg/errors"
	"github.com/angelmondragon/bookstore-backend/pkg/kv"
)

type testDispatcher struct {
	params  importer.Params
	trigger string
	runID   uuid.UUID
}

func (d *testDispatcher) Dispatch(params importer.Params, triggeredBy string) (uuid.UUID, error) {
	d.params = params
	d.trigger = triggeredBy
	return d.runID, nil
}

func (d *testDispatcher) InFlight() []importer.InFlight {
	return []importer.InFlight{{RunID: d.runID, Params: d.params, TriggeredBy: d.trigger, StartedAt: time.Now()}}
}

type testCanceller struct {
	err error
	got importer.Params
}

func (c *testCanceller) Cancel(_ context.Context, params importer.Params) error {
	c.got = params
	return c.err
}

type testRunReader struct {
	got importer.RunListParams
}

func (r *testRunReader) FindByID(_ context.Context, id uuid.UUID) (*models.ImportRun, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "import run not found")
}

func (r *testRunReader) List(_ context.Context, params importer.RunListParams) (*importer.RunPage, error) {
	r.got = params
	return &importer.RunPage{NextCursor: "next"}, nil
}

func TestAdminTriggerImportDispatchesNormalizedParams(t *testing.T) {
	d := &testDispatcher{runID: uuid.New()}
	adminID := uuid.New()
	req := newRequest(http.MethodPost, "/api/admin/v1/imports", `{"start_page":3,"max_pages":2}`)
	req = req.WithContext(middleware.WithUser(req.Context(), adminID, nil))
	resp := httptest.NewRecorder()
	AdminTriggerImport(d, testLogg)(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if d.params != (importer.Params{StartPage: 3, MaxPages: 2, BatchSize: 20}) {
		t.Fatalf("unexpected params %+v", d.params)
	}
	if d.trigger != "admin:"+adminID.String() {
		t.Fatalf("unexpected trigger %q", d.trigger)
	}
	var body struct {
		RunID uuid.UUID `json:"run_id"`
	}
	decodeData(t, resp, &body)
	if body.RunID != d.runID {
		t.Fatalf("expected run id %s, got %s", d.runID, body.RunID)
	}
}

func TestAdminTriggerImportRejectsOversizedBatch(t *testing.T) {
	resp := httptest.NewRecorder()
	AdminTriggerImport(&testDispatcher{}, testLogg)(resp, newRequest(http.MethodPost, "/api/admin/v1/imports", `{"batch_size":61}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestAdminCancelImportWithoutActiveRun(t *testing.T) {
	c := &testCanceller{err: pkgerrors.New(pkgerrors.CodeNotFound, "no active import for params")}
	resp := httptest.NewRecorder()
	AdminCancelImport(c, testLogg)(resp, newRequest(http.MethodPost, "/api/admin/v1/imports/cancel", `{"start_page":1,"max_pages":5,"batch_size":10}`))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if c.got != (importer.Params{StartPage: 1, MaxPages: 5, BatchSize: 10}) {
		t.Fatalf("unexpected cancel params %+v", c.got)
	}
}

func TestAdminListImportRunsFiltersByStatus(t *testing.T) {
	runs := &testRunReader{}
	resp := httptest.NewRecorder()
	AdminListImportRuns(runs, testLogg)(resp, newRequest(http.MethodGet, "/api/admin/v1/imports?status=failed_permanently&limit=5&cursor=abc", ""))
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	got := runs.got
	if got.Status == nil || *got.Status != enums.ImportRunStatusFailedPermanently || got.Limit != 5 || got.Cursor != "abc" {
		t.Fatalf("unexpected filter %+v", got)
	}
	var page importer.RunPage
	decodeData(t, resp, &page)
	if page.Items == nil || page.NextCursor != "next" {
		t.Fatalf("unexpected page %+v", page)
	}

	resp = httptest.NewRecorder()
	AdminListImportRuns(runs, testLogg)(resp, newRequest(http.MethodGet, "/api/admin/v1/imports?status=exploded", ""))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.Code)
	}
}

func TestAdminImportRunDetailNotFound(t *testing.T) {
	id := uuid.New()
	req := addRouteParam(newRequest(http.MethodGet, "/api/admin/v1/imports/"+id.String(), ""), "runId", id.String())
	resp := httptest.NewRecorder()
	AdminImportRunDetail(&testRunReader{}, testLogg)(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestAdminImportLogsByType(t *testing.T) {
	stream, err := importlog.NewStream(kv.NewMemory(), config.ImportLogConfig{})
	if err != nil {
		t.Fatalf("new stream: %v", err)
	}
	ctx := context.Background()
	for _, event := range []importlog.Event{
		{Type: enums.ImportLogTypeRunStarted, Status: enums.ImportLogStatusInfo, Message: "started"},
		{Type: enums.ImportLogTypeBookFailed, Status: enums.ImportLogStatusWarning, Message: "bad book"},
		{Type: enums.ImportLogTypeRunCompleted, Status: enums.ImportLogStatusSuccess, Message: "done"},
	} {
		if _, err := stream.Append(ctx, event); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	req := addRouteParam(newRequest(http.MethodGet, "/api/admin/v1/import-logs/type/book_failed", ""), "type", "book_failed")
	resp := httptest.NewRecorder()
	AdminImportLogsByType(stream, testLogg)(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	var entries []importlog.Entry
	decodeData(t, resp, &entries)
	if len(entries) != 1 || entries[0].Message != "bad book" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	resp = httptest.NewRecorder()
	AdminImportLogStats(stream, testLogg)(resp, newRequest(http.MethodGet, "/api/admin/v1/import-logs/stats", ""))
	var stats importlog.Stats
	decodeData(t, resp, &stats)
	if stats.Total != 3 || stats.ByStatus["warning"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	req = addRouteParam(newRequest(http.MethodGet, "/api/admin/v1/import-logs/status/loud", ""), "status", "loud")
	resp = httptest.NewRecorder()
	AdminImportLogsByStatus(stream, testLogg)(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.Code)
	}
}
