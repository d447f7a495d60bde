package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/encodis/encodis/internal/bus"
	"github.com/encodis/encodis/internal/dispatcher"
	"github.com/encodis/encodis/internal/model"
	"github.com/encodis/encodis/internal/scheduler"
	"github.com/encodis/encodis/internal/store"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	st := store.NewMemoryStore()
	evbus := bus.NewMemoryBus()
	sched := scheduler.New(st, evbus, nil)
	disp := dispatcher.New(sched, evbus, 0)
	s := NewServer(sched, st, evbus, disp)
	s.RateLimitRPS = 0
	return s
}

func TestHandleSubmitBatch_CreatesJobs(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(model.ConversionOptions{
		Files:       []model.FileConfig{{InputPath: "/in/a.mkv", Name: "a.mkv"}},
		OutputDir:   "/out",
		VideoCodec:  "libx265", AudioCodec: "aac", BitrateMode: "crf", CRF: 22,
	})

	req := httptest.NewRequest(http.MethodPost, "/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var batch model.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.Equal(t, 1, batch.CreatedCount)
}

func TestHandleListJobs_ReturnsStatusCounts(t *testing.T) {
	s := newTestServer()
	_, err := s.Scheduler.SubmitBatch(context.Background(), model.ConversionOptions{
		Files:      []model.FileConfig{{InputPath: "/in/a.mkv", Name: "a.mkv"}},
		OutputDir:  "/out",
		VideoCodec: "libx265", AudioCodec: "aac", BitrateMode: "crf", CRF: 22,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp jobsListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.StatusCounts["pending"])
}

func TestHandleJobAction_CancelTransitionsJob(t *testing.T) {
	s := newTestServer()
	batch, err := s.Scheduler.SubmitBatch(context.Background(), model.ConversionOptions{
		Files:      []model.FileConfig{{InputPath: "/in/a.mkv", Name: "a.mkv"}},
		OutputDir:  "/out",
		VideoCodec: "libx265", AudioCodec: "aac", BitrateMode: "crf", CRF: 22,
	})
	require.NoError(t, err)
	require.Equal(t, 1, batch.CreatedCount)

	body, _ := json.Marshal(jobActionRequest{Action: "cancel"})
	req := httptest.NewRequest(http.MethodPatch, "/jobs/1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	job, err := s.Store.GetJob(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, model.JobCancelled, job.Status)
}

func TestHandleListFollowers_EmptyWhenNoDispatcher(t *testing.T) {
	s := newTestServer()
	s.Dispatcher = nil

	req := httptest.NewRequest(http.MethodGet, "/settings/followers", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
