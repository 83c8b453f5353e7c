package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/pipeline"
)

type stubAnnotator struct {
	release       chan struct{}
	err           error
	pendingErr    error
	backfillCalls atomic.Int32
}

func (s *stubAnnotator) Annotate(ctx context.Context, observe pipeline.Observer) (*pipeline.Summary, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return &pipeline.Summary{}, ctx.Err()
		}
	}
	p := pipeline.Progress{Round: 1, Processed: map[database.Stage]int{database.StageTag: 2}}
	observe(p)
	if s.err != nil {
		return nil, s.err
	}
	return &pipeline.Summary{Progress: p}, nil
}

func (s *stubAnnotator) Pending(ctx context.Context) (map[database.Stage]int, error) {
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	return map[database.Stage]int{database.StageTag: 4, database.StageDetect: 1, database.StageFace: 0}, nil
}

func (s *stubAnnotator) Backfill(ctx context.Context, progress func(pipeline.BackfillResult)) (pipeline.BackfillResult, error) {
	s.backfillCalls.Add(1)
	res := pipeline.BackfillResult{Attempted: 3, Stored: 2, Failed: 1}
	progress(res)
	return res, nil
}

func startJob(t *testing.T, h *AnnotateHandler, body string) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	h.Start(recorder, httptest.NewRequest("POST", "/annotate", strings.NewReader(body)))
	assertStatusCode(t, recorder, http.StatusAccepted)
	var resp map[string]string
	parseJSONResponse(t, recorder, &resp)
	if resp["job_id"] == "" {
		t.Fatal("expected job id")
	}
	return resp["job_id"]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForStatus(t *testing.T, job *AnnotationJob, status JobStatus) {
	t.Helper()
	waitFor(t, string(status), func() bool { return job.GetStatus() == status })
}

func TestAnnotateHandler_RunsToCompletion(t *testing.T) {
	annotator := &stubAnnotator{}
	jobs := NewJobManager()
	h := NewAnnotateHandler(annotator, jobs, testLogger)

	id := startJob(t, h, "")
	job := jobs.GetJob(id)
	waitForStatus(t, job, JobStatusCompleted)

	snap := job.Snapshot()
	if snap.Summary == nil || snap.Summary.Total() != 2 {
		t.Errorf("expected summary with 2 processed, got %+v", snap.Summary)
	}
	if snap.Progress == nil || snap.Progress.Round != 1 {
		t.Errorf("expected progress snapshot, got %+v", snap.Progress)
	}
	if snap.CompletedAt == nil {
		t.Error("expected completion time")
	}
	if annotator.backfillCalls.Load() != 0 {
		t.Error("backfill should not run unless requested")
	}

	recorder := httptest.NewRecorder()
	h.Status(recorder, requestWithChiParams(httptest.NewRequest("GET", "/annotate/"+id, nil), map[string]string{"jobId": id}))
	assertStatusCode(t, recorder, http.StatusOK)
	var status JobSnapshot
	parseJSONResponse(t, recorder, &status)
	if status.Status != JobStatusCompleted || status.ID != id {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestAnnotateHandler_Backfill(t *testing.T) {
	annotator := &stubAnnotator{}
	jobs := NewJobManager()
	h := NewAnnotateHandler(annotator, jobs, testLogger)

	job := jobs.GetJob(startJob(t, h, `{"backfill": true}`))
	waitForStatus(t, job, JobStatusCompleted)

	if annotator.backfillCalls.Load() != 1 {
		t.Errorf("expected one backfill call, got %d", annotator.backfillCalls.Load())
	}
	if snap := job.Snapshot(); snap.Backfill == nil || snap.Backfill.Stored != 2 {
		t.Errorf("expected backfill result, got %+v", snap.Backfill)
	}
}

func TestAnnotateHandler_SingleJob(t *testing.T) {
	annotator := &stubAnnotator{release: make(chan struct{})}
	jobs := NewJobManager()
	h := NewAnnotateHandler(annotator, jobs, testLogger)

	first := jobs.GetJob(startJob(t, h, ""))
	waitForStatus(t, first, JobStatusRunning)

	recorder := httptest.NewRecorder()
	h.Start(recorder, httptest.NewRequest("POST", "/annotate", nil))
	assertStatusCode(t, recorder, http.StatusConflict)

	close(annotator.release)
	waitForStatus(t, first, JobStatusCompleted)

	// A finished job no longer blocks new ones.
	second := startJob(t, h, "")
	if second == first.ID {
		t.Error("expected a fresh job id")
	}
	waitForStatus(t, jobs.GetJob(second), JobStatusCompleted)
}

func TestAnnotateHandler_Cancel(t *testing.T) {
	annotator := &stubAnnotator{release: make(chan struct{})}
	jobs := NewJobManager()
	h := NewAnnotateHandler(annotator, jobs, testLogger)

	id := startJob(t, h, "")
	job := jobs.GetJob(id)
	waitForStatus(t, job, JobStatusRunning)

	cancel := func() *httptest.ResponseRecorder {
		recorder := httptest.NewRecorder()
		h.Cancel(recorder, requestWithChiParams(httptest.NewRequest("DELETE", "/annotate/"+id, nil), map[string]string{"jobId": id}))
		return recorder
	}

	assertStatusCode(t, cancel(), http.StatusAccepted)
	waitForStatus(t, job, JobStatusCancelled)
	assertStatusCode(t, cancel(), http.StatusConflict)
}

func TestAnnotateHandler_Failure(t *testing.T) {
	annotator := &stubAnnotator{err: errors.New("catalog unavailable")}
	jobs := NewJobManager()
	h := NewAnnotateHandler(annotator, jobs, testLogger)

	job := jobs.GetJob(startJob(t, h, ""))
	waitForStatus(t, job, JobStatusFailed)
	if snap := job.Snapshot(); snap.Error != "catalog unavailable" {
		t.Errorf("expected error message, got %q", snap.Error)
	}
}

func TestAnnotateHandler_InvalidBody(t *testing.T) {
	h := NewAnnotateHandler(&stubAnnotator{}, NewJobManager(), testLogger)
	recorder := httptest.NewRecorder()

	h.Start(recorder, httptest.NewRequest("POST", "/annotate", strings.NewReader("{")))

	assertStatusCode(t, recorder, http.StatusBadRequest)
}

func TestAnnotateHandler_UnknownJob(t *testing.T) {
	h := NewAnnotateHandler(&stubAnnotator{}, NewJobManager(), testLogger)

	for name, fn := range map[string]http.HandlerFunc{
		"status": h.Status,
		"cancel": h.Cancel,
		"events": h.Events,
	} {
		t.Run(name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			fn(recorder, requestWithChiParams(httptest.NewRequest("GET", "/annotate/nope", nil), map[string]string{"jobId": "nope"}))
			assertStatusCode(t, recorder, http.StatusNotFound)
		})
	}
}

func TestAnnotateHandler_Pending(t *testing.T) {
	h := NewAnnotateHandler(&stubAnnotator{}, NewJobManager(), testLogger)
	recorder := httptest.NewRecorder()

	h.Pending(recorder, httptest.NewRequest("GET", "/annotate/pending", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var resp PendingResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.Pending[database.StageTag] != 4 || resp.Pending[database.StageDetect] != 1 {
		t.Errorf("unexpected pending %v", resp.Pending)
	}
	if resp.ActiveJob != nil {
		t.Errorf("expected no active job, got %+v", resp.ActiveJob)
	}

	failing := NewAnnotateHandler(&stubAnnotator{pendingErr: errors.New("boom")}, NewJobManager(), testLogger)
	recorder = httptest.NewRecorder()
	failing.Pending(recorder, httptest.NewRequest("GET", "/annotate/pending", nil))
	assertStatusCode(t, recorder, http.StatusInternalServerError)
}

func TestAnnotateHandler_Events(t *testing.T) {
	annotator := &stubAnnotator{release: make(chan struct{})}
	jobs := NewJobManager()
	h := NewAnnotateHandler(annotator, jobs, testLogger)

	id := startJob(t, h, "")
	job := jobs.GetJob(id)
	waitForStatus(t, job, JobStatusRunning)

	recorder := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Events(recorder, requestWithChiParams(httptest.NewRequest("GET", "/annotate/"+id+"/events", nil), map[string]string{"jobId": id}))
	}()

	waitFor(t, "listener", func() bool {
		job.mu.RLock()
		defer job.mu.RUnlock()
		return len(job.listeners) == 1
	})
	close(annotator.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream did not finish")
	}

	if ct := recorder.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %s", ct)
	}
	body := recorder.Body.String()
	for _, want := range []string{"event: status\n", "event: progress\n", "event: completed\n"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in stream:\n%s", want, body)
		}
	}
}
