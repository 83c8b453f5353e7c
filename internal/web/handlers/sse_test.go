package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type idleJob struct {
	EventBroadcaster
}

func (j *idleJob) GetStatus() JobStatus { return JobStatusRunning }

func TestStreamSSEEvents_Heartbeat(t *testing.T) {
	job := &idleJob{}
	req := requestWithChiParams(httptest.NewRequest("GET", "/annotate/j1/events", nil), map[string]string{"jobId": "j1"})
	ctx, cancel := context.WithTimeout(req.Context(), 60*time.Millisecond)
	defer cancel()

	recorder := httptest.NewRecorder()

	streamSSEEventsEvery(recorder, req.WithContext(ctx),
		func(id string) SSEJob { return job },
		func(SSEJob) any { return map[string]string{"status": "running"} },
		5*time.Millisecond,
	)

	body := recorder.Body.String()
	if !strings.HasPrefix(body, "event: status\ndata: {\"status\":\"running\"}\n\n") {
		t.Errorf("expected initial status event, got:\n%s", body)
	}
	if !strings.Contains(body, ": ping\n\n") {
		t.Errorf("expected heartbeat comment, got:\n%s", body)
	}
	if len(job.listeners) != 0 {
		t.Errorf("expected listener removed after disconnect, got %d", len(job.listeners))
	}
}

type switchingJob struct {
	EventBroadcaster
	status atomic.Value
}

func newSwitchingJob() *switchingJob {
	j := &switchingJob{}
	j.status.Store(JobStatusRunning)
	return j
}

func (j *switchingJob) GetStatus() JobStatus { return j.status.Load().(JobStatus) }

func (j *switchingJob) listenerCount() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.listeners)
}

func TestStreamSSEEvents_DeliversTerminalEventAfterStatusChange(t *testing.T) {
	job := newSwitchingJob()
	req := requestWithChiParams(httptest.NewRequest("GET", "/annotate/j1/events", nil), map[string]string{"jobId": "j1"})
	recorder := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		streamSSEEventsEvery(recorder, req,
			func(string) SSEJob { return job },
			func(SSEJob) any { return map[string]string{"status": "running"} },
			time.Hour,
		)
	}()

	waitFor(t, "listener", func() bool { return job.listenerCount() == 1 })
	// The job is already finished when its last progress event is read.
	job.status.Store(JobStatusCompleted)
	job.SendEvent(JobEvent{Type: "progress"})
	job.SendEvent(JobEvent{Type: "completed"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish")
	}

	body := recorder.Body.String()
	if !strings.Contains(body, "event: progress\n") || !strings.Contains(body, "event: completed\n") {
		t.Errorf("expected progress and completed events, got:\n%s", body)
	}
}

func TestStreamSSEEvents_ClosesWhenTerminalEventDropped(t *testing.T) {
	job := newSwitchingJob()
	req := requestWithChiParams(httptest.NewRequest("GET", "/annotate/j1/events", nil), map[string]string{"jobId": "j1"})
	recorder := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		streamSSEEventsEvery(recorder, req,
			func(string) SSEJob { return job },
			func(j SSEJob) any { return map[string]JobStatus{"status": j.GetStatus()} },
			5*time.Millisecond,
		)
	}()

	waitFor(t, "listener", func() bool { return job.listenerCount() == 1 })
	job.status.Store(JobStatusFailed)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream stayed open after the job finished")
	}

	if body := recorder.Body.String(); !strings.Contains(body, `"status":"failed"`) {
		t.Errorf("expected final status snapshot, got:\n%s", body)
	}
}

func TestStreamSSEEvents_MissingJobID(t *testing.T) {
	recorder := httptest.NewRecorder()
	streamSSEEvents(recorder, httptest.NewRequest("GET", "/annotate//events", nil),
		func(string) SSEJob { return nil },
		func(SSEJob) any { return nil },
	)
	assertStatusCode(t, recorder, http.StatusBadRequest)
	assertJSONError(t, recorder, "missing job ID")
}
