package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-annotator/internal/constants"
)

func isJobTerminal(status JobStatus) bool {
	return status == JobStatusCompleted || status == JobStatusFailed || status == JobStatusCancelled
}

// isTerminalEvent reports whether eventType is the last event a job sends.
func isTerminalEvent(eventType string) bool {
	return eventType == "completed" || eventType == "cancelled" || eventType == "job_error"
}

// sendSSEEvent writes one named event with a JSON payload and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte(`{}`)
	}
	_, _ = io.WriteString(w, "event: "+eventType+"\ndata: ")
	_, _ = w.Write(payload)
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// sendSSEHeartbeat writes a comment line, which EventSource clients ignore.
func sendSSEHeartbeat(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = io.WriteString(w, ": ping\n\n")
	flusher.Flush()
}

// openEventStream resolves the {jobId} job and switches the response to
// text/event-stream. On failure it writes a JSON error and returns false.
func openEventStream(w http.ResponseWriter, r *http.Request, lookupJob func(string) SSEJob) (SSEJob, http.Flusher, bool) {
	jobID := chi.URLParam(r, "jobId")
	if jobID == "" {
		respondError(w, http.StatusBadRequest, "missing job ID")
		return nil, nil, false
	}

	job := lookupJob(jobID)
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return nil, nil, false
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, nil, false
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return job, flusher, true
}

// streamSSEEvents sends the initial snapshot, then relays job events until
// the job reaches a terminal state or the client goes away.
func streamSSEEvents(w http.ResponseWriter, r *http.Request, lookupJob func(string) SSEJob, initial func(SSEJob) any) {
	streamSSEEventsEvery(w, r, lookupJob, initial, constants.SSEHeartbeatInterval)
}

func streamSSEEventsEvery(w http.ResponseWriter, r *http.Request, lookupJob func(string) SSEJob, initial func(SSEJob) any, heartbeat time.Duration) {
	job, flusher, ok := openEventStream(w, r, lookupJob)
	if !ok {
		return
	}

	events := job.AddListener()
	defer job.RemoveListener(events)

	sendSSEEvent(w, flusher, "status", initial(job))
	if isJobTerminal(job.GetStatus()) {
		return
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if isJobTerminal(job.GetStatus()) {
				// The final event may have been dropped on a full buffer.
				if drainSSEEvents(w, flusher, events) {
					return
				}
				sendSSEEvent(w, flusher, "status", initial(job))
				return
			}
			sendSSEHeartbeat(w, flusher)
		case event, ok := <-events:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if isTerminalEvent(event.Type) {
				return
			}
		}
	}
}

// drainSSEEvents relays buffered events and reports whether a terminal one was among them.
func drainSSEEvents(w http.ResponseWriter, flusher http.Flusher, events <-chan JobEvent) bool {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if isTerminalEvent(event.Type) {
				return true
			}
		default:
			return false
		}
	}
}
