package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/photo-annotator/internal/database"
	"github.com/kozaktomas/photo-annotator/internal/pipeline"
)

// Annotator runs whole-catalog annotation.
type Annotator interface {
	Annotate(ctx context.Context, observe pipeline.Observer) (*pipeline.Summary, error)
	Pending(ctx context.Context) (map[database.Stage]int, error)
	Backfill(ctx context.Context, progress func(pipeline.BackfillResult)) (pipeline.BackfillResult, error)
}

// AnnotateHandler starts and tracks annotation jobs.
type AnnotateHandler struct {
	annotator  Annotator
	jobManager *JobManager
	logger     *slog.Logger
}

// NewAnnotateHandler creates a new annotate handler.
func NewAnnotateHandler(annotator Annotator, jobManager *JobManager, logger *slog.Logger) *AnnotateHandler {
	return &AnnotateHandler{annotator: annotator, jobManager: jobManager, logger: logger}
}

// Start launches an annotation job. The body is optional.
func (h *AnnotateHandler) Start(w http.ResponseWriter, r *http.Request) {
	var opts AnnotationJobOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job, ok := h.jobManager.Start(uuid.New().String(), opts, cancel)
	if !ok {
		cancel()
		respondError(w, http.StatusConflict, "an annotation job is already running")
		return
	}

	go h.run(ctx, job)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(JobStatusPending),
	})
}

func (h *AnnotateHandler) run(ctx context.Context, job *AnnotationJob) {
	defer job.cancel()
	log := h.logger.With("job_id", job.ID)

	job.update(func(s *JobSnapshot) { s.Status = JobStatusRunning })
	job.SendEvent(JobEvent{Type: "started"})
	backfill := job.Snapshot().Options.Backfill
	log.Info("annotation job started", "backfill", backfill)

	summary, err := h.annotator.Annotate(ctx, func(p pipeline.Progress) {
		job.update(func(s *JobSnapshot) { s.Progress = &p })
		job.SendEvent(JobEvent{Type: "progress", Data: p})
	})
	if summary != nil {
		job.update(func(s *JobSnapshot) { s.Summary = summary })
	}

	if err == nil && backfill {
		var res pipeline.BackfillResult
		res, err = h.annotator.Backfill(ctx, func(b pipeline.BackfillResult) {
			job.SendEvent(JobEvent{Type: "backfill", Data: b})
		})
		job.update(func(s *JobSnapshot) { s.Backfill = &res })
	}

	switch {
	case err == nil:
		log.Info("annotation job completed")
		job.finish(JobStatusCompleted, "")
	case errors.Is(err, context.Canceled):
		log.Info("annotation job cancelled")
		job.finish(JobStatusCancelled, "")
	default:
		log.Error("annotation job failed", "error", err)
		job.finish(JobStatusFailed, err.Error())
	}
}

// Status returns a job's current state.
func (h *AnnotateHandler) Status(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job.Snapshot())
}

// Events streams job events via SSE.
func (h *AnnotateHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			if job := h.jobManager.GetJob(id); job != nil {
				return job
			}
			return nil
		},
		func(j SSEJob) any {
			return j.(*AnnotationJob).Snapshot()
		},
	)
}

// Cancel stops a running job.
func (h *AnnotateHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.jobManager.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if isJobTerminal(job.GetStatus()) {
		respondError(w, http.StatusConflict, "job already finished")
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// PendingResponse reports outstanding work and the active job.
type PendingResponse struct {
	Pending   map[database.Stage]int `json:"pending"`
	ActiveJob *JobSnapshot           `json:"active_job,omitempty"`
}

// Pending returns per-stage pending counts.
func (h *AnnotateHandler) Pending(w http.ResponseWriter, r *http.Request) {
	pending, err := h.annotator.Pending(r.Context())
	if err != nil {
		respondStoreError(w, h.logger, err)
		return
	}
	resp := PendingResponse{Pending: pending}
	if job := h.jobManager.Active(); job != nil {
		snap := job.Snapshot()
		resp.ActiveJob = &snap
	}
	respondJSON(w, http.StatusOK, resp)
}
