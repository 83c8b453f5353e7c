package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/photo-annotator/internal/constants"
	"github.com/kozaktomas/photo-annotator/internal/pipeline"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// AnnotationJobOptions selects what an annotation job does.
type AnnotationJobOptions struct {
	Backfill bool `json:"backfill"`
}

// JobSnapshot is the serializable state of an annotation job.
type JobSnapshot struct {
	ID          string                   `json:"id"`
	Status      JobStatus                `json:"status"`
	Options     AnnotationJobOptions     `json:"options"`
	Progress    *pipeline.Progress       `json:"progress,omitempty"`
	Summary     *pipeline.Summary        `json:"summary,omitempty"`
	Backfill    *pipeline.BackfillResult `json:"backfill,omitempty"`
	Error       string                   `json:"error,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

// AnnotationJob is an async whole-catalog annotation run.
type AnnotationJob struct {
	EventBroadcaster

	ID    string
	state JobSnapshot
}

// GetStatus returns the current job status (implements SSEJob).
func (j *AnnotationJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Status
}

// Snapshot returns a copy safe to serialize while the job runs.
func (j *AnnotationJob) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

func (j *AnnotationJob) update(fn func(s *JobSnapshot)) {
	j.mu.Lock()
	fn(&j.state)
	j.mu.Unlock()
}

// Cancel stops the job. The run goroutine reports the final status.
func (j *AnnotationJob) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
	j.SendEvent(JobEvent{Type: "cancelling", Message: "Job cancelled by user"})
}

// finish records the terminal state and notifies listeners.
func (j *AnnotationJob) finish(status JobStatus, errMsg string) {
	now := time.Now()
	j.update(func(s *JobSnapshot) {
		s.Status = status
		s.Error = errMsg
		s.CompletedAt = &now
	})
	snap := j.Snapshot()
	switch status {
	case JobStatusCompleted:
		j.SendEvent(JobEvent{Type: "completed", Data: snap})
	case JobStatusCancelled:
		j.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled", Data: snap})
	default:
		j.SendEvent(JobEvent{Type: "job_error", Message: errMsg, Data: snap})
	}
}

// JobManager tracks annotation jobs. Only one job may run at a time;
// finished jobs are kept for status lookups.
type JobManager struct {
	jobs   map[string]*AnnotationJob
	active *AnnotationJob
	mu     sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{jobs: make(map[string]*AnnotationJob)}
}

// Start registers a new job unless one is already running.
func (m *JobManager) Start(id string, opts AnnotationJobOptions, cancel context.CancelFunc) (*AnnotationJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && !isJobTerminal(m.active.GetStatus()) {
		return m.active, false
	}
	job := &AnnotationJob{
		ID: id,
		state: JobSnapshot{
			ID:        id,
			Status:    JobStatusPending,
			Options:   opts,
			StartedAt: time.Now(),
		},
	}
	job.cancel = cancel
	m.jobs[id] = job
	m.active = job
	return job, true
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *AnnotationJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// Active returns the most recently started job, if any.
func (m *JobManager) Active() *AnnotationJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// CancelAll stops the running job, used on shutdown.
func (m *JobManager) CancelAll() {
	if job := m.Active(); job != nil && !isJobTerminal(job.GetStatus()) {
		job.Cancel()
	}
}
