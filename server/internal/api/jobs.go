package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/fleetd-io/fleetd/server/internal/db"
	"github.com/fleetd-io/fleetd/server/internal/repositories"
)

// JobHandler groups all job-related HTTP handlers.
// Jobs are read-only from the API's perspective — they are created and
// driven exclusively by job.Engine as nodes execute unit commands; this
// handler only ever reads the durable archive in JobHistoryRecord.
type JobHandler struct {
	repo   repositories.JobRepository
	logger *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(repo repositories.JobRepository, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		repo:   repo,
		logger: logger.Named("job_handler"),
	}
}

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

// jobLogResponse represents a single log line from a job execution.
type jobLogResponse struct {
	ID        string `json:"id"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// jobResponse is the JSON representation of a job.
type jobResponse struct {
	ID          string           `json:"id"`
	NodeName    string           `json:"node_name"`
	JobType     string           `json:"job_type"`
	Unit        string           `json:"unit,omitempty"`
	Mode        string           `json:"mode,omitempty"`
	State       string           `json:"state"`
	Result      string           `json:"result,omitempty"`
	Message     string           `json:"message,omitempty"`
	SubmittedAt string           `json:"submitted_at"`
	StartedAt   *string          `json:"started_at"`
	EndedAt     *string          `json:"ended_at"`
	Logs        []jobLogResponse `json:"logs,omitempty"`
}

// jobToResponse converts a db.JobHistoryRecord and its logs to a jobResponse.
// Pass nil logs when building list responses where log lines are not needed.
func jobToResponse(j *db.JobHistoryRecord, logs []db.JobLogEntry) jobResponse {
	resp := jobResponse{
		ID:          j.ID.String(),
		NodeName:    j.NodeName,
		JobType:     j.JobType,
		Unit:        j.Unit,
		Mode:        j.Mode,
		State:       j.State,
		Result:      j.Result,
		Message:     j.Message,
		SubmittedAt: j.SubmittedAt.UTC().String(),
	}

	if j.StartedAt != nil {
		s := j.StartedAt.UTC().String()
		resp.StartedAt = &s
	}
	if j.EndedAt != nil {
		s := j.EndedAt.UTC().String()
		resp.EndedAt = &s
	}

	if len(logs) > 0 {
		resp.Logs = make([]jobLogResponse, len(logs))
		for i, l := range logs {
			resp.Logs[i] = jobLogResponse{
				ID:        l.ID.String(),
				Level:     l.Level,
				Message:   l.Message,
				Timestamp: l.Timestamp.UTC().String(),
			}
		}
	}

	return resp
}

// listJobsResponse wraps a paginated list of jobs.
type listJobsResponse struct {
	Items []jobResponse `json:"items"`
	Total int64         `json:"total"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// List handles GET /api/v1/jobs.
// Supports optional filtering by node_name via query parameter.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := paginationOpts(r)

	if nodeName := r.URL.Query().Get("node_name"); nodeName != "" {
		jobs, total, err := h.repo.ListByNode(r.Context(), nodeName, opts)
		if err != nil {
			h.logger.Error("failed to list jobs by node", zap.String("node_name", nodeName), zap.Error(err))
			ErrInternal(w)
			return
		}
		h.writeJobList(w, jobs, total)
		return
	}

	jobs, total, err := h.repo.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		ErrInternal(w)
		return
	}
	h.writeJobList(w, jobs, total)
}

// GetByID handles GET /api/v1/jobs/{id}.
// Returns the job with its log entries preloaded, ordered ascending by timestamp.
func (h *JobHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	job, logs, err := h.repo.GetByIDWithLogs(r.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			ErrNotFound(w)
			return
		}
		h.logger.Error("failed to get job", zap.String("id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	Ok(w, jobToResponse(job, logs))
}

// GetLogs handles GET /api/v1/jobs/{id}/logs.
// Returns all log lines for the job ordered by timestamp ascending.
func (h *JobHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUUID(w, r, "id")
	if !ok {
		return
	}

	logs, err := h.repo.GetLogs(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get job logs", zap.String("job_id", id.String()), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]jobLogResponse, len(logs))
	for i, l := range logs {
		items[i] = jobLogResponse{
			ID:        l.ID.String(),
			Level:     l.Level,
			Message:   l.Message,
			Timestamp: l.Timestamp.UTC().String(),
		}
	}

	Ok(w, items)
}

// -----------------------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------------------

// writeJobList converts a slice of db.JobHistoryRecord to a listJobsResponse
// and writes it. Logs are never included in list responses — only in single-job
// detail via GetByID or GetLogs.
func (h *JobHandler) writeJobList(w http.ResponseWriter, jobs []db.JobHistoryRecord, total int64) {
	items := make([]jobResponse, len(jobs))
	for i := range jobs {
		items[i] = jobToResponse(&jobs[i], nil)
	}
	Ok(w, listJobsResponse{Items: items, Total: total})
}
