package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetd-io/fleetd/server/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// gormJobRepository is the GORM implementation of JobRepository.
type gormJobRepository struct {
	db *gorm.DB
}

// NewJobRepository returns a JobRepository backed by the provided *gorm.DB.
func NewJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

// Create inserts a new job history record into the database.
func (r *gormJobRepository) Create(ctx context.Context, job *db.JobHistoryRecord) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("jobs: create: %w", err)
	}
	return nil
}

// GetByID retrieves a job history record by its UUID.
// Returns ErrNotFound if no record exists.
func (r *gormJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*db.JobHistoryRecord, error) {
	var job db.JobHistoryRecord
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get by id: %w", err)
	}
	return &job, nil
}

// GetByIDWithLogs retrieves a job together with its JobLogEntry records.
// Logs are returned as a separate value rather than embedded in the record,
// because GORM cannot auto-resolve UUID-typed foreign keys (see db/models.go
// for rationale). Logs are ordered by timestamp ascending so the caller can
// replay execution order without additional sorting.
func (r *gormJobRepository) GetByIDWithLogs(ctx context.Context, id uuid.UUID) (*db.JobHistoryRecord, []db.JobLogEntry, error) {
	var job db.JobHistoryRecord
	err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("jobs: get by id with logs: %w", err)
	}

	var logs []db.JobLogEntry
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", id).
		Order("timestamp ASC").
		Find(&logs).Error; err != nil {
		return nil, nil, fmt.Errorf("jobs: get logs for job %s: %w", id, err)
	}

	return &job, logs, nil
}

// Update persists all fields of an existing job history record.
func (r *gormJobRepository) Update(ctx context.Context, job *db.JobHistoryRecord) error {
	result := r.db.WithContext(ctx).Save(job)
	if result.Error != nil {
		return fmt.Errorf("jobs: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateState updates only the state, result, message, started_at, and
// ended_at columns — called on job start and on terminal transition to
// avoid overwriting fields touched elsewhere (e.g. bulk-inserted logs).
func (r *gormJobRepository) UpdateState(ctx context.Context, id uuid.UUID, state, result, message string, startedAt, endedAt *time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&db.JobHistoryRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      state,
			"result":     result,
			"message":    message,
			"started_at": startedAt,
			"ended_at":   endedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("jobs: update state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a paginated list of job history records and the total count,
// ordered by submission time descending (most recent first).
func (r *gormJobRepository) List(ctx context.Context, opts ListOptions) ([]db.JobHistoryRecord, int64, error) {
	var jobs []db.JobHistoryRecord
	var total int64

	if err := r.db.WithContext(ctx).Model(&db.JobHistoryRecord{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("submitted_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list: %w", err)
	}

	return jobs, total, nil
}

// ListByNode returns a paginated list of job history records for a given
// node, ordered by submission time descending.
func (r *gormJobRepository) ListByNode(ctx context.Context, nodeName string, opts ListOptions) ([]db.JobHistoryRecord, int64, error) {
	var jobs []db.JobHistoryRecord
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&db.JobHistoryRecord{}).
		Where("node_name = ?", nodeName).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list by node count: %w", err)
	}

	if err := r.db.WithContext(ctx).
		Where("node_name = ?", nodeName).
		Limit(opts.Limit).
		Offset(opts.Offset).
		Order("submitted_at DESC").
		Find(&jobs).Error; err != nil {
		return nil, 0, fmt.Errorf("jobs: list by node: %w", err)
	}

	return jobs, total, nil
}

// -----------------------------------------------------------------------------
// JobLogEntry
// -----------------------------------------------------------------------------

// BulkCreateLogs inserts multiple log lines in a single database statement.
// Logs are collected during job execution and inserted all at once at
// completion to minimize write pressure during the run.
func (r *gormJobRepository) BulkCreateLogs(ctx context.Context, logs []db.JobLogEntry) error {
	if len(logs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&logs).Error; err != nil {
		return fmt.Errorf("jobs: bulk create logs: %w", err)
	}
	return nil
}

// GetLogs returns all log lines for a job ordered by timestamp ascending.
// Used to replay the full execution log in the job detail view.
func (r *gormJobRepository) GetLogs(ctx context.Context, jobID uuid.UUID) ([]db.JobLogEntry, error) {
	var logs []db.JobLogEntry
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("timestamp ASC").
		Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("jobs: get logs: %w", err)
	}
	return logs, nil
}
