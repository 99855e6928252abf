package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/seafloor/asyncjobs/pkg/core"
)

// GormStorage implements core.Storage using GORM.
//
// The *gorm.DB should be opened with TranslateError enabled so that
// violations of the incomplete-jobs unique index surface as
// gorm.ErrDuplicatedKey, which CreateJob maps to core.ErrDuplicateJob for
// the scheduler's get-or-create.
type GormStorage struct {
	db *gorm.DB
}

var _ core.Storage = (*GormStorage)(nil)

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB returns the underlying *gorm.DB.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables and indexes.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&core.Job{}, &core.JobGroup{}, &core.JobGroupUnit{})
}

// CreateJob inserts a new job. Returns core.ErrDuplicateJob when an
// incomplete job with the same identity already exists.
func (s *GormStorage) CreateJob(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	if job.AttemptNumber == 0 {
		job.AttemptNumber = 1
	}
	err := s.db.WithContext(ctx).Create(job).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return core.ErrDuplicateJob
	}
	return err
}

// SaveJob persists all fields of an existing job.
func (s *GormStorage) SaveJob(ctx context.Context, job *core.Job) error {
	return s.db.WithContext(ctx).Save(job).Error
}

// GetJob retrieves a job by ID. Returns nil, nil when absent.
func (s *GormStorage) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobsByID batch-fetches jobs by ID, optionally restricted to names.
func (s *GormStorage) GetJobsByID(ctx context.Context, ids []string, names []string) ([]*core.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := s.db.WithContext(ctx).Where("id IN ?", ids)
	if len(names) > 0 {
		q = q.Where("name IN ?", names)
	}
	var jobList []*core.Job
	err := q.Find(&jobList).Error
	return jobList, err
}

// FindIncompleteJob returns the (at most one) incomplete job with the given
// identity, or nil, nil.
func (s *GormStorage) FindIncompleteJob(ctx context.Context, name, argIdentifier string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).
		Where("name = ? AND arg_identifier = ?", name, argIdentifier).
		Where("status IN ?", core.IncompleteStatuses).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LatestCompletedJob returns the most recently created completed job with
// the given identity, or nil, nil. Used to carry attempt numbers across
// failures.
func (s *GormStorage) LatestCompletedJob(ctx context.Context, name, argIdentifier string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).
		Where("name = ? AND arg_identifier = ?", name, argIdentifier).
		Where("status IN ?", core.CompletedStatuses).
		Order("create_date DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimJob transitions a pending job to in-progress. The conditional update
// is the claim: of N concurrent claimers exactly one sees a row change.
// Returns nil, nil if the job wasn't pending.
func (s *GormStorage) ClaimJob(ctx context.Context, id string, now time.Time) (*core.Job, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND status = ?", id, core.StatusPending).
		Updates(map[string]any{
			"status":      core.StatusInProgress,
			"start_date":  now,
			"modify_date": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return s.GetJob(ctx, id)
}

// FinishJob moves an incomplete job to a terminal status and records the
// result message. Returns core.ErrNotFound if the job is absent or already
// completed.
func (s *GormStorage) FinishJob(ctx context.Context, id string, status core.JobStatus, message string) (*core.Job, error) {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", id).
		Where("status IN ?", core.IncompleteStatuses).
		Updates(map[string]any{
			"status":         status,
			"result_message": message,
			"modify_date":    time.Now(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, core.ErrNotFound
	}
	return s.GetJob(ctx, id)
}

// ExpediteJobs pulls ScheduledStartDate to now for the given pending jobs.
func (s *GormStorage) ExpediteJobs(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id IN ? AND status = ?", ids, core.StatusPending).
		Updates(map[string]any{
			"scheduled_start_date": now,
			"modify_date":          now,
		})
	return result.RowsAffected, result.Error
}

// ScheduledJobs returns pending jobs in scheduled order: jobs scheduled to
// start first get processed first, ties broken by ID for consistency.
// A zero dueBefore disables the due-date filter (immediate mode).
func (s *GormStorage) ScheduledJobs(ctx context.Context, dueBefore time.Time, limit int) ([]*core.Job, error) {
	q := s.scheduledQuery(ctx, dueBefore).
		Order("scheduled_start_date ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var jobList []*core.Job
	err := q.Find(&jobList).Error
	return jobList, err
}

// HasScheduledJobs reports whether any pending job is due.
func (s *GormStorage) HasScheduledJobs(ctx context.Context, dueBefore time.Time) (bool, error) {
	var count int64
	err := s.scheduledQuery(ctx, dueBefore).Count(&count).Error
	return count > 0, err
}

func (s *GormStorage) scheduledQuery(ctx context.Context, dueBefore time.Time) *gorm.DB {
	q := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ?", core.StatusPending)
	if !dueBefore.IsZero() {
		q = q.Where("scheduled_start_date < ?", dueBefore)
	}
	return q
}

// DeleteOldJobs removes jobs whose last activity is older than cutoff,
// skipping Persist jobs and jobs bound to a group unit (those are cleaned
// up with their group).
func (s *GormStorage) DeleteOldJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("modify_date < ? AND create_date < ?", cutoff, cutoff).
		Where("persist = ?", false).
		Where("NOT EXISTS (SELECT 1 FROM job_group_units u WHERE u.job_id = jobs.id)").
		Delete(&core.Job{})
	return result.RowsAffected, result.Error
}

// StuckJobs lists in-progress jobs whose last modification falls inside
// (oldest, newest), oldest first. The one-day window keeps the daily report
// from repeating the same jobs.
func (s *GormStorage) StuckJobs(ctx context.Context, oldest, newest time.Time) ([]*core.Job, error) {
	var jobList []*core.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", core.StatusInProgress).
		Where("modify_date < ? AND modify_date > ?", newest, oldest).
		Order("modify_date ASC, id ASC").
		Find(&jobList).Error
	return jobList, err
}
