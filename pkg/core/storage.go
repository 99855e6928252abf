package core

import (
	"context"
	"time"
)

// Storage defines the persistence layer for jobs and job groups.
type Storage interface {
	// Migrate creates the necessary database tables and indexes.
	Migrate(ctx context.Context) error

	// Job lifecycle.
	// CreateJob inserts a pending job. A duplicate incomplete identity
	// surfaces as gorm's translated duplicate-key error; callers resolve
	// it by fetching the winner (see FindIncompleteJob).
	CreateJob(ctx context.Context, job *Job) error
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)

	// GetJobsByID batch-fetches jobs, optionally restricted to the given
	// names so one caller can't read results of unrelated job types.
	GetJobsByID(ctx context.Context, ids []string, names []string) ([]*Job, error)

	FindIncompleteJob(ctx context.Context, name, argIdentifier string) (*Job, error)
	LatestCompletedJob(ctx context.Context, name, argIdentifier string) (*Job, error)

	// ClaimJob transitions pending -> in_progress and sets StartDate.
	// Returns nil, nil if the job is not currently pending.
	ClaimJob(ctx context.Context, id string, now time.Time) (*Job, error)

	// FinishJob transitions in_progress -> success/failure and records the
	// (already sanitized) result message.
	FinishJob(ctx context.Context, id string, status JobStatus, message string) (*Job, error)

	// ExpediteJobs pulls ScheduledStartDate to now for the given pending
	// jobs and reports how many rows changed.
	ExpediteJobs(ctx context.Context, ids []string, now time.Time) (int64, error)

	// ScheduledJobs returns pending jobs in scheduled order. A zero
	// dueBefore disables the due-date filter (immediate mode).
	ScheduledJobs(ctx context.Context, dueBefore time.Time, limit int) ([]*Job, error)
	HasScheduledJobs(ctx context.Context, dueBefore time.Time) (bool, error)

	// Cleanup and reporting.
	// DeleteOldJobs removes completed-or-abandoned jobs last modified
	// before cutoff, skipping Persist jobs and jobs bound to a group unit.
	DeleteOldJobs(ctx context.Context, cutoff time.Time) (int64, error)

	// StuckJobs lists in-progress jobs whose last modification falls in
	// [oldest, newest), oldest-first.
	StuckJobs(ctx context.Context, oldest, newest time.Time) ([]*Job, error)

	// Job groups.
	CreateGroup(ctx context.Context, group *JobGroup) error
	GetGroup(ctx context.Context, id string) (*JobGroup, error)

	// DeleteGroup removes a group and its units. Compensation path for a
	// group whose creation could not complete; the unit jobs stay.
	DeleteGroup(ctx context.Context, id string) error

	// CreateUnits bulk-inserts units in submission order, chunkSize rows
	// per INSERT.
	CreateUnits(ctx context.Context, units []*JobGroupUnit, chunkSize int) error
	UnitsInOrder(ctx context.Context, groupID string) ([]*JobGroupUnit, error)
	UnitForJob(ctx context.Context, jobID string) (*JobGroupUnit, error)
	SaveUnitResult(ctx context.Context, unitID string, payload []byte) error

	// GroupStatusCounts aggregates the unit jobs' statuses in one query.
	GroupStatusCounts(ctx context.Context, groupID string) (*GroupStatusCounts, error)
	SetGroupFinishDate(ctx context.Context, groupID string, t time.Time) error

	ActiveGroupsForRequester(ctx context.Context, requester string) ([]*JobGroup, error)
	CompletedGroupsForRequester(ctx context.Context, requester string, limit int) ([]*JobGroup, error)
	ActiveGroupCount(ctx context.Context, requester string) (int64, error)

	// DeleteOldGroups removes groups (cascading to units and their jobs)
	// whose units have all been quiet since before cutoff. Returns deleted
	// group and job counts.
	DeleteOldGroups(ctx context.Context, cutoff time.Time) (groups, jobs int64, err error)
}
