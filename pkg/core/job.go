package core

import (
	"strings"
	"time"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusInProgress JobStatus = "in_progress"
	StatusSuccess    JobStatus = "success"
	StatusFailure    JobStatus = "failure"
)

// IncompleteStatuses are the statuses a job can hold while it still counts
// against the one-incomplete-job-per-identity constraint.
var IncompleteStatuses = []JobStatus{StatusPending, StatusInProgress}

// CompletedStatuses are the terminal statuses.
var CompletedStatuses = []JobStatus{StatusSuccess, StatusFailure}

// Incomplete reports whether the status is pending or in-progress.
func (s JobStatus) Incomplete() bool {
	return s == StatusPending || s == StatusInProgress
}

// Completed reports whether the status is terminal.
func (s JobStatus) Completed() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Job tracks one unit of deduplicated asynchronous work.
//
// Identity is (Name, ArgIdentifier). A partial unique index over the
// incomplete statuses guarantees at most one incomplete job per identity;
// concurrent creators converge on the same row instead of racing.
type Job struct {
	ID   string `gorm:"primaryKey;size:36"`
	Name string `gorm:"size:100;not null;uniqueIndex:ux_incomplete_jobs,where:status = 'pending' OR status = 'in_progress'"`

	// ArgIdentifier is a deterministic, order-sensitive encoding of the
	// arguments the job was created with. Jobs with the same name and
	// identifier are doing the same thing.
	ArgIdentifier string `gorm:"size:100;uniqueIndex:ux_incomplete_jobs,where:status = 'pending' OR status = 'in_progress'"`

	Status JobStatus `gorm:"index;size:20;default:'pending'"`

	// ResultMessage holds an error message or comment about the result.
	// Sanitized and size-capped before storage.
	ResultMessage string `gorm:"size:5000"`

	// AttemptNumber is previous attempt + 1 when this job re-creates a
	// previously failed identity, which makes repeat failures traceable.
	AttemptNumber int `gorm:"default:1"`

	// Persist excludes the job from the age-based cleanup sweep.
	Persist bool `gorm:"default:false"`

	// Hidden excludes the job from default listings, not from queries.
	Hidden bool `gorm:"default:false"`

	// SourceRef is the logical owner/tenant, if applicable. Used for
	// filtering and cleanup scoping.
	SourceRef string `gorm:"index;size:255"`

	// UserRef identifies who initiated the job, if anyone.
	UserRef string `gorm:"size:255"`

	CreateDate time.Time `gorm:"autoCreateTime"`

	// ScheduledStartDate may be in the future (delayed or periodic runs).
	// Nil means the job is started by a specific caller, not the scheduler.
	ScheduledStartDate *time.Time `gorm:"index"`

	// StartDate is when the status changed to in-progress.
	StartDate *time.Time

	ModifyDate time.Time `gorm:"autoUpdateTime;index"`
}

func (j *Job) String() string {
	s := j.Name
	if j.ArgIdentifier != "" {
		s += " / " + j.ArgIdentifier
	}
	return s
}

// ArgsToIdentifier builds a Job's ArgIdentifier from its arguments.
// Order-sensitive; used for dedup equality.
func ArgsToIdentifier(args []string) string {
	return strings.Join(args, ",")
}

// IdentifierToArgs reverses ArgsToIdentifier. The args come back in string
// form, and this doesn't work if the args themselves contain commas.
func IdentifierToArgs(identifier string) []string {
	if identifier == "" {
		return nil
	}
	return strings.Split(identifier, ",")
}
