// Package asyncjobs provides durable asynchronous job execution with
// status aggregation: a deduplicating job store and scheduler, a
// group/unit layer that rolls many jobs into one pollable request, and an
// ephemeral batch coordinator for on-demand media generation.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	db, _ := gorm.Open(sqlite.Open("jobs.db"), &gorm.Config{})
//	store := asyncjobs.NewGormStorage(db)
//	store.Migrate(context.Background())
//
//	reg := asyncjobs.NewRegistry()
//	reg.Register("extract-features", func(ctx context.Context, args []string) (string, error) {
//	    return extract(ctx, args[0])
//	})
//
//	local := asyncjobs.NewLocalBackend(reg)
//	sched := asyncjobs.NewScheduler(store, reg, local)
//	local.Bind(sched)
//
//	sched.ScheduleJob(ctx, "extract-features", []string{"image-123"})
//	go local.Start(ctx)
//	go sched.Run(ctx)
package asyncjobs

import (
	"gorm.io/gorm"

	"github.com/seafloor/asyncjobs/pkg/backend"
	"github.com/seafloor/asyncjobs/pkg/core"
	"github.com/seafloor/asyncjobs/pkg/group"
	"github.com/seafloor/asyncjobs/pkg/mediabatch"
	"github.com/seafloor/asyncjobs/pkg/registry"
	"github.com/seafloor/asyncjobs/pkg/runner"
	"github.com/seafloor/asyncjobs/pkg/schedule"
	"github.com/seafloor/asyncjobs/pkg/security"
	"github.com/seafloor/asyncjobs/pkg/storage"
)

// Type aliases for the public API
type (
	// Job is one durable unit of work.
	Job = core.Job

	// JobStatus represents a job's position in its lifecycle.
	JobStatus = core.JobStatus

	// JobGroup aggregates an ordered batch of unit jobs.
	JobGroup = core.JobGroup

	// JobGroupUnit is one unit of work within a JobGroup.
	JobGroupUnit = core.JobGroupUnit

	// GroupStatus is a group's computed overall status.
	GroupStatus = core.GroupStatus

	// Storage defines the persistence layer for jobs and groups.
	Storage = core.Storage

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage

	// Registry maps job names to handlers and scheduling metadata.
	Registry = registry.Registry

	// Handler is a job's work function.
	Handler = registry.Handler

	// Scheduler creates, schedules, executes, and maintains jobs.
	Scheduler = runner.Scheduler

	// Schedule decides when a periodic job runs next.
	Schedule = schedule.Schedule

	// Backend accepts jobs for execution.
	Backend = backend.Backend

	// LocalBackend executes jobs on in-process worker pools.
	LocalBackend = backend.Local

	// RemoteBackend hands jobs to an external compute service.
	RemoteBackend = backend.Remote

	// Transport moves job descriptors to a remote service and back.
	Transport = backend.Transport

	// Aggregator creates job groups and reports on them.
	Aggregator = group.Aggregator

	// UnitSpec describes one unit of a group request.
	UnitSpec = group.UnitSpec

	// MediaBatch coordinates on-demand media generation.
	MediaBatch = mediabatch.Coordinator

	// MediaCache is the expiring store behind media batch ledgers.
	MediaCache = mediabatch.Cache
)

// Job status constants
const (
	StatusPending    = core.StatusPending
	StatusInProgress = core.StatusInProgress
	StatusSuccess    = core.StatusSuccess
	StatusFailure    = core.StatusFailure
)

// Group status constants
const (
	GroupPending    = core.GroupPending
	GroupInProgress = core.GroupInProgress
	GroupDone       = core.GroupDone
)

// Queue classes
const (
	QueueBackground = registry.QueueBackground
	QueueRealtime   = registry.QueueRealtime
)

// Security limits
const (
	MaxJobNameLength       = security.MaxJobNameLength
	MaxArgIdentifierLength = security.MaxArgIdentifierLength
	MaxResultMessageLength = security.MaxResultMessageLength
	MaxConcurrency         = security.MaxConcurrency
)

// Error variables
var (
	ErrInvalidJobName       = core.ErrInvalidJobName
	ErrJobNameTooLong       = core.ErrJobNameTooLong
	ErrArgIdentifierTooLong = core.ErrArgIdentifierTooLong
	ErrInvalidUnitPayload   = core.ErrInvalidUnitPayload
	ErrUnknownJobName       = core.ErrUnknownJobName
	ErrDuplicateJob         = core.ErrDuplicateJob
	ErrNotFound             = core.ErrNotFound
	ErrGroupNotDone         = core.ErrGroupNotDone
)

// NewGormStorage creates a GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return registry.New()
}

// NewScheduler ties storage, a registry, and a backend together.
func NewScheduler(s Storage, reg *Registry, be Backend, opts ...runner.Option) *Scheduler {
	return runner.New(s, reg, be, opts...)
}

// NewLocalBackend creates an in-process backend with per-queue pools.
func NewLocalBackend(queues backend.QueueResolver, opts ...backend.LocalOption) *LocalBackend {
	return backend.NewLocal(queues, opts...)
}

// NewRemoteBackend creates a backend that ships jobs over a transport.
// Bind the scheduler before submitting.
func NewRemoteBackend(t Transport, opts ...backend.RemoteOption) *RemoteBackend {
	return backend.NewRemote(t, opts...)
}

// NewAggregator creates a job group aggregator.
func NewAggregator(s Storage, sched *Scheduler, opts ...group.Option) *Aggregator {
	return group.New(s, sched, opts...)
}

// NewMediaBatch creates a media batch coordinator.
func NewMediaBatch(cache MediaCache, sched *Scheduler, s Storage, opts ...mediabatch.Option) *MediaBatch {
	return mediabatch.New(cache, sched, s, opts...)
}

// Fail wraps an error as an expected job failure: the message is recorded
// on the job without the unexpected-error log noise.
func Fail(err error) error {
	return core.Fail(err)
}

// Failf is Fail with formatting.
func Failf(format string, args ...any) error {
	return core.Failf(format, args...)
}

// ValidateJobName checks a job name against the registration rules.
func ValidateJobName(name string) error {
	return security.ValidateJobName(name)
}
