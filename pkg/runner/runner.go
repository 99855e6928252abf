package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seafloor/asyncjobs/pkg/backend"
	"github.com/seafloor/asyncjobs/pkg/core"
	"github.com/seafloor/asyncjobs/pkg/jobctx"
	"github.com/seafloor/asyncjobs/pkg/registry"
	"github.com/seafloor/asyncjobs/pkg/security"
)

// FinishHook is called after a job reaches a completed status. Hooks run
// synchronously in the finishing goroutine.
type FinishHook func(ctx context.Context, job *core.Job)

// Scheduler ties the durable store, the handler registry, and a queue
// backend together. It is the entry point for creating and scheduling
// jobs and it implements backend.Executor and backend.Claimer, so
// backends call back into it to run the jobs they carry.
type Scheduler struct {
	storage  core.Storage
	registry *registry.Registry
	backend  backend.Backend

	logger     *slog.Logger
	jitter     func() time.Duration
	runBudget  time.Duration
	retention  time.Duration
	stuckAfter time.Duration
	immediate  bool

	onFinish []FinishHook
}

var (
	_ backend.Executor      = (*Scheduler)(nil)
	_ backend.Claimer       = (*Scheduler)(nil)
	_ backend.QueueResolver = (*registry.Registry)(nil)
)

// New creates a Scheduler.
func New(storage core.Storage, reg *registry.Registry, be backend.Backend, opts ...Option) *Scheduler {
	s := &Scheduler{
		storage:    storage,
		registry:   reg,
		backend:    be,
		logger:     slog.Default(),
		jitter:     defaultJitter,
		runBudget:  DefaultRunBudget,
		retention:  DefaultRetention,
		stuckAfter: DefaultStuckAfter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the handler registry the scheduler dispatches from.
func (s *Scheduler) Registry() *registry.Registry { return s.registry }

// Storage returns the underlying durable store.
func (s *Scheduler) Storage() core.Storage { return s.storage }

// OnFinish registers a hook invoked whenever a job completes. Not safe to
// call concurrently with running jobs; register hooks during setup.
func (s *Scheduler) OnFinish(hook FinishHook) {
	s.onFinish = append(s.onFinish, hook)
}

// JobOption adjusts a job at creation time. The alias keeps callers that
// only know core.Job (the group aggregator) compatible with the
// scheduler's variadic options.
type JobOption = func(*core.Job)

// Persist marks the job as exempt from the age-based cleanup sweep.
func Persist() JobOption {
	return func(j *core.Job) { j.Persist = true }
}

// Hidden excludes the job from user-facing listings.
func Hidden() JobOption {
	return func(j *core.Job) { j.Hidden = true }
}

// WithSourceRef attaches an application-defined source reference.
func WithSourceRef(ref string) JobOption {
	return func(j *core.Job) { j.SourceRef = ref }
}

// WithUserRef attaches an application-defined user reference.
func WithUserRef(ref string) JobOption {
	return func(j *core.Job) { j.UserRef = ref }
}

// ----------------------------------------------------------------------------
// Creation and scheduling
// ----------------------------------------------------------------------------

// GetOrCreateJob returns the incomplete job for (name, args), creating one
// if none exists. The second return reports whether a new job was created.
//
// Creation races are resolved by the store's incomplete-jobs unique index:
// on a duplicate-key conflict the loser refetches the winner's row. The
// attempt number of a new job continues from the latest completed failure
// of the same identity, so repeated failures accumulate across retries.
func (s *Scheduler) GetOrCreateJob(ctx context.Context, name string, args []string, opts ...JobOption) (*core.Job, bool, error) {
	if err := security.ValidateJobName(name); err != nil {
		return nil, false, err
	}
	identifier := core.ArgsToIdentifier(args)
	if err := security.ValidateArgIdentifier(identifier); err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		existing, err := s.storage.FindIncompleteJob(ctx, name, identifier)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}

		job := &core.Job{Name: name, ArgIdentifier: identifier}
		for _, opt := range opts {
			opt(job)
		}

		last, err := s.storage.LatestCompletedJob(ctx, name, identifier)
		if err != nil {
			return nil, false, err
		}
		if last != nil && last.Status == core.StatusFailure {
			job.AttemptNumber = last.AttemptNumber + 1
			if job.AttemptNumber > ManyFailures {
				s.logger.Warn("job is failing repeatedly",
					"job", job.String(), "attempt", job.AttemptNumber)
			}
		}

		err = s.storage.CreateJob(ctx, job)
		if err == nil {
			return job, true, nil
		}
		if !errors.Is(err, core.ErrDuplicateJob) {
			return nil, false, err
		}
		// Lost the race; loop around and pick up the winner.
	}
	return nil, false, fmt.Errorf("get or create job %s: %w", name, core.ErrTooManyIterations)
}

// ScheduleJob ensures an incomplete job exists for (name, args) and gives
// it a scheduled start date. A freshly created job is scheduled at now
// plus a small jitter, or deferred three days when the identity has failed
// more than ManyFailures times. An existing pending job is pulled earlier
// if the requested date precedes its current one; in-progress jobs are
// left alone.
func (s *Scheduler) ScheduleJob(ctx context.Context, name string, args []string, opts ...JobOption) (*core.Job, error) {
	return s.scheduleJobAt(ctx, name, args, time.Time{}, opts...)
}

// ScheduleJobAt is ScheduleJob with an explicit start date.
func (s *Scheduler) ScheduleJobAt(ctx context.Context, name string, args []string, startDate time.Time, opts ...JobOption) (*core.Job, error) {
	return s.scheduleJobAt(ctx, name, args, startDate, opts...)
}

func (s *Scheduler) scheduleJobAt(ctx context.Context, name string, args []string, startDate time.Time, opts ...JobOption) (*core.Job, error) {
	job, created, err := s.GetOrCreateJob(ctx, name, args, opts...)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if startDate.IsZero() {
		startDate = now.Add(s.jitter())
	}

	if created {
		if job.AttemptNumber > ManyFailures {
			// Back off identities that keep failing; a successful manual
			// run resets the attempt count.
			deferUntil := now.Add(3 * 24 * time.Hour)
			if startDate.Before(deferUntil) {
				startDate = deferUntil
			}
		}
		job.ScheduledStartDate = &startDate
		if err := s.storage.SaveJob(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}

	if job.Status != core.StatusPending {
		return job, nil
	}
	if job.AttemptNumber > ManyFailures {
		return job, nil
	}
	if job.ScheduledStartDate != nil && !startDate.Before(*job.ScheduledStartDate) {
		return job, nil
	}
	job.ScheduledStartDate = &startDate
	if err := s.storage.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// ExpediteJobs clears the remaining wait of the given pending jobs so the
// next scheduling pass picks them up. Returns how many were updated.
func (s *Scheduler) ExpediteJobs(ctx context.Context, ids ...string) (int64, error) {
	return s.storage.ExpediteJobs(ctx, ids, time.Now().UTC())
}

// ----------------------------------------------------------------------------
// Execution
// ----------------------------------------------------------------------------

// StartJob hands an existing job to the backend for execution. The job's
// name must be registered and its start condition, if any, must hold.
func (s *Scheduler) StartJob(ctx context.Context, job *core.Job) error {
	def, ok := s.registry.Get(job.Name)
	if !ok {
		return fmt.Errorf("start job %s: %w", job.Name, core.ErrUnknownJobName)
	}
	if def.StartCondition != nil {
		ok, err := def.StartCondition(ctx, job)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	return s.backend.Submit(ctx, job)
}

// ClaimJob flips the job from pending to in-progress. The false return
// means another worker got there first (or the job no longer exists).
func (s *Scheduler) ClaimJob(ctx context.Context, jobID string) (bool, error) {
	job, err := s.storage.ClaimJob(ctx, jobID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return job != nil, nil
}

// ExecuteJob claims and runs a job by ID. Handler panics and errors become
// failure statuses; only a storage error escapes. Satisfies
// backend.Executor.
func (s *Scheduler) ExecuteJob(ctx context.Context, jobID string) error {
	job, err := s.storage.ClaimJob(ctx, jobID, time.Now().UTC())
	if err != nil {
		return err
	}
	if job == nil {
		// Already running or finished elsewhere.
		return nil
	}

	def, ok := s.registry.Get(job.Name)
	if !ok {
		s.logger.Error("unrecognized job name", "job", job.String())
		return s.FinishJob(ctx, job, core.StatusFailure, "Unrecognized job name")
	}

	message, runErr := s.runHandler(ctx, def, job)
	if runErr == nil {
		return s.FinishJob(ctx, job, core.StatusSuccess, message)
	}

	var jobErr *core.JobError
	if errors.As(runErr, &jobErr) {
		// Expected failure; the message is safe to surface.
		return s.FinishJob(ctx, job, core.StatusFailure, runErr.Error())
	}
	s.logger.Error("job raised an unexpected error",
		"job", job.String(), "error", runErr)
	return s.FinishJob(ctx, job, core.StatusFailure, runErr.Error())
}

func (s *Scheduler) runHandler(ctx context.Context, def *registry.Definition, job *core.Job) (message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	ctx = jobctx.WithJob(ctx, job)
	return def.Handler(ctx, core.IdentifierToArgs(job.ArgIdentifier))
}

// FinishJob records a terminal status for an in-progress or pending job.
// Periodic jobs are rescheduled onto their next grid slot, and finish
// hooks run afterwards.
func (s *Scheduler) FinishJob(ctx context.Context, job *core.Job, status core.JobStatus, message string) error {
	message = security.SanitizeResultMessage(message)
	finished, err := s.storage.FinishJob(ctx, job.ID, status, message)
	if err != nil {
		return err
	}
	*job = *finished

	if def, ok := s.registry.Get(job.Name); ok && def.Periodic != nil {
		next := def.Periodic.Next(time.Now().UTC())
		if _, err := s.ScheduleJobAt(ctx, job.Name, core.IdentifierToArgs(job.ArgIdentifier), next); err != nil {
			s.logger.Error("failed to reschedule periodic job",
				"job", job.String(), "error", err)
		}
	}

	for _, hook := range s.onFinish {
		hook(ctx, job)
	}
	return nil
}

// AbortJob force-finishes an incomplete job as a failure. The handler, if
// one is running, is not interrupted; its eventual finish will be a no-op.
func (s *Scheduler) AbortJob(ctx context.Context, jobID string) error {
	job, err := s.storage.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return core.ErrNotFound
	}
	return s.FinishJob(ctx, job, core.StatusFailure, "Aborted manually")
}
