package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seafloor/asyncjobs/pkg/backend"
	"github.com/seafloor/asyncjobs/pkg/core"
	"github.com/seafloor/asyncjobs/pkg/registry"
	"github.com/seafloor/asyncjobs/pkg/schedule"
)

// Names of the scheduler's own housekeeping jobs.
const (
	JobNameRunScheduled  = "run_scheduled_jobs"
	JobNameCleanUp       = "clean_up_old_jobs"
	JobNameReportStuck   = "report_stuck_jobs"
	JobNameCollectRemote = "collect_remote_results"
)

// schedulingBatch is how many due jobs one pass fetches per storage query.
const schedulingBatch = 100

// budgetCheckInterval is how often a pass checks its wall-clock budget.
const budgetCheckInterval = 10

// RunScheduledJobs starts every pending job whose scheduled start date has
// arrived. At most one pass runs at a time: each pass claims a tracking
// job for itself and skips out if another pass holds it. Returns the
// pass's summary message, or "" when the pass was skipped.
func (s *Scheduler) RunScheduledJobs(ctx context.Context) (string, error) {
	tracker, _, err := s.GetOrCreateJob(ctx, JobNameRunScheduled, nil, Hidden())
	if err != nil {
		return "", err
	}
	claimed, err := s.storage.ClaimJob(ctx, tracker.ID, time.Now().UTC())
	if err != nil {
		return "", err
	}
	if claimed == nil {
		s.logger.Debug("scheduled-jobs pass already in progress")
		return "", nil
	}
	tracker = claimed

	message, runErr := s.runScheduledPass(ctx)
	if runErr != nil {
		if finishErr := s.FinishJob(ctx, tracker, core.StatusFailure, runErr.Error()); finishErr != nil {
			s.logger.Error("failed to finish scheduling tracker", "error", finishErr)
		}
		return "", runErr
	}
	if err := s.FinishJob(ctx, tracker, core.StatusSuccess, message); err != nil {
		return "", err
	}
	return message, nil
}

func (s *Scheduler) runScheduledPass(ctx context.Context) (string, error) {
	deadline := time.Now().Add(s.runBudget)
	var started int
	var examples []string

	for {
		dueBefore := time.Now().UTC()
		if s.immediate {
			dueBefore = time.Time{}
		}
		jobs, err := s.storage.ScheduledJobs(ctx, dueBefore, schedulingBatch)
		if err != nil {
			return "", err
		}
		if len(jobs) == 0 {
			break
		}
		for i, job := range jobs {
			if err := s.StartJob(ctx, job); err != nil {
				s.logger.Error("failed to start scheduled job",
					"job", job.String(), "error", err)
				continue
			}
			started++
			if len(examples) < 3 {
				examples = append(examples, job.String())
			}
			if (i+1)%budgetCheckInterval == 0 && time.Now().After(deadline) {
				s.logger.Info("scheduling pass hit its time budget", "started", started)
				return passMessage(started, examples), nil
			}
		}
		if len(jobs) < schedulingBatch {
			break
		}
		if time.Now().After(deadline) {
			s.logger.Info("scheduling pass hit its time budget", "started", started)
			break
		}
	}
	return passMessage(started, examples), nil
}

func passMessage(started int, examples []string) string {
	if started == 0 {
		return "Ran 0 jobs"
	}
	return fmt.Sprintf("Ran %d jobs, including: %s", started, strings.Join(examples, ", "))
}

// RunScheduledJobsUntilEmpty repeats scheduling passes until no runnable
// pending jobs remain. Meant for tests and immediate backends, where a
// finished job may schedule more work in the same breath. Gives up with
// core.ErrTooManyIterations past 100 passes.
func (s *Scheduler) RunScheduledJobsUntilEmpty(ctx context.Context) error {
	for i := 0; i < 100; i++ {
		if _, err := s.RunScheduledJobs(ctx); err != nil {
			return err
		}
		dueBefore := time.Now().UTC()
		if s.immediate {
			dueBefore = time.Time{}
		}
		more, err := s.storage.HasScheduledJobs(ctx, dueBefore)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return fmt.Errorf("run scheduled jobs until empty: %w", core.ErrTooManyIterations)
}

// SchedulePeriodicJobs ensures every periodic definition has a pending job
// on its next grid slot. Safe to call repeatedly; existing pending jobs
// are left on their earlier slot.
func (s *Scheduler) SchedulePeriodicJobs(ctx context.Context) error {
	now := time.Now().UTC()
	for _, def := range s.registry.PeriodicDefinitions() {
		next := def.Periodic.Next(now)
		if _, err := s.ScheduleJobAt(ctx, def.Name, nil, next, Hidden()); err != nil {
			return fmt.Errorf("schedule periodic job %s: %w", def.Name, err)
		}
	}
	return nil
}

// CleanUpOldJobs deletes completed jobs and quiet job groups older than the
// retention window. Persist-flagged jobs and jobs still bound to a live
// group survive. Returns a human-readable summary.
func (s *Scheduler) CleanUpOldJobs(ctx context.Context) (string, error) {
	cutoff := time.Now().UTC().Add(-s.retention)

	groups, groupJobs, err := s.storage.DeleteOldGroups(ctx, cutoff)
	if err != nil {
		return "", err
	}
	jobs, err := s.storage.DeleteOldJobs(ctx, cutoff)
	if err != nil {
		return "", err
	}

	message := fmt.Sprintf("Deleted %d jobs and %d job groups (%d unit jobs)",
		jobs, groups, groupJobs)
	s.logger.Info("cleaned up old jobs",
		"jobs", jobs, "groups", groups, "group_jobs", groupJobs)
	return message, nil
}

// ReportStuckJobs logs in-progress jobs that have gone unmodified for the
// stuck threshold. Each job is reported once: the window only covers one
// day, so yesterday's report already covered anything older.
func (s *Scheduler) ReportStuckJobs(ctx context.Context) (string, error) {
	now := time.Now().UTC()
	newest := now.Add(-s.stuckAfter)
	oldest := newest.Add(-24 * time.Hour)

	stuck, err := s.storage.StuckJobs(ctx, oldest, newest)
	if err != nil {
		return "", err
	}
	if len(stuck) == 0 {
		return "No stuck jobs", nil
	}

	for _, job := range stuck {
		s.logger.Warn("job appears stuck",
			"job", job.String(), "modified", job.ModifyDate)
	}
	return fmt.Sprintf("%d job(s) haven't progressed since %s, "+
		"oldest being %s", len(stuck), newest.Format(time.RFC3339), stuck[0].String()), nil
}

// ResultCollector pulls back finished results from a remote compute
// service. *backend.Remote satisfies it.
type ResultCollector interface {
	Collect(ctx context.Context) (*backend.Result, error)
}

// CollectRemoteResults drains the collector and finishes the jobs its
// results name. Unknown job IDs are logged and skipped; the remote side
// may report work this instance never submitted.
func (s *Scheduler) CollectRemoteResults(ctx context.Context, collector ResultCollector) (string, error) {
	var collected int
	for {
		res, err := collector.Collect(ctx)
		if err != nil {
			return "", err
		}
		if res == nil {
			break
		}
		job, err := s.storage.GetJob(ctx, res.JobID)
		if err != nil {
			return "", err
		}
		if job == nil {
			s.logger.Warn("collected result for unknown job", "job_id", res.JobID)
			continue
		}
		status := core.StatusSuccess
		if !res.Success {
			status = core.StatusFailure
		}
		if err := s.FinishJob(ctx, job, status, res.Message); err != nil {
			s.logger.Error("failed to finish collected job",
				"job", job.String(), "error", err)
			continue
		}
		collected++
	}
	return fmt.Sprintf("Collected %d result(s)", collected), nil
}

// RegisterMaintenanceJobs registers the scheduler's housekeeping handlers:
// the daily cleanup sweep, the daily stuck-job report, and, when a
// collector is given, a minutely remote-result collection job. Call once
// during setup, before Run.
func (s *Scheduler) RegisterMaintenanceJobs(collector ResultCollector) {
	s.registry.Register(JobNameCleanUp,
		func(ctx context.Context, args []string) (string, error) {
			return s.CleanUpOldJobs(ctx)
		},
		registry.Periodic(schedule.Daily(0, 0)))
	s.registry.Register(JobNameReportStuck,
		func(ctx context.Context, args []string) (string, error) {
			return s.ReportStuckJobs(ctx)
		},
		registry.Periodic(schedule.Daily(0, 30)))
	if collector != nil {
		s.registry.Register(JobNameCollectRemote,
			func(ctx context.Context, args []string) (string, error) {
				return s.CollectRemoteResults(ctx, collector)
			},
			registry.Periodic(schedule.Every(time.Minute)))
	}
}

// Run drives the scheduler until ctx is cancelled: a scheduling pass every
// two minutes and a periodic-job top-up every five.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.SchedulePeriodicJobs(ctx); err != nil {
		return err
	}

	passTicker := time.NewTicker(2 * time.Minute)
	defer passTicker.Stop()
	periodicTicker := time.NewTicker(5 * time.Minute)
	defer periodicTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-passTicker.C:
			if _, err := s.RunScheduledJobs(ctx); err != nil {
				s.logger.Error("scheduling pass failed", "error", err)
			}
		case <-periodicTicker.C:
			if err := s.SchedulePeriodicJobs(ctx); err != nil {
				s.logger.Error("periodic top-up failed", "error", err)
			}
		}
	}
}
