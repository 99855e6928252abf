// Package group layers request/result aggregation over jobs: a JobGroup is
// an ordered batch of units, each backed by one job, together with a
// single-query status rollup.
package group

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/seafloor/asyncjobs/pkg/core"
)

// DefaultChunkSize is how many unit rows go into one bulk INSERT.
const DefaultChunkSize = 100

// JobScheduler is the slice of the runner the aggregator needs: ensuring
// a scheduled job exists for each unit.
type JobScheduler interface {
	ScheduleJob(ctx context.Context, name string, args []string, opts ...func(*core.Job)) (*core.Job, error)
}

// UnitSpec describes one unit of work in a group request.
type UnitSpec struct {
	// JobName and Args identify the job backing this unit.
	JobName string
	Args    []string

	// RequestPayload is the unit's request document. Must be valid JSON.
	RequestPayload []byte

	// Size is an application-defined weight (e.g. point count) shown in
	// status summaries.
	Size int
}

// Aggregator creates job groups and reports on them.
type Aggregator struct {
	storage   core.Storage
	scheduler JobScheduler
	logger    *slog.Logger
	chunkSize int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithChunkSize sets the bulk-insert chunk size for unit creation.
func WithChunkSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.chunkSize = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// New creates an Aggregator.
func New(storage core.Storage, scheduler JobScheduler, opts ...Option) *Aggregator {
	a := &Aggregator{
		storage:   storage,
		scheduler: scheduler,
		logger:    slog.Default(),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Create builds a group of the given type for a requester: one scheduled
// job per unit, then the unit rows bulk-inserted in submission order.
// Unit payloads are validated up front so a bad unit fails the whole
// request before any work is scheduled.
func (a *Aggregator) Create(ctx context.Context, groupType, requesterID string, specs []UnitSpec) (*core.JobGroup, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("create group: %w", core.ErrInvalidUnitPayload)
	}
	for i, spec := range specs {
		if !json.Valid(spec.RequestPayload) {
			return nil, fmt.Errorf("create group: unit %d: %w", i+1, core.ErrInvalidUnitPayload)
		}
	}

	group := &core.JobGroup{
		ID:          uuid.NewString(),
		Type:        groupType,
		RequesterID: requesterID,
	}
	if err := a.storage.CreateGroup(ctx, group); err != nil {
		return nil, err
	}

	units := make([]*core.JobGroupUnit, 0, len(specs))
	for i, spec := range specs {
		job, err := a.scheduler.ScheduleJob(ctx, spec.JobName, spec.Args)
		if err != nil {
			a.discardGroup(ctx, group.ID)
			return nil, fmt.Errorf("create group: unit %d: %w", i+1, err)
		}
		units = append(units, &core.JobGroupUnit{
			ID:             uuid.NewString(),
			GroupID:        group.ID,
			JobID:          job.ID,
			OrderInParent:  i + 1,
			RequestPayload: spec.RequestPayload,
			Size:           spec.Size,
		})
	}
	if err := a.storage.CreateUnits(ctx, units, a.chunkSize); err != nil {
		a.discardGroup(ctx, group.ID)
		return nil, err
	}
	group.Units = derefUnits(units)
	a.logger.Info("created job group",
		"group_id", group.ID, "type", groupType, "units", len(units))
	return group, nil
}

// discardGroup deletes a group whose creation could not complete, so it
// never lingers in active listings or the per-requester count. Any jobs
// already scheduled for its units stay; they run and age out normally.
func (a *Aggregator) discardGroup(ctx context.Context, groupID string) {
	if err := a.storage.DeleteGroup(ctx, groupID); err != nil {
		a.logger.Error("failed to discard half-created group",
			"group_id", groupID, "error", err)
	}
}

func derefUnits(units []*core.JobGroupUnit) []core.JobGroupUnit {
	out := make([]core.JobGroupUnit, len(units))
	for i, u := range units {
		out[i] = *u
	}
	return out
}

// Status is a group's computed rollup.
type Status struct {
	Overall core.GroupStatus
	Counts  core.GroupStatusCounts
}

// FullStatus computes the group's overall status in one aggregate query.
// The first caller to observe a done group stamps its FinishDate; the
// stamp marks when completion was noticed, not when the last job finished.
// Requesting another requester's group reports not-found.
func (a *Aggregator) FullStatus(ctx context.Context, groupID, requesterID string) (*Status, error) {
	group, err := a.getOwned(ctx, groupID, requesterID)
	if err != nil {
		return nil, err
	}

	counts, err := a.storage.GroupStatusCounts(ctx, groupID)
	if err != nil {
		return nil, err
	}
	overall := counts.Classify()

	if overall == core.GroupDone && group.FinishDate == nil {
		if err := a.storage.SetGroupFinishDate(ctx, groupID, time.Now().UTC()); err != nil {
			return nil, err
		}
	}
	return &Status{Overall: overall, Counts: *counts}, nil
}

// UnitResult pairs a unit's request with whatever result it has so far.
type UnitResult struct {
	OrderInParent  int
	Size           int
	RequestPayload []byte
	ResultPayload  []byte
}

// Results returns every unit's payloads in submission order. Only done
// groups have results; ask FullStatus first or handle ErrGroupNotDone.
func (a *Aggregator) Results(ctx context.Context, groupID, requesterID string) ([]UnitResult, error) {
	status, err := a.FullStatus(ctx, groupID, requesterID)
	if err != nil {
		return nil, err
	}
	if status.Overall != core.GroupDone {
		return nil, core.ErrGroupNotDone
	}

	units, err := a.storage.UnitsInOrder(ctx, groupID)
	if err != nil {
		return nil, err
	}
	results := make([]UnitResult, len(units))
	for i, u := range units {
		results[i] = UnitResult{
			OrderInParent:  u.OrderInParent,
			Size:           u.Size,
			RequestPayload: u.RequestPayload,
			ResultPayload:  u.ResultPayload,
		}
	}
	return results, nil
}

// RecordUnitResult stores a result payload on the unit backing jobID.
// Handlers call this before returning so the payload is in place when the
// group goes done. Jobs without a unit are left alone.
func (a *Aggregator) RecordUnitResult(ctx context.Context, jobID string, payload []byte) error {
	if !json.Valid(payload) {
		return core.ErrInvalidUnitPayload
	}
	unit, err := a.storage.UnitForJob(ctx, jobID)
	if err != nil {
		return err
	}
	if unit == nil {
		return core.ErrNotFound
	}
	return a.storage.SaveUnitResult(ctx, unit.ID, payload)
}

// ActiveForRequester lists the requester's groups that have not finished.
func (a *Aggregator) ActiveForRequester(ctx context.Context, requesterID string) ([]*core.JobGroup, error) {
	return a.storage.ActiveGroupsForRequester(ctx, requesterID)
}

// RecentlyCompletedForRequester lists the requester's finished groups,
// newest first.
func (a *Aggregator) RecentlyCompletedForRequester(ctx context.Context, requesterID string, limit int) ([]*core.JobGroup, error) {
	return a.storage.CompletedGroupsForRequester(ctx, requesterID, limit)
}

// ActiveCountForRequester counts unfinished groups. Callers enforcing an
// active-group cap check this before Create.
func (a *Aggregator) ActiveCountForRequester(ctx context.Context, requesterID string) (int64, error) {
	return a.storage.ActiveGroupCount(ctx, requesterID)
}

// getOwned fetches a group and checks ownership. A mismatch reports plain
// not-found so callers can't probe for other requesters' group IDs.
func (a *Aggregator) getOwned(ctx context.Context, groupID, requesterID string) (*core.JobGroup, error) {
	group, err := a.storage.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil || group.RequesterID != requesterID {
		return nil, core.ErrNotFound
	}
	return group, nil
}
