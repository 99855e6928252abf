package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/seafloor/asyncjobs/pkg/core"
)

// Descriptor is the serialized form of a job handed to the remote compute
// service. The service echoes JobID back in its Result so the collector can
// finish the right job.
type Descriptor struct {
	JobID string   `json:"job_id"`
	Name  string   `json:"name"`
	Args  []string `json:"args"`
}

// Result is the compute service's report for one finished descriptor.
type Result struct {
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Transport moves serialized descriptors to the compute service and results
// back. CollectResult returns nil, nil when no result is waiting.
type Transport interface {
	SubmitJob(ctx context.Context, payload []byte) error
	CollectResult(ctx context.Context) ([]byte, error)
}

// Remote hands jobs off to an external compute service through a Transport.
//
// Submit marks the job in-progress and acknowledges the handoff. Completed
// work comes back through Collect, which the caller must run periodically
// (the runner registers a periodic collection job for this); each collected
// Result is then applied with the runner's finish path.
type Remote struct {
	transport Transport
	claimer   Claimer
	logger    *slog.Logger
}

var _ Backend = (*Remote)(nil)

// RemoteOption configures a Remote backend.
type RemoteOption func(*Remote)

// WithRemoteLogger sets a custom logger.
func WithRemoteLogger(logger *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = logger }
}

// NewRemote creates a remote backend over the given transport. Call Bind
// with the scheduler before submitting; it claims jobs at handoff time.
func NewRemote(transport Transport, opts ...RemoteOption) *Remote {
	r := &Remote{transport: transport, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind sets the claimer that moves jobs to in-progress at handoff. Call
// once during setup, after constructing the scheduler.
func (r *Remote) Bind(claimer Claimer) {
	r.claimer = claimer
}

// Submit claims the job and ships its descriptor to the compute service.
// The job stays in-progress until a later Collect pass finishes it. A job
// that is no longer pending is skipped without error: another submitter
// already has it.
func (r *Remote) Submit(ctx context.Context, job *core.Job) error {
	if r.claimer == nil {
		return ErrNotBound
	}
	claimed, err := r.claimer.ClaimJob(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("asyncjobs: claim before handoff: %w", err)
	}
	if !claimed {
		return nil
	}

	desc := Descriptor{
		JobID: job.ID,
		Name:  job.Name,
		Args:  core.IdentifierToArgs(job.ArgIdentifier),
	}
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("asyncjobs: marshal descriptor: %w", err)
	}
	if err := r.transport.SubmitJob(ctx, payload); err != nil {
		return fmt.Errorf("asyncjobs: submit to remote: %w", err)
	}
	r.logger.Debug("submitted job to remote backend", "job_id", job.ID, "name", job.Name)
	return nil
}

// Collect pulls back one finished result, or nil when none is waiting.
// Malformed payloads are reported as errors; the caller decides whether to
// keep collecting.
func (r *Remote) Collect(ctx context.Context) (*Result, error) {
	payload, err := r.transport.CollectResult(ctx)
	if err != nil {
		return nil, fmt.Errorf("asyncjobs: collect from remote: %w", err)
	}
	if payload == nil {
		return nil, nil
	}
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("asyncjobs: unmarshal result: %w", err)
	}
	return &res, nil
}
