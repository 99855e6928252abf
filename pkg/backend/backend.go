// Package backend provides the pluggable dispatch targets that actually run
// jobs: an in-process worker pool for development and single-node
// deployments, and a remote backend that hands serialized job descriptors to
// an external compute service.
//
// The orchestration layer's only contract with a backend is Submit. Callers
// must never assume submission is synchronous with completion; completion is
// observed by polling job status, and remote results additionally require a
// periodic Collect pass.
package backend

import (
	"context"

	"github.com/seafloor/asyncjobs/pkg/core"
)

// Backend dispatches a job for execution. Submit acknowledges acceptance,
// not completion.
type Backend interface {
	Submit(ctx context.Context, job *core.Job) error
}

// Executor runs a single job to completion: claiming it, invoking its
// handler, and finishing it. Implemented by the runner; consumed by Local so
// the two packages don't cycle.
type Executor interface {
	ExecuteJob(ctx context.Context, jobID string) error
}

// Claimer transitions a pending job to in-progress at handoff time.
// Reports false when the job was no longer pending. Implemented by the
// runner; consumed by Remote.
type Claimer interface {
	ClaimJob(ctx context.Context, jobID string) (bool, error)
}

// QueueResolver maps a job name to its queue class. Implemented by the
// registry.
type QueueResolver interface {
	QueueFor(name string) string
}
