// Package jobctx provides handler access to the currently executing job.
package jobctx

import (
	"context"

	"github.com/seafloor/asyncjobs/pkg/core"
)

type contextKey struct{}

// WithJob returns a context carrying the executing job. The runner calls
// this before invoking a handler.
func WithJob(ctx context.Context, job *core.Job) context.Context {
	return context.WithValue(ctx, contextKey{}, job)
}

// JobFromContext returns the current Job from context, or nil if not in a
// job handler. Use this to get the job ID for logging or progress tracking.
func JobFromContext(ctx context.Context) *core.Job {
	job, _ := ctx.Value(contextKey{}).(*core.Job)
	return job
}

// JobIDFromContext returns the current job ID from context, or empty string
// if not in a job handler.
func JobIDFromContext(ctx context.Context) string {
	job := JobFromContext(ctx)
	if job == nil {
		return ""
	}
	return job.ID
}
