// Package registry maps job names to handlers and scheduling metadata.
//
// The registry is an explicit object built at process start and injected
// into the runner; there is no import-time global registration.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/seafloor/asyncjobs/pkg/core"
	"github.com/seafloor/asyncjobs/pkg/schedule"
	"github.com/seafloor/asyncjobs/pkg/security"
)

// Queue classes. Page-blocking media generation goes on the realtime queue
// so it can't be starved by bulk background work.
const (
	QueueBackground = "background"
	QueueRealtime   = "realtime"
)

// Handler is a job's work function. The returned string becomes the job's
// result message. Wrap expected failures with core.Fail; any other error is
// additionally reported as unexpected.
type Handler func(ctx context.Context, args []string) (string, error)

// StartCondition gates whether a pending job may be started.
type StartCondition func(ctx context.Context, job *core.Job) (bool, error)

// Definition holds a registered job's handler and scheduling metadata.
type Definition struct {
	Name        string
	DisplayName string
	Handler     Handler

	// Queue is the queue class the job runs on.
	Queue string

	// Periodic, when set, re-schedules a zero-argument run of this job
	// every time the previous run finishes.
	Periodic schedule.Schedule

	// StartCondition, when set, is consulted before submission.
	StartCondition StartCondition
}

// Registry holds all job definitions for a process.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds a job definition. Job names must be alphanumeric (starting
// with a letter), max 100 chars. Registering twice under one name panics:
// that's a wiring bug, not a runtime condition.
func (r *Registry) Register(name string, h Handler, opts ...Option) {
	if err := security.ValidateJobName(name); err != nil {
		panic(fmt.Sprintf("asyncjobs: invalid job name %q: %v", name, err))
	}
	if h == nil {
		panic(fmt.Sprintf("asyncjobs: nil handler for %q", name))
	}

	def := &Definition{
		Name:        name,
		DisplayName: displayName(name),
		Handler:     h,
		Queue:       QueueBackground,
	}
	for _, opt := range opts {
		opt.apply(def)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[name]; exists {
		panic(fmt.Sprintf("asyncjobs: job %q already registered", name))
	}
	r.defs[name] = def
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// QueueFor returns the queue class for a job name, defaulting to the
// background queue for unknown names.
func (r *Registry) QueueFor(name string) string {
	if def, ok := r.Get(name); ok {
		return def.Queue
	}
	return QueueBackground
}

// Has checks whether a definition is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns all registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PeriodicDefinitions returns the definitions with a periodic schedule,
// sorted by name for deterministic iteration.
func (r *Registry) PeriodicDefinitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var defs []*Definition
	for _, def := range r.defs {
		if def.Periodic != nil {
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// NamesByQueue groups registered job names by queue class.
func (r *Registry) NamesByQueue() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byQueue := make(map[string][]string)
	for name, def := range r.defs {
		byQueue[def.Queue] = append(byQueue[def.Queue], name)
	}
	for _, names := range byQueue {
		sort.Strings(names)
	}
	return byQueue
}

func displayName(name string) string {
	out := []rune(name)
	for i, r := range out {
		if r == '_' || r == '-' || r == '.' {
			out[i] = ' '
		}
	}
	if len(out) > 0 && out[0] >= 'a' && out[0] <= 'z' {
		out[0] = out[0] - 'a' + 'A'
	}
	return string(out)
}
