package registry

import (
	"fmt"

	"github.com/seafloor/asyncjobs/pkg/schedule"
	"github.com/seafloor/asyncjobs/pkg/security"
)

// Option modifies a Definition at registration time.
type Option interface {
	apply(*Definition)
}

type optionFunc func(*Definition)

func (f optionFunc) apply(d *Definition) { f(d) }

// Queue sets the queue class the job runs on.
func Queue(name string) Option {
	if err := security.ValidateJobName(name); err != nil {
		panic(fmt.Sprintf("asyncjobs: invalid queue name %q: %v", name, err))
	}
	return optionFunc(func(d *Definition) {
		d.Queue = name
	})
}

// Periodic marks the job as periodic. A zero-argument run is re-scheduled
// on the given schedule each time the previous run finishes.
func Periodic(s schedule.Schedule) Option {
	return optionFunc(func(d *Definition) {
		d.Periodic = s
	})
}

// DisplayName overrides the derived human-readable name.
func DisplayName(name string) Option {
	return optionFunc(func(d *Definition) {
		d.DisplayName = name
	})
}

// WithStartCondition gates job submission on a predicate.
func WithStartCondition(cond StartCondition) Option {
	return optionFunc(func(d *Definition) {
		d.StartCondition = cond
	})
}
