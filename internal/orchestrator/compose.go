package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Runner is a unit of work. Run blocks until the work completes and reports
// failure through the returned error.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Mode selects how a composite runs its members.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "series"
)

// Composite is a runner built from other runners. Composites are values over
// runners that already exist, so a composition can never contain itself.
type Composite struct {
	mode    Mode
	members []Runner
}

// Compose returns a composite runner in the given mode. It panics on a mode
// other than ModeParallel or ModeSequential.
func Compose(mode Mode, members ...Runner) *Composite {
	if mode != ModeParallel && mode != ModeSequential {
		panic(fmt.Sprintf("orchestrator: unknown composition mode %q", mode))
	}
	return &Composite{mode: mode, members: append([]Runner(nil), members...)}
}

// Parallel starts every member at once and waits for all of them. A failing
// member never cancels its siblings; all failures are joined into the result.
func Parallel(members ...Runner) *Composite {
	return Compose(ModeParallel, members...)
}

// Series runs members strictly in order and stops at the first failure.
func Series(members ...Runner) *Composite {
	return Compose(ModeSequential, members...)
}

// Mode reports the composition mode.
func (c *Composite) Mode() Mode {
	return c.mode
}

// Members returns the composed runners in declaration order.
func (c *Composite) Members() []Runner {
	return append([]Runner(nil), c.members...)
}

func (c *Composite) Run(ctx context.Context) error {
	if c.mode == ModeParallel {
		return c.runParallel(ctx)
	}
	return c.runSeries(ctx)
}

func (c *Composite) runParallel(ctx context.Context) error {
	errs := make([]error, len(c.members))

	var wg sync.WaitGroup
	for i, member := range c.members {
		wg.Go(func() {
			errs[i] = member.Run(ctx)
		})
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (c *Composite) runSeries(ctx context.Context) error {
	for _, member := range c.members {
		// in-flight members are never interrupted, but nothing new starts
		// once the process is shutting down
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := member.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

// String renders the composition, e.g. "parallel(js, img, series(sprite, css))".
func (c *Composite) String() string {
	parts := make([]string, 0, len(c.members))
	for _, member := range c.members {
		parts = append(parts, Describe(member))
	}
	return string(c.mode) + "(" + strings.Join(parts, ", ") + ")"
}

// Describe returns a readable name for any runner.
func Describe(r Runner) string {
	switch v := r.(type) {
	case *Task:
		return v.Name
	case *Composite:
		return v.String()
	case interface{ String() string }:
		return v.String()
	default:
		return "<anonymous>"
	}
}
