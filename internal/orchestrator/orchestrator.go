package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Task is a named runner. Tasks are created by an Orchestrator and never
// change after registration.
type Task struct {
	Name string
	// Output is the directory the task writes to. Empty for entry points.
	Output string

	runner Runner
	logger *slog.Logger
}

// Run executes the task, logging its start, duration and outcome. A panic
// inside the runner is converted into a failure of this task.
func (t *Task) Run(ctx context.Context) (err error) {
	start := time.Now()
	t.logger.Info("starting task", "task", t.Name)

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("task panicked", "task", t.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			t.logger.Error("task failed", "task", t.Name, "duration", time.Since(start).Round(time.Millisecond), "error", err)
			err = &TaskError{Task: t.Name, Err: err}
			return
		}
		t.logger.Info("finished task", "task", t.Name, "duration", time.Since(start).Round(time.Millisecond))
	}()

	return t.runner.Run(ctx)
}

// Runner returns the unit of work behind the task.
func (t *Task) Runner() Runner {
	return t.runner
}

// Orchestrator is the task registry. Tasks and entry points share a single
// namespace.
type Orchestrator struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	order  []string
	roots  []string
	logger *slog.Logger
}

// New creates an orchestrator. Registered task outputs must lie under one of
// outputRoots.
func New(logger *slog.Logger, outputRoots ...string) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}

	roots := make([]string, 0, len(outputRoots))
	for _, root := range outputRoots {
		if abs, err := filepath.Abs(root); err == nil {
			roots = append(roots, abs)
		}
	}

	return &Orchestrator{
		tasks:  make(map[string]*Task),
		roots:  roots,
		logger: logger,
	}
}

// Register associates name with a unit of work writing under output.
func (o *Orchestrator) Register(name, output string, r Runner) (*Task, error) {
	if err := o.checkOutput(name, output); err != nil {
		return nil, err
	}
	return o.add(name, filepath.Clean(output), r)
}

// Define registers a named entry point, usually a composite. Entry points
// have no output of their own.
func (o *Orchestrator) Define(name string, r Runner) (*Task, error) {
	return o.add(name, "", r)
}

func (o *Orchestrator) add(name, output string, r Runner) (*Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("task name must not be empty")
	}
	if r == nil {
		return nil, fmt.Errorf("task %q has no runner", name)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.tasks[name]; exists {
		return nil, &DuplicateTaskError{Name: name}
	}

	t := &Task{
		Name:   name,
		Output: output,
		runner: r,
		logger: o.logger,
	}
	o.tasks[name] = t
	o.order = append(o.order, name)

	o.logger.Debug("registered task", "task", name, "output", output, "runner", Describe(r))
	return t, nil
}

func (o *Orchestrator) checkOutput(name, output string) error {
	if strings.TrimSpace(output) == "" {
		return &OutputMappingError{Task: name, Output: output, Reason: "output root must not be empty"}
	}
	if len(o.roots) == 0 {
		return nil
	}

	abs, err := filepath.Abs(output)
	if err != nil {
		return &OutputMappingError{Task: name, Output: output, Reason: err.Error()}
	}
	for _, root := range o.roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return &OutputMappingError{
		Task:   name,
		Output: output,
		Reason: fmt.Sprintf("not under any of %s", strings.Join(o.roots, ", ")),
	}
}

// Task looks up a registered task or entry point.
func (o *Orchestrator) Task(name string) (*Task, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	t, ok := o.tasks[name]
	if !ok {
		return nil, &UnknownTaskError{Name: name}
	}
	return t, nil
}

// Tasks returns every registered task in registration order.
func (o *Orchestrator) Tasks() []*Task {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*Task, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.tasks[name])
	}
	return out
}

// Outputs returns the task name to output root table.
func (o *Orchestrator) Outputs() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]string)
	for name, t := range o.tasks {
		if t.Output != "" {
			out[name] = t.Output
		}
	}
	return out
}

// Run executes a registered task or entry point immediately.
func (o *Orchestrator) Run(ctx context.Context, name string) error {
	t, err := o.Task(name)
	if err != nil {
		return err
	}
	return t.Run(ctx)
}
