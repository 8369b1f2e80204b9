package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// TransformFailure is reported when a step rejects or panics while
// processing a task's files. The pipeline stops at the failing step.
type TransformFailure struct {
	Task  string
	Step  string
	File  string
	Err   error
	Stack string
}

func (e *TransformFailure) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: step %q failed on %s: %v", e.Task, e.Step, e.File, e.Err)
	}
	return fmt.Sprintf("%s: step %q failed: %v", e.Task, e.Step, e.Err)
}

func (e *TransformFailure) Unwrap() error {
	return e.Err
}

// Pipeline reads a Source and passes its files through Steps in order. Every
// run starts from the file system; nothing is kept between runs.
type Pipeline struct {
	Name   string
	Source Source
	Steps  []Step
	Logger *slog.Logger
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Run executes the pipeline once. Failures never escape as panics: they are
// logged with a stack and returned as *TransformFailure.
func (p *Pipeline) Run(ctx context.Context) error {
	log := p.logger().With("task", p.Name)

	files, err := p.Source.Read()
	if err != nil {
		return p.fail(log, "src", "", err, string(debug.Stack()))
	}
	if len(files) == 0 {
		log.Debug("no source files matched", "include", p.Source.Include)
		return nil
	}
	log.Debug("source files selected", "count", len(files))

	for _, step := range p.Steps {
		start := time.Now()
		files, err = p.apply(ctx, step, files)
		if err != nil {
			var tf *TransformFailure
			if errors.As(err, &tf) {
				return p.fail(log, tf.Step, tf.File, tf.Err, tf.Stack)
			}
			file := ""
			var se *StepError
			if errors.As(err, &se) {
				file, err = se.File, se.Err
			}
			return p.fail(log, step.Name(), file, err, string(debug.Stack()))
		}
		log.Debug("step finished", "step", step.Name(), "files", len(files), "duration", time.Since(start).Round(time.Microsecond))
	}

	return nil
}

func (p *Pipeline) apply(ctx context.Context, step Step, files []*File) (out []*File, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &TransformFailure{
				Step:  step.Name(),
				Err:   fmt.Errorf("panic: %v", r),
				Stack: string(debug.Stack()),
			}
		}
	}()
	return step.Apply(ctx, files)
}

func (p *Pipeline) fail(log *slog.Logger, step, file string, err error, stack string) error {
	failure := &TransformFailure{
		Task:  p.Name,
		Step:  step,
		File:  file,
		Err:   err,
		Stack: stack,
	}
	log.Error("transform failed", "step", step, "file", file, "error", err, "stack", stack)
	return failure
}
