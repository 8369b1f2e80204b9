package orchestrator

import "fmt"

// DuplicateTaskError is returned when a task or entry point name is already
// registered. It is fatal at startup.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %q already registered", e.Name)
}

// UnknownTaskError is returned when a name does not resolve to a registered task.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("task %q is not registered", e.Name)
}

// OutputMappingError is returned when a task's declared output root is not
// acceptable.
type OutputMappingError struct {
	Task   string
	Output string
	Reason string
}

func (e *OutputMappingError) Error() string {
	return fmt.Sprintf("task %q output %q: %s", e.Task, e.Output, e.Reason)
}

// TaskError wraps the failure of a named task.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed: %v", e.Task, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// FailedTasks returns the names of the innermost failed tasks in err, in the
// order they were joined. Composite entry points are reported through the
// tasks they contain.
func FailedTasks(err error) []string {
	var names []string
	collectFailed(err, &names)
	return names
}

func collectFailed(err error, names *[]string) {
	if err == nil {
		return
	}

	if taskErr, ok := err.(*TaskError); ok {
		before := len(*names)
		collectFailed(taskErr.Err, names)
		if len(*names) == before {
			*names = append(*names, taskErr.Task)
		}
		return
	}

	switch e := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range e.Unwrap() {
			collectFailed(inner, names)
		}
	case interface{ Unwrap() error }:
		collectFailed(e.Unwrap(), names)
	}
}
