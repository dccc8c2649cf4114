// Package task defines the unit of work the scheduler polls.
//
// A task is any zero-argument, zero-return invocable. The scheduler never
// owns a task and never inspects it; it only calls Invoke(). The wrapper
// exists so an unset task is a safe no-op rather than a nil-call panic.
package task

// Func is the invocable a task wraps. Tasks are expected to be short,
// non-blocking, and safe to call once per poll cycle.
type Func func()

// Task binds a name to an invocable. The name is for logs, events, and
// snapshots only; it carries no scheduling meaning.
type Task struct {
	name string
	fn   Func
}

// New creates a named task from a function. A nil fn is legal and yields
// a task whose Invoke is a no-op.
func New(name string, fn Func) *Task {
	return &Task{name: name, fn: fn}
}

// Name returns the task's display name.
func (t *Task) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Invoke runs the wrapped function once. Invoking a nil or empty task
// does nothing.
func (t *Task) Invoke() {
	if t == nil || t.fn == nil {
		return
	}
	t.fn()
}
