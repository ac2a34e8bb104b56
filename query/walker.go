package query

import "context"

// Task is one step of a walk: an enter or exit callback bound to whatever
// node produced it. A Task that blocks on I/O (reading shard chunks,
// dispatching to another pool) simply blocks its goroutine — Go's
// scheduler already multiplexes blocked goroutines onto OS threads, so
// unlike a single-threaded event loop a Task needs no explicit
// suspend/resume machinery to yield: ctx cancellation is the only signal
// a long-running Task needs to watch for.
type Task func(ctx context.Context) error

// Walker holds a query's enter and exit task lists, built by visiting the
// parse tree. Enter callbacks run left-to-right; once every enter task has
// completed, exit callbacks run in reverse registration order. A failing
// enter task aborts the walk without running any exit task, mirroring
// "abandon on first error" rather than unwinding partial per-node cleanup
// that query execution does not need (no per-node resource is acquired
// before its enter task succeeds).
type Walker struct {
	Enter []Task
	Exit  []Task
}

// AddEnter appends an enter-phase task.
func (w *Walker) AddEnter(t Task) { w.Enter = append(w.Enter, t) }

// AddExit appends an exit-phase task.
func (w *Walker) AddExit(t Task) { w.Exit = append(w.Exit, t) }

// Run executes every enter task in order, then every exit task in reverse
// order, stopping at the first error from either phase.
func (w *Walker) Run(ctx context.Context) error {
	for _, t := range w.Enter {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t(ctx); err != nil {
			return err
		}
	}
	for i := len(w.Exit) - 1; i >= 0; i-- {
		if err := w.Exit[i](ctx); err != nil {
			return err
		}
	}
	return nil
}
