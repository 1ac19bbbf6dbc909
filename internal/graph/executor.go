package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// State is the lifecycle state of a task during one graph execution.
type State int

const (
	StatePending State = iota
	StateRunning
	StateSucceeded
	StateSkipped
	StateFailed
	StateAborted // never ran because an upstream task failed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IsTerminalSuccess reports whether the state makes the task's provided
// values available to dependents.
func (s State) IsTerminalSuccess() bool {
	return s == StateSucceeded || s == StateSkipped
}

// ExecutionResult summarizes one graph execution.
type ExecutionResult struct {
	// States holds the terminal state of every task by title.
	States map[string]State

	// Values holds the shared provided-key namespace after execution.
	// Entries are write-once: set when the producing task succeeds or
	// skips, never mutated afterward.
	Values map[string]any

	// Err is the first task failure, or nil if every task reached a
	// terminal-success state.
	Err error
}

// Value returns the provided value for key, if its producer reached a
// terminal-success state.
func (r *ExecutionResult) Value(key string) (any, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// Executor runs a validated graph. Independent tasks run concurrently; a task
// starts only after every producer of its required keys has succeeded or
// skipped. Each task's Run is invoked at most once per execution.
type Executor struct {
	logger *zap.Logger
}

// NewExecutor creates an executor.
func NewExecutor(logger *zap.Logger) *Executor {
	return &Executor{logger: logger}
}

type taskDone struct {
	index  int
	result Result
	err    error
}

// Execute runs the graph to completion. A task failure prevents all direct
// and transitive dependents from running (they finish Aborted), but
// independent branches keep running. The returned error is the first task
// failure; the full picture is in ExecutionResult.States.
func (e *Executor) Execute(ctx context.Context, g *Graph) (*ExecutionResult, error) {
	tasks := g.tasks

	states := make([]State, len(tasks))
	values := make(map[string]any)
	remaining := make([]int, len(tasks))
	for i := range tasks {
		remaining[i] = len(g.incoming[i])
	}

	done := make(chan taskDone, len(tasks))
	outstanding := 0
	var firstErr error

	start := func(i int) {
		states[i] = StateRunning
		outstanding++
		t := tasks[i]

		in := make(Inputs, len(t.Requires))
		for _, key := range t.Requires {
			in[key] = values[key]
		}

		rep := &stepReporter{logger: e.logger, title: t.Title}
		e.logger.Info("Task started", zap.String("task", t.Title))

		go func() {
			res, err := t.Run(ctx, in, rep)
			done <- taskDone{index: i, result: res, err: err}
		}()
	}

	// abort marks every transitive dependent of i that has not started yet.
	var abort func(i int)
	abort = func(i int) {
		for _, v := range g.outgoing[i] {
			if states[v] == StatePending {
				states[v] = StateAborted
				e.logger.Warn("Task aborted by upstream failure",
					zap.String("task", tasks[v].Title),
					zap.String("failed_upstream", tasks[i].Title),
				)
				abort(v)
			}
		}
	}

	for _, i := range g.order {
		if remaining[i] == 0 && states[i] == StatePending {
			start(i)
		}
	}

	for outstanding > 0 {
		d := <-done
		outstanding--
		t := tasks[d.index]

		if d.err != nil {
			states[d.index] = StateFailed
			e.logger.Error("Task failed", zap.String("task", t.Title), zap.Error(d.err))
			if firstErr == nil {
				firstErr = fmt.Errorf("task %q: %w", t.Title, d.err)
			}
			abort(d.index)
			continue
		}

		if err := checkProvided(t, d.result.Values); err != nil {
			states[d.index] = StateFailed
			e.logger.Error("Task failed", zap.String("task", t.Title), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("task %q: %w", t.Title, err)
			}
			abort(d.index)
			continue
		}

		if d.result.Outcome == OutcomeSkipped {
			states[d.index] = StateSkipped
			e.logger.Info("Task skipped", zap.String("task", t.Title))
		} else {
			states[d.index] = StateSucceeded
			e.logger.Info("Task succeeded", zap.String("task", t.Title))
		}
		for _, key := range t.Provides {
			values[key] = d.result.Values[key]
		}

		for _, v := range g.outgoing[d.index] {
			remaining[v]--
			if remaining[v] == 0 && states[v] == StatePending {
				start(v)
			}
		}
	}

	result := &ExecutionResult{
		States: make(map[string]State, len(tasks)),
		Values: values,
		Err:    firstErr,
	}
	for i, t := range tasks {
		result.States[t.Title] = states[i]
	}
	return result, firstErr
}

// checkProvided verifies the run returned a value for every declared key.
func checkProvided(t *Task, out Outputs) error {
	for _, key := range t.Provides {
		if _, ok := out[key]; !ok {
			return fmt.Errorf("declared provided key %q missing from task output", key)
		}
	}
	return nil
}

// stepReporter logs task progress steps; it is the executor-supplied side
// channel behind the Reporter interface.
type stepReporter struct {
	logger *zap.Logger
	title  string
}

func (r *stepReporter) Step(description string) {
	r.logger.Info("Task step",
		zap.String("task", r.title),
		zap.String("step", description),
	)
}
