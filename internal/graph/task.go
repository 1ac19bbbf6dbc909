// Package graph implements the declarative task model that drives a build
// pipeline: tasks declare what they require and what they provide, a graph is
// resolved from those keys ahead of time, and an executor runs the tasks in
// dependency order with aggressive skip support.
package graph

import "context"

// Inputs is the subset of the shared key/value namespace a task declared in
// Requires, resolved and populated by the executor before Run is invoked.
type Inputs map[string]any

// Outputs maps each key a task declared in Provides to the value it produced.
type Outputs map[string]any

// Outcome distinguishes how a task reached a terminal-success state.
type Outcome int

const (
	// OutcomeCompleted means the task performed its work.
	OutcomeCompleted Outcome = iota
	// OutcomeSkipped means cached results were valid and no new work was
	// performed; the values are reused from a previous run.
	OutcomeSkipped
)

// Result is the tagged outcome of a successful task run. Failure is the
// ordinary error return of RunFunc.
type Result struct {
	Outcome Outcome
	Values  Outputs
}

// Completed reports that the task performed its work and produced values.
func Completed(values Outputs) Result {
	return Result{Outcome: OutcomeCompleted, Values: values}
}

// Skipped reports that the task performed no new work but supplies values as
// if it had.
func Skipped(values Outputs) Result {
	return Result{Outcome: OutcomeSkipped, Values: values}
}

// Reporter is the progress side channel handed to each task run. Step never
// fails and has no return value.
type Reporter interface {
	Step(description string)
}

// RunFunc performs a task's work. It receives exactly the required values and
// must return a value for every key the task provides, whether it completed
// or skipped.
type RunFunc func(ctx context.Context, in Inputs, rep Reporter) (Result, error)

// Task is a named unit of work in the pipeline. Title is the identity used
// for deduplication; Requires and Provides are the string keys that form the
// implicit dependency edges between tasks.
type Task struct {
	Title    string
	Requires []string
	Provides []string
	Run      RunFunc
}
