package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"
)

func execute(t *testing.T, reg *Registry) (*ExecutionResult, error) {
	t.Helper()
	g, err := Build(reg)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return NewExecutor(zap.NewNop()).Execute(context.Background(), g)
}

func TestExecuteThreadsValues(t *testing.T) {
	reg := NewRegistry()
	reg.Add(&Task{
		Title:    "produce",
		Provides: []string{"greeting"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			return Completed(Outputs{"greeting": "hello"}), nil
		},
	})

	var got string
	reg.Add(&Task{
		Title:    "consume",
		Requires: []string{"greeting"},
		Provides: []string{"shout"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			got = in["greeting"].(string)
			return Completed(Outputs{"shout": got + "!"}), nil
		},
	})

	result, err := execute(t, reg)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if got != "hello" {
		t.Errorf("consumer received %q, want %q", got, "hello")
	}
	if v, ok := result.Value("shout"); !ok || v != "hello!" {
		t.Errorf("Value(shout) = %v, %v", v, ok)
	}
}

func TestExecuteSkippedValuesVisibleToDependents(t *testing.T) {
	reg := NewRegistry()
	reg.Add(&Task{
		Title:    "cached",
		Provides: []string{"slug"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			return Skipped(Outputs{"slug": "/var/builds/web"}), nil
		},
	})

	var got any
	reg.Add(&Task{
		Title:    "dependent",
		Requires: []string{"slug"},
		Provides: []string{"done"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			got = in["slug"]
			return Completed(Outputs{"done": true}), nil
		},
	})

	result, err := execute(t, reg)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if got != "/var/builds/web" {
		t.Errorf("dependent received %v, want the skipped task's value", got)
	}
	if result.States["cached"] != StateSkipped {
		t.Errorf("States[cached] = %v, want skipped", result.States["cached"])
	}
	if result.States["dependent"] != StateSucceeded {
		t.Errorf("States[dependent] = %v, want succeeded", result.States["dependent"])
	}
}

func TestExecuteFailureAbortsDependents(t *testing.T) {
	boom := errors.New("compile blew up")
	reg := NewRegistry()
	reg.Add(&Task{
		Title:    "compile",
		Provides: []string{"slug"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			return Result{}, boom
		},
	})
	reg.Add(&Task{
		Title:    "image",
		Requires: []string{"slug"},
		Provides: []string{"artifact"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			t.Error("dependent ran despite upstream failure")
			return Completed(Outputs{"artifact": ""}), nil
		},
	})
	reg.Add(&Task{
		Title:    "push",
		Requires: []string{"artifact"},
		Provides: []string{"pushed"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			t.Error("transitive dependent ran despite upstream failure")
			return Completed(Outputs{"pushed": true}), nil
		},
	})
	// Independent branch keeps running.
	branchRan := false
	reg.Add(&Task{
		Title:    "docs",
		Provides: []string{"docs"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			branchRan = true
			return Completed(Outputs{"docs": "build.md"}), nil
		},
	})

	result, err := execute(t, reg)
	if !errors.Is(err, boom) {
		t.Fatalf("Execute() error = %v, want wrapped %v", err, boom)
	}

	if result.States["compile"] != StateFailed {
		t.Errorf("States[compile] = %v, want failed", result.States["compile"])
	}
	if result.States["image"] != StateAborted {
		t.Errorf("States[image] = %v, want aborted", result.States["image"])
	}
	if result.States["push"] != StateAborted {
		t.Errorf("States[push] = %v, want aborted", result.States["push"])
	}
	if !branchRan {
		t.Error("independent branch did not run")
	}
	if result.States["docs"] != StateSucceeded {
		t.Errorf("States[docs] = %v, want succeeded", result.States["docs"])
	}
}

func TestExecuteRunsEachTaskOnce(t *testing.T) {
	var runs atomic.Int32
	reg := NewRegistry()
	reg.Add(&Task{
		Title:    "shared",
		Provides: []string{"base"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			runs.Add(1)
			return Completed(Outputs{"base": 1}), nil
		},
	})
	for _, title := range []string{"left", "right", "third"} {
		title := title
		reg.Add(&Task{
			Title:    title,
			Requires: []string{"base"},
			Provides: []string{title},
			Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
				return Completed(Outputs{title: true}), nil
			},
		})
	}

	if _, err := execute(t, reg); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if runs.Load() != 1 {
		t.Errorf("shared task ran %d times, want 1", runs.Load())
	}
}

func TestExecuteRejectsMissingProvidedKey(t *testing.T) {
	reg := NewRegistry()
	reg.Add(&Task{
		Title:    "liar",
		Provides: []string{"a", "b"},
		Run: func(ctx context.Context, in Inputs, rep Reporter) (Result, error) {
			return Completed(Outputs{"a": 1}), nil
		},
	})

	result, err := execute(t, reg)
	if err == nil {
		t.Fatal("Execute() succeeded, want missing-key error")
	}
	if result.States["liar"] != StateFailed {
		t.Errorf("States[liar] = %v, want failed", result.States["liar"])
	}
}
