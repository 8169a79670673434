package flowkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// routeNode returns a fixed action and records that it ran.
func routeNode(name string, action Action) *FuncNode {
	return NewNode(
		WithName(name),
		WithPostFunc(func(ctx context.Context, shared *SharedStore, _, _ any) (Action, error) {
			shared.Set("ran_"+name, true)
			return action, nil
		}),
	)
}

func TestFlowExecution(t *testing.T) {
	first := routeNode("first", "next")
	second := routeNode("second", DefaultAction)

	flow := NewFlow(first)
	flow.Connect(first, "next", second)

	shared := NewSharedStore()
	report, err := flow.Run(context.Background(), shared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shared.GetBool("ran_first") || !shared.GetBool("ran_second") {
		t.Errorf("expected both nodes to run, store: %v", shared.Snapshot())
	}
	if diff := cmp.Diff([]string{"first", "second"}, report.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
	if report.LastAction != DefaultAction {
		t.Errorf("expected last action %q, got %q", DefaultAction, report.LastAction)
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}
}

func TestFlowEndsOnUnroutedAction(t *testing.T) {
	first := routeNode("first", "unknown")
	second := routeNode("second", DefaultAction)

	flow := NewFlow(first).Connect(first, "next", second)
	shared := NewSharedStore()
	report, err := flow.Run(context.Background(), shared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shared.Has("ran_second") {
		t.Error("second node should not run without an edge for the action")
	}
	if report.LastAction != "unknown" {
		t.Errorf("expected last action %q, got %q", "unknown", report.LastAction)
	}
}

// loopFlow builds check -> fix -> check until check has seen two fixes.
func loopFlow() *Flow {
	check := NewNode(
		WithName("check"),
		WithPrepFunc(func(ctx context.Context, shared *SharedStore) (any, error) {
			return shared.GetInt("fixes"), nil
		}),
		WithPostFunc(func(ctx context.Context, shared *SharedStore, prep, _ any) (Action, error) {
			if prep.(int) < 2 {
				return "retry", nil
			}
			return "ok", nil
		}),
	)
	fix := NewNode(
		WithName("fix"),
		WithPrepFunc(func(ctx context.Context, shared *SharedStore) (any, error) {
			return shared.GetInt("fixes"), nil
		}),
		WithPostFunc(func(ctx context.Context, shared *SharedStore, prep, _ any) (Action, error) {
			shared.Set("fixes", prep.(int)+1)
			return DefaultAction, nil
		}),
	)
	done := routeNode("done", DefaultAction)

	flow := NewFlow(check)
	flow.Connect(check, "retry", fix)
	flow.Connect(check, "ok", done)
	flow.Next(fix, check)
	return flow
}

func TestFlowLoopRouting(t *testing.T) {
	report, err := loopFlow().Run(context.Background(), NewSharedStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"check", "fix", "check", "fix", "check", "done"}
	if diff := cmp.Diff(want, report.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestFlowReuseIsIdempotent(t *testing.T) {
	flow := loopFlow()

	var paths [][]string
	for i := 0; i < 3; i++ {
		report, err := flow.Run(context.Background(), NewSharedStore())
		if err != nil {
			t.Fatalf("run %d: unexpected error: %v", i, err)
		}
		paths = append(paths, report.Path)
	}
	for i := 1; i < len(paths); i++ {
		if diff := cmp.Diff(paths[0], paths[i]); diff != "" {
			t.Errorf("run %d took a different path (-first +got):\n%s", i, diff)
		}
	}
}

func TestDuplicateEdgeLastWins(t *testing.T) {
	a := routeNode("a", DefaultAction)
	b := routeNode("b", DefaultAction)
	c := routeNode("c", DefaultAction)

	flow := NewFlow(a).Next(a, b).Next(a, c)
	report, err := flow.Run(context.Background(), NewSharedStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "c"}, report.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestStrictEdgesRejectDuplicates(t *testing.T) {
	a := routeNode("a", DefaultAction)
	b := routeNode("b", DefaultAction)
	c := routeNode("c", DefaultAction)

	flow := NewFlow(a, WithStrictEdges()).Next(a, b).Next(a, c)
	if err := flow.Validate(); !errors.Is(err, ErrContract) {
		t.Fatalf("expected contract error, got %v", err)
	}

	shared := NewSharedStore()
	if _, err := flow.Run(context.Background(), shared); !errors.Is(err, ErrContract) {
		t.Fatalf("expected run to be rejected, got %v", err)
	}
	if shared.Has("ran_a") {
		t.Error("no node should run on an invalid graph")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		flow    func() *Flow
		wantErr string
	}{
		{
			name:    "no start node",
			flow:    func() *Flow { return NewFlow(nil) },
			wantErr: "no start node",
		},
		{
			name: "nil endpoint",
			flow: func() *Flow {
				a := routeNode("a", DefaultAction)
				return NewFlow(a).Next(a, nil)
			},
			wantErr: "nil endpoint",
		},
		{
			name: "retries below one",
			flow: func() *Flow {
				a := routeNode("a", DefaultAction)
				b := NewNode(WithName("b"), WithMaxRetries(0))
				return NewFlow(a).Next(a, b)
			},
			wantErr: "max retries must be at least 1",
		},
		{
			name: "negative wait",
			flow: func() *Flow {
				return NewFlow(NewNode(WithName("a"), WithWait(-time.Second)))
			},
			wantErr: "wait must not be negative",
		},
		{
			name: "empty fork",
			flow: func() *Flow {
				return NewFlow(NewFork("fork"))
			},
			wantErr: "no branches",
		},
		{
			name: "invalid nested flow",
			flow: func() *Flow {
				inner := NewFlow(NewNode(WithName("bad"), WithMaxRetries(-1)), WithFlowName("inner"))
				return NewFlow(inner)
			},
			wantErr: "max retries must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flow().Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrContract) {
				t.Errorf("expected contract error, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error to contain %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestMaxSteps(t *testing.T) {
	spin := routeNode("spin", DefaultAction)
	flow := NewFlow(spin, WithMaxSteps(5)).Next(spin, spin)

	report, err := flow.Run(context.Background(), NewSharedStore())
	if !errors.Is(err, ErrContract) {
		t.Fatalf("expected contract error, got %v", err)
	}
	if len(report.Path) != 5 {
		t.Errorf("expected 5 steps before abort, got %d", len(report.Path))
	}
}

func TestFlowTimeout(t *testing.T) {
	fast := routeNode("fast", DefaultAction)
	slow := NewNode(
		WithName("slow"),
		WithExecFunc(func(ctx context.Context, _ any) (any, error) {
			select {
			case <-time.After(2 * time.Second):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	)

	flow := NewFlow(fast, WithTimeout(50*time.Millisecond)).Next(fast, slow)
	shared := NewSharedStore()
	_, err := flow.Run(context.Background(), shared)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected *TimeoutError, got %T", err)
	}
	if timeoutErr.Node != "slow" || timeoutErr.Limit != 50*time.Millisecond {
		t.Errorf("unexpected timeout error fields: %+v", timeoutErr)
	}
	if !shared.GetBool("ran_fast") {
		t.Error("writes made before the timeout should remain in the store")
	}
}

func TestCallerCancellationIsNotTimeout(t *testing.T) {
	slow := NewNode(
		WithExecFunc(func(ctx context.Context, _ any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewFlow(slow, WithTimeout(time.Minute)).Run(ctx, NewSharedStore())
	if err == nil {
		t.Fatal("expected error")
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		t.Errorf("caller deadline should not be reported as a flow timeout: %v", err)
	}
}

func TestFlowRejectsNilStore(t *testing.T) {
	_, err := NewFlow(routeNode("a", DefaultAction)).Run(context.Background(), nil)
	if !errors.Is(err, ErrContract) {
		t.Fatalf("expected contract error, got %v", err)
	}
}

func TestFailureAbortsRunAndKeepsPartialWrites(t *testing.T) {
	first := routeNode("first", DefaultAction)
	broken := NewNode(
		WithName("broken"),
		WithExecFunc(func(ctx context.Context, _ any) (any, error) {
			return nil, errors.New("no luck")
		}),
	)
	last := routeNode("last", DefaultAction)

	flow := NewFlow(first).Next(first, broken).Next(broken, last)
	shared := NewSharedStore()
	report, err := flow.Run(context.Background(), shared)

	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Node != "broken" {
		t.Fatalf("expected ExecError for broken, got %v", err)
	}
	if diff := cmp.Diff([]string{"first", "broken"}, report.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
	if !shared.GetBool("ran_first") || shared.Has("ran_last") {
		t.Errorf("unexpected store contents: %v", shared.Snapshot())
	}
}

func TestNestedFlowExecution(t *testing.T) {
	inner := routeNode("inner", "done")
	innerFlow := NewFlow(inner, WithFlowName("sub"))

	outer := routeNode("outer", DefaultAction)
	final := routeNode("final", DefaultAction)

	flow := NewFlow(outer)
	flow.Next(outer, innerFlow)
	flow.Connect(innerFlow, "done", final)

	shared := NewSharedStore()
	report, err := flow.Run(context.Background(), shared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"outer", "sub", "final"}, report.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
	for _, key := range []string{"ran_outer", "ran_inner", "ran_final"} {
		if !shared.GetBool(key) {
			t.Errorf("expected %s in store", key)
		}
	}
}

func TestFlowRunsWithLoggerAndObserver(t *testing.T) {
	var events []EventType
	obs := ObserverFunc(func(ctx context.Context, e Event) {
		events = append(events, e.Type)
	})

	attempt := 0
	node := NewNode(
		WithName("n"),
		WithMaxRetries(2),
		WithExecFunc(func(ctx context.Context, _ any) (any, error) {
			attempt++
			if attempt == 1 {
				return nil, fmt.Errorf("first attempt fails")
			}
			return "ok", nil
		}),
	)

	flow := NewFlow(node, WithObserver(obs), WithLogger(nil))
	if _, err := flow.Run(context.Background(), NewSharedStore()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []EventType{EventFlowStart, EventNodeStart, EventNodeRetry, EventNodeEnd, EventFlowEnd}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestNestedFlowTimeoutAndObserver(t *testing.T) {
	var innerEvents []Event
	obs := ObserverFunc(func(ctx context.Context, e Event) {
		innerEvents = append(innerEvents, e)
	})

	slow := NewNode(
		WithName("slow"),
		WithExecFunc(func(ctx context.Context, _ any) (any, error) {
			select {
			case <-time.After(300 * time.Millisecond):
				return "late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	)
	inner := NewFlow(slow, WithFlowName("sub"), WithTimeout(50*time.Millisecond), WithObserver(obs))
	outer := routeNode("outer", DefaultAction)
	flow := NewFlow(outer).Next(outer, inner)

	report, err := flow.Run(context.Background(), NewSharedStore())
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if timeout.Node != "slow" {
		t.Errorf("expected timeout in node %q, got %q", "slow", timeout.Node)
	}
	if report.Elapsed >= 250*time.Millisecond {
		t.Errorf("inner timeout did not apply, run took %s", report.Elapsed)
	}

	var types []EventType
	for _, e := range innerEvents {
		types = append(types, e.Type)
		if e.RunID != report.RunID {
			t.Errorf("inner event %s has run ID %q, want %q", e.Type, e.RunID, report.RunID)
		}
	}
	if diff := cmp.Diff([]EventType{EventNodeStart, EventNodeError}, types); diff != "" {
		t.Errorf("inner event sequence mismatch (-want +got):\n%s", diff)
	}
}
