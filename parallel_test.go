package flowkit

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const (
	outlineDone  = "outline_complete"
	researchDone = "research_complete"
)

// branchNode sleeps, writes its own key and sets its completion marker.
func branchNode(name, key, marker string, delay time.Duration) *FuncNode {
	return NewNode(
		WithName(name),
		WithExecFunc(func(ctx context.Context, _ any) (any, error) {
			select {
			case <-time.After(delay):
				return name + " output", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
		WithPostFunc(func(ctx context.Context, shared *SharedStore, _, res any) (Action, error) {
			shared.Set(key, res)
			MarkDone(shared, marker)
			return DefaultAction, nil
		}),
	)
}

func mergeNode() *FuncNode {
	return NewNode(
		WithName("merge"),
		WithPrepFunc(func(ctx context.Context, shared *SharedStore) (any, error) {
			if err := RequireMarkers(shared, outlineDone, researchDone); err != nil {
				return nil, err
			}
			return shared.GetString("outline") + " + " + shared.GetString("research"), nil
		}),
		WithPostFunc(func(ctx context.Context, shared *SharedStore, prep, _ any) (Action, error) {
			shared.Set("merged", prep)
			return DefaultAction, nil
		}),
	)
}

func TestForkJoinsBeforeMerge(t *testing.T) {
	fork := NewFork("fork",
		NodeBranch(branchNode("outline", "outline", outlineDone, 30*time.Millisecond)),
		NodeBranch(branchNode("research", "research", researchDone, 10*time.Millisecond)),
	)
	merge := mergeNode()

	flow := NewFlow(fork).Next(fork, merge)
	shared := NewSharedStore()
	ResetMarkers(shared, outlineDone, researchDone)

	report, err := flow.Run(context.Background(), shared)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !shared.GetBool(outlineDone) || !shared.GetBool(researchDone) {
		t.Error("both completion markers should be set after the join")
	}
	if got := shared.GetString("merged"); got != "outline output + research output" {
		t.Errorf("unexpected merge result %q", got)
	}
	if diff := cmp.Diff([]string{"fork", "merge"}, report.Path); diff != "" {
		t.Errorf("path mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeWithoutAwaitIsContractError(t *testing.T) {
	skip := routeNode("skip", DefaultAction)
	merge := mergeNode()

	shared := NewSharedStore()
	ResetMarkers(shared, outlineDone, researchDone)
	MarkDone(shared, outlineDone)

	_, err := NewFlow(skip).Next(skip, merge).Run(context.Background(), shared)
	if !errors.Is(err, ErrContract) {
		t.Fatalf("expected contract error, got %v", err)
	}
	var contractErr *ContractError
	if !errors.As(err, &contractErr) {
		t.Fatalf("expected *ContractError in chain, got %T", err)
	}
	if contractErr.Key != researchDone {
		t.Errorf("expected missing marker %q, got %q", researchDone, contractErr.Key)
	}
	if shared.Has("merged") {
		t.Error("merge should not run without its markers")
	}
}

func TestRequireMarkersNamesAllMissing(t *testing.T) {
	err := RequireMarkers(NewSharedStore(), "a", "b")
	if err == nil || !strings.Contains(err.Error(), `"a,b"`) {
		t.Errorf("expected both markers in error, got %v", err)
	}
}

func TestParallelWaitsForAllBranches(t *testing.T) {
	var finished atomic.Int32
	boom := errors.New("boom")

	err := Parallel(context.Background(), NewSharedStore(),
		FuncBranch("fails", func(ctx context.Context, shared *SharedStore) error {
			return boom
		}),
		FuncBranch("slow", func(ctx context.Context, shared *SharedStore) error {
			select {
			case <-time.After(30 * time.Millisecond):
				finished.Add(1)
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
	)

	if !errors.Is(err, boom) {
		t.Fatalf("expected branch error, got %v", err)
	}
	if !strings.Contains(err.Error(), "branch fails") {
		t.Errorf("expected branch name in error, got %q", err.Error())
	}
	if finished.Load() != 1 {
		t.Error("a failing branch must not cancel its sibling")
	}
}

func TestParallelRunsConcurrently(t *testing.T) {
	shared := NewSharedStore()
	start := time.Now()
	err := Parallel(context.Background(), shared,
		NodeBranch(branchNode("a", "a", "a_done", 50*time.Millisecond)),
		NodeBranch(branchNode("b", "b", "b_done", 50*time.Millisecond)),
		NodeBranch(branchNode("c", "c", "c_done", 50*time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 140*time.Millisecond {
		t.Errorf("branches appear to have run sequentially: %s", elapsed)
	}
	if diff := cmp.Diff([]string{"a", "a_done", "b", "b_done", "c", "c_done"}, shared.Keys()); diff != "" {
		t.Errorf("keys mismatch (-want +got):\n%s", diff)
	}
}

func TestForkFailureStopsFlow(t *testing.T) {
	broken := NewNode(
		WithName("broken"),
		WithExecFunc(func(ctx context.Context, _ any) (any, error) {
			return nil, errors.New("search unavailable")
		}),
	)
	fork := NewFork("fork",
		NodeBranch(branchNode("outline", "outline", outlineDone, 0)),
		NodeBranch(broken),
	)
	merge := mergeNode()

	shared := NewSharedStore()
	_, err := NewFlow(fork).Next(fork, merge).Run(context.Background(), shared)

	var execErr *ExecError
	if !errors.As(err, &execErr) || execErr.Node != "fork" {
		t.Fatalf("expected fork ExecError, got %v", err)
	}
	if shared.Has("merged") {
		t.Error("merge must not run after a failed branch")
	}
	if !shared.GetBool(outlineDone) {
		t.Error("the healthy branch should still complete")
	}
}

func TestFlowBranch(t *testing.T) {
	step1 := routeNode("step1", DefaultAction)
	step2 := NewNode(
		WithName("step2"),
		WithPostFunc(func(ctx context.Context, shared *SharedStore, _, _ any) (Action, error) {
			MarkDone(shared, "sub_done")
			return DefaultAction, nil
		}),
	)
	sub := NewFlow(step1, WithFlowName("sub")).Next(step1, step2)

	fork := NewFork("fork", FlowBranch(sub), NodeBranch(routeNode("side", DefaultAction)))
	if got := fork.Branches()[0].Name(); got != "sub" {
		t.Errorf("expected branch name %q, got %q", "sub", got)
	}

	shared := NewSharedStore()
	if _, err := NewFlow(fork).Run(context.Background(), shared); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := RequireMarkers(shared, "sub_done"); err != nil {
		t.Error(err)
	}
	if !shared.GetBool("ran_side") {
		t.Error("side branch should run")
	}
}

func TestFlowBranchHonorsOwnTimeout(t *testing.T) {
	slow := branchNode("slow", "slow_output", "slow_done", 300*time.Millisecond)
	inner := NewFlow(slow, WithFlowName("inner"), WithTimeout(50*time.Millisecond))
	fork := NewFork("split", FlowBranch(inner))

	start := time.Now()
	_, err := NewFlow(fork).Run(context.Background(), NewSharedStore())
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected *TimeoutError in %v", err)
	}
	if timeout.Node != "slow" || timeout.Limit != 50*time.Millisecond {
		t.Errorf("unexpected timeout details: node %q limit %s", timeout.Node, timeout.Limit)
	}
	if elapsed >= 250*time.Millisecond {
		t.Errorf("inner timeout did not apply, run took %s", elapsed)
	}
}
