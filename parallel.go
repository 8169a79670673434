package flowkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Branch is one independently runnable unit of a fork: a node or a flow
// run against the shared store. Branches that run together must write
// disjoint keys.
type Branch struct {
	name     string
	run      func(ctx context.Context, shared *SharedStore) error
	validate func() error
}

// Name returns the branch identity.
func (b Branch) Name() string { return b.name }

// NodeBranch runs node's full lifecycle as a branch.
func NodeBranch(node Node) Branch {
	return Branch{
		name: NodeName(node),
		run: func(ctx context.Context, shared *SharedStore) error {
			_, err := Run(ctx, node, shared)
			return err
		},
		validate: func() error { return validateNode(node) },
	}
}

// FlowBranch runs flow to completion as a branch.
func FlowBranch(flow *Flow) Branch {
	return Branch{
		name: flow.Name(),
		run: func(ctx context.Context, shared *SharedStore) error {
			_, err := flow.runChild(ctx, shared)
			return err
		},
		validate: flow.Validate,
	}
}

// FuncBranch wraps an arbitrary function as a branch.
func FuncBranch(name string, fn func(ctx context.Context, shared *SharedStore) error) Branch {
	return Branch{name: name, run: fn}
}

// Parallel launches every branch concurrently and returns once all of them
// have finished. A failing branch does not cancel its siblings; the errors
// of all failed branches are joined.
func Parallel(ctx context.Context, shared *SharedStore, branches ...Branch) error {
	rs := runStateFrom(ctx)
	errs := make([]error, len(branches))

	var g errgroup.Group
	for i, b := range branches {
		g.Go(func() error {
			started := time.Now()
			rs.logger.Debug("Starting branch.", "branch", b.name)
			rs.emit(ctx, Event{Type: EventBranchStart, Node: b.name})

			if b.run == nil {
				errs[i] = &ContractError{Op: "branch " + b.name, Msg: "no run function"}
			} else if err := b.run(ctx, shared); err != nil {
				errs[i] = fmt.Errorf("branch %s: %w", b.name, err)
			}

			rs.emit(ctx, Event{Type: EventBranchEnd, Node: b.name, Err: errs[i], Elapsed: time.Since(started)})
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Fork is a node that runs its branches with Parallel and continues on the
// default action once every branch is done. Place the merge node after it.
type Fork struct {
	name     string
	branches []Branch
}

// NewFork creates a fork over branches.
func NewFork(name string, branches ...Branch) *Fork {
	return &Fork{name: name, branches: branches}
}

// Name returns the fork identity.
func (f *Fork) Name() string { return f.name }

// Branches returns the fork's branches.
func (f *Fork) Branches() []Branch { return f.branches }

func (f *Fork) run(ctx context.Context, shared *SharedStore) (Action, error) {
	rs := runStateFrom(ctx)
	started := time.Now()
	rs.emit(ctx, Event{Type: EventNodeStart, Node: f.name})

	if err := Parallel(ctx, shared, f.branches...); err != nil {
		return "", rs.nodeFailed(ctx, &ExecError{Node: f.name, Phase: PhaseExecuting, Err: err}, started)
	}

	rs.emit(ctx, Event{Type: EventNodeEnd, Node: f.name, Action: DefaultAction, Elapsed: time.Since(started)})
	return DefaultAction, nil
}

func (f *Fork) validate() error {
	if len(f.branches) == 0 {
		return &ContractError{Op: "fork " + f.name, Msg: "no branches"}
	}
	var errs []error
	for _, b := range f.branches {
		if b.validate != nil {
			if err := b.validate(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Prep implements Node; Run dispatches forks to their own runner.
func (f *Fork) Prep(ctx context.Context, shared *SharedStore) (any, error) { return nil, nil }

// Exec implements Node.
func (f *Fork) Exec(ctx context.Context, prepResult any) (any, error) { return nil, nil }

// Post implements Node.
func (f *Fork) Post(ctx context.Context, shared *SharedStore, prepResult, execResult any) (Action, error) {
	return DefaultAction, nil
}

// MarkDone records a branch completion marker. Call it from the branch's
// Post phase.
func MarkDone(shared *SharedStore, marker string) {
	shared.Set(marker, true)
}

// ResetMarkers clears completion markers before the branches are launched.
func ResetMarkers(shared *SharedStore, markers ...string) {
	for _, m := range markers {
		shared.Set(m, false)
	}
}

// RequireMarkers checks that every marker was set by MarkDone. A merge
// node calls it from Prep; a missing marker means the branches were not
// awaited and is reported as a contract violation naming the markers.
func RequireMarkers(shared *SharedStore, markers ...string) error {
	var missing []string
	for _, m := range markers {
		if !shared.GetBool(m) {
			missing = append(missing, m)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &ContractError{Op: "merge", Key: strings.Join(missing, ","), Msg: "completion marker missing, branches were not awaited"}
}
