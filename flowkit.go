// Package flowkit is a small workflow orchestration engine. Units of work
// are nodes with a prep -> exec -> post lifecycle; a Flow routes between
// them on the action each node returns, retrying exec with a fixed wait and
// falling back once retries run out. Batch nodes fan exec out over a
// collection, and Parallel/Fork run independent branches that join before a
// merge node.
//
// Example:
//
//	greet := flowkit.NewNode(
//	    flowkit.WithName("greet"),
//	    flowkit.WithExecFunc(func(ctx context.Context, _ any) (any, error) {
//	        return "hello", nil
//	    }),
//	    flowkit.WithPostFunc(func(ctx context.Context, shared *flowkit.SharedStore, _, res any) (flowkit.Action, error) {
//	        shared.Set("greeting", res)
//	        return flowkit.DefaultAction, nil
//	    }),
//	)
//
//	report, err := flowkit.NewFlow(greet).Run(ctx, flowkit.NewSharedStore())
package flowkit

import (
	"context"
	"fmt"
	"time"
)

// Action is the outcome token a node returns from Post. Flows route on it.
type Action string

// DefaultAction is used when Post returns an empty action.
const DefaultAction Action = "default"

// Node is the interface that all nodes must implement.
//
// Prep reads the store and must not mutate it. Exec does the work and may
// be retried; it never sees the store. Post is the only phase allowed to
// write to the store.
type Node interface {
	Prep(ctx context.Context, shared *SharedStore) (any, error)
	Exec(ctx context.Context, prepResult any) (any, error)
	Post(ctx context.Context, shared *SharedStore, prepResult, execResult any) (Action, error)
}

// RetryableNode is a node with a retry policy. Nodes without one get a
// single attempt.
type RetryableNode interface {
	GetMaxRetries() int
	GetWait() time.Duration
}

// FallbackNode is a node that can substitute a result once every exec
// attempt has failed. An error from ExecFallback aborts the run.
type FallbackNode interface {
	ExecFallback(prepResult any, err error) (any, error)
}

// NamedNode gives a node a stable identity in logs, events and reports.
type NamedNode interface {
	Name() string
}

// NodeName returns the identity used for n in errors and reports.
func NodeName(n any) string {
	if named, ok := n.(NamedNode); ok {
		if name := named.Name(); name != "" {
			return name
		}
	}
	return fmt.Sprintf("%T", n)
}

// BaseNode carries the static configuration shared by node
// implementations. Embed it and override the phases you need. Its
// configuration does not change after construction, so one BaseNode may
// back concurrent batch items and repeated runs.
type BaseNode struct {
	name       string
	maxRetries int
	wait       time.Duration
}

// NewBaseNode creates a new BaseNode with options
func NewBaseNode(opts ...NodeOption) *BaseNode {
	n := &BaseNode{
		maxRetries: 1,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NodeOption is a function that configures a BaseNode
type NodeOption func(*BaseNode)

// WithName sets the node identity.
func WithName(name string) NodeOption {
	return func(n *BaseNode) {
		n.name = name
	}
}

// WithMaxRetries sets the total number of exec attempts. One means a
// single attempt with no retry. Values below one are rejected by
// Flow.Validate.
func WithMaxRetries(retries int) NodeOption {
	return func(n *BaseNode) {
		n.maxRetries = retries
	}
}

// WithWait sets the wait applied before every retry.
func WithWait(wait time.Duration) NodeOption {
	return func(n *BaseNode) {
		n.wait = wait
	}
}

// Name returns the configured identity.
func (n *BaseNode) Name() string { return n.name }

// GetMaxRetries returns the maximum number of attempts
func (n *BaseNode) GetMaxRetries() int { return n.maxRetries }

// GetWait returns the wait duration between retries
func (n *BaseNode) GetWait() time.Duration { return n.wait }

// Prep is the default prep implementation (can be overridden)
func (n *BaseNode) Prep(ctx context.Context, shared *SharedStore) (any, error) {
	return nil, nil
}

// Exec is the default exec implementation (must be overridden)
func (n *BaseNode) Exec(ctx context.Context, prepResult any) (any, error) {
	return nil, nil
}

// Post is the default post implementation (can be overridden)
func (n *BaseNode) Post(ctx context.Context, shared *SharedStore, prepResult, execResult any) (Action, error) {
	return DefaultAction, nil
}

type attemptKey struct{}

// AttemptFromContext returns the 1-based exec attempt number inside Exec,
// or 0 outside of it.
func AttemptFromContext(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

func withAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// Run executes one node through prep -> exec -> post against shared and
// returns the action it reported. Nested flows, forks and batch nodes are
// dispatched to their own runners.
func Run(ctx context.Context, node Node, shared *SharedStore) (Action, error) {
	switch n := node.(type) {
	case *Flow:
		return n.runChild(ctx, shared)
	case *Fork:
		return n.run(ctx, shared)
	case BatchNode:
		return runBatch(ctx, n, shared)
	}

	rs := runStateFrom(ctx)
	name := NodeName(node)
	if err := ctx.Err(); err != nil {
		return "", &ExecError{Node: name, Phase: PhasePreparing, Err: err}
	}

	started := time.Now()
	rs.emit(ctx, Event{Type: EventNodeStart, Node: name})

	prepResult, err := node.Prep(ctx, shared)
	if err != nil {
		return "", rs.nodeFailed(ctx, &ExecError{Node: name, Phase: PhasePreparing, Err: err}, started)
	}

	execResult, attempts, err := execWithRetries(ctx, rs, name, policyOf(node), fallbackOf(node), node.Exec, prepResult)
	if err != nil {
		return "", rs.nodeFailed(ctx, &ExecError{Node: name, Phase: PhaseExecuting, Attempts: attempts, Err: err}, started)
	}

	action, err := node.Post(ctx, shared, prepResult, execResult)
	if err != nil {
		return "", rs.nodeFailed(ctx, &ExecError{Node: name, Phase: PhaseFinalizing, Attempts: attempts, Err: err}, started)
	}
	if action == "" {
		action = DefaultAction
	}

	rs.emit(ctx, Event{Type: EventNodeEnd, Node: name, Action: action, Attempt: attempts, Elapsed: time.Since(started)})
	return action, nil
}

type retryPolicy struct {
	maxRetries int
	wait       time.Duration
}

func policyOf(node any) retryPolicy {
	p := retryPolicy{maxRetries: 1}
	if r, ok := node.(RetryableNode); ok {
		p.maxRetries = r.GetMaxRetries()
		p.wait = r.GetWait()
	}
	if p.maxRetries < 1 {
		p.maxRetries = 1
	}
	return p
}

type fallbackFunc func(prepResult any, err error) (any, error)

// fallbackProvider lets function-backed nodes report whether a fallback was
// configured at all.
type fallbackProvider interface {
	fallback() fallbackFunc
}

func fallbackOf(node any) fallbackFunc {
	if p, ok := node.(fallbackProvider); ok {
		return p.fallback()
	}
	if f, ok := node.(FallbackNode); ok {
		return f.ExecFallback
	}
	return nil
}

// execWithRetries runs exec up to p.maxRetries times, waiting p.wait before
// every retry. It returns the number of attempts made.
func execWithRetries(ctx context.Context, rs *runState, name string, p retryPolicy, fallback fallbackFunc,
	exec func(context.Context, any) (any, error), input any) (any, int, error) {
	var last outcome
	attempts := 0

	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		if attempt > 1 {
			rs.logger.Warn("Retrying node.", "node", name, "attempt", attempt, "maxRetries", p.maxRetries, "wait", p.wait, "error", last.err)
			rs.emit(ctx, itemEvent(ctx, Event{Type: EventNodeRetry, Node: name, Attempt: attempt, Err: last.err}))
			if err := wait(ctx, p.wait); err != nil {
				return nil, attempts, err
			}
		} else if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		attempts = attempt
		last = classify(exec(withAttempt(ctx, attempt), input))
		switch last.kind {
		case outcomeSuccess:
			return last.value, attempts, nil
		case outcomeFatal:
			return nil, attempts, last.err
		}
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}
	}

	if fallback == nil {
		return nil, attempts, last.err
	}

	rs.logger.Warn("Retries exhausted, using fallback.", "node", name, "attempts", attempts, "error", last.err)
	rs.emit(ctx, itemEvent(ctx, Event{Type: EventNodeFallback, Node: name, Attempt: attempts, Err: last.err}))
	value, err := fallback(input, last.err)
	if err != nil {
		return nil, attempts, Fatal(fmt.Errorf("fallback: %w", err))
	}
	return value, attempts, nil
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
