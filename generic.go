package flowkit

import (
	"context"
	"fmt"
	"time"
)

// NodeG is Node with typed prep and exec results. Wrap it with
// NewNodeAdapter to place it in a Flow.
type NodeG[P, E any] interface {
	PrepG(ctx context.Context, shared *SharedStore) (P, error)
	ExecG(ctx context.Context, prepResult P) (E, error)
	PostG(ctx context.Context, shared *SharedStore, prepResult P, execResult E) (Action, error)
}

// FallbackG is the typed counterpart of FallbackNode.
type FallbackG[P, E any] interface {
	ExecFallbackG(prepResult P, err error) (E, error)
}

// BaseNodeG supplies name, retry policy and no-op phases to typed nodes.
type BaseNodeG[P, E any] struct {
	*BaseNode
}

// NewBaseNodeG accepts the same options as NewBaseNode.
func NewBaseNodeG[P, E any](opts ...NodeOption) *BaseNodeG[P, E] {
	return &BaseNodeG[P, E]{
		BaseNode: NewBaseNode(opts...),
	}
}

// PrepG implements NodeG and returns the zero value.
func (n *BaseNodeG[P, E]) PrepG(ctx context.Context, shared *SharedStore) (p P, err error) {
	return p, nil
}

// ExecG implements NodeG and returns the zero value.
func (n *BaseNodeG[P, E]) ExecG(ctx context.Context, prepResult P) (e E, err error) {
	return e, nil
}

// PostG implements NodeG and returns DefaultAction.
func (n *BaseNodeG[P, E]) PostG(ctx context.Context, shared *SharedStore, prepResult P, execResult E) (Action, error) {
	return DefaultAction, nil
}

// NodeAdapter adapts a generic node to the standard Node interface. Name,
// retry policy and typed fallback of the wrapped node are passed through.
type NodeAdapter[P, E any] struct {
	node NodeG[P, E]
}

// NewNodeAdapter wraps node. The adapter is a pointer and can be used as a
// flow vertex.
func NewNodeAdapter[P, E any](node NodeG[P, E]) *NodeAdapter[P, E] {
	return &NodeAdapter[P, E]{node: node}
}

// Prep implements Node by calling PrepG.
func (a *NodeAdapter[P, E]) Prep(ctx context.Context, shared *SharedStore) (any, error) {
	return a.node.PrepG(ctx, shared)
}

// Exec implements Node. A prep result of the wrong type is fatal.
func (a *NodeAdapter[P, E]) Exec(ctx context.Context, prepResult any) (any, error) {
	p, err := castPrep[P](prepResult)
	if err != nil {
		return nil, Fatal(err)
	}
	return a.node.ExecG(ctx, p)
}

// Post implements Node by calling PostG with the typed results.
func (a *NodeAdapter[P, E]) Post(ctx context.Context, shared *SharedStore, prepResult, execResult any) (Action, error) {
	p, err := castPrep[P](prepResult)
	if err != nil {
		return "", err
	}
	var e E
	if execResult != nil {
		typed, ok := execResult.(E)
		if !ok {
			return "", fmt.Errorf("post: exec result has type %T, want %s", execResult, typeName[E]())
		}
		e = typed
	}
	return a.node.PostG(ctx, shared, p, e)
}

// Name returns the wrapped node's name.
func (a *NodeAdapter[P, E]) Name() string {
	return NodeName(a.node)
}

// GetMaxRetries reports the wrapped node's setting unchanged, so Validate
// sees out-of-range values. Nodes without a policy get a single attempt.
func (a *NodeAdapter[P, E]) GetMaxRetries() int {
	if r, ok := a.node.(RetryableNode); ok {
		return r.GetMaxRetries()
	}
	return 1
}

// GetWait reports the wrapped node's wait between attempts.
func (a *NodeAdapter[P, E]) GetWait() time.Duration {
	if r, ok := a.node.(RetryableNode); ok {
		return r.GetWait()
	}
	return 0
}

func (a *NodeAdapter[P, E]) fallback() fallbackFunc {
	f, ok := a.node.(FallbackG[P, E])
	if !ok {
		return nil
	}
	return func(prepResult any, err error) (any, error) {
		p, castErr := castPrep[P](prepResult)
		if castErr != nil {
			return nil, castErr
		}
		return f.ExecFallbackG(p, err)
	}
}

func castPrep[P any](v any) (P, error) {
	var zero P
	if v == nil {
		return zero, nil
	}
	typed, ok := v.(P)
	if !ok {
		return zero, fmt.Errorf("prep result has type %T, want %s", v, typeName[P]())
	}
	return typed, nil
}

// RunG runs node's lifecycle through an adapter. A prep or exec result of
// the wrong dynamic type is a fatal error.
func RunG[P, E any](ctx context.Context, node NodeG[P, E], shared *SharedStore) (Action, error) {
	return Run(ctx, NewNodeAdapter(node), shared)
}
