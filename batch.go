package flowkit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchNode is a node whose exec phase runs once per item of the collection
// produced by PrepBatch. Each item gets the node's retry policy on its own.
// Results passed to PostBatch are index-aligned with items.
//
// Batch implementations must also satisfy Node (embedding *BaseNode is
// enough) so they can be placed in a Flow; Run dispatches them here.
type BatchNode interface {
	PrepBatch(ctx context.Context, shared *SharedStore) ([]any, error)
	ExecItem(ctx context.Context, item any) (any, error)
	PostBatch(ctx context.Context, shared *SharedStore, items, results []any) (Action, error)
}

// ItemFallbackNode substitutes a result for an item whose attempts all
// failed.
type ItemFallbackNode interface {
	ExecItemFallback(item any, err error) (any, error)
}

// BatchConfigurable selects the execution mode and concurrency cap of a
// batch node. Nodes without it run sequentially.
type BatchConfigurable interface {
	BatchMode() Mode
	MaxConcurrency() int
}

type itemKey struct{}

// ItemFromContext returns the index of the batch item being executed.
func ItemFromContext(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(itemKey{}).(int)
	return i, ok
}

func itemEvent(ctx context.Context, e Event) Event {
	if i, ok := ItemFromContext(ctx); ok {
		e.Item, e.InBatch = i, true
	}
	return e
}

func runBatch(ctx context.Context, node BatchNode, shared *SharedStore) (Action, error) {
	rs := runStateFrom(ctx)
	name := NodeName(node)
	if err := ctx.Err(); err != nil {
		return "", &ExecError{Node: name, Phase: PhasePreparing, Err: err}
	}

	started := time.Now()
	rs.emit(ctx, Event{Type: EventNodeStart, Node: name})

	items, err := node.PrepBatch(ctx, shared)
	if err != nil {
		return "", rs.nodeFailed(ctx, &ExecError{Node: name, Phase: PhasePreparing, Err: err}, started)
	}
	if items == nil {
		items = []any{}
	}

	mode, limit := ModeSequential, 0
	if c, ok := node.(BatchConfigurable); ok {
		mode, limit = c.BatchMode(), c.MaxConcurrency()
	}
	rs.logger.Debug("Running batch.", "node", name, "items", len(items), "mode", mode.String(), "maxConcurrency", limit)

	var results []any
	if mode == ModeParallel {
		results, err = runItemsParallel(ctx, rs, name, node, items, limit)
	} else {
		results, err = runItemsSequential(ctx, rs, name, node, items)
	}
	if err != nil {
		return "", rs.nodeFailed(ctx, &ExecError{Node: name, Phase: PhaseExecuting, Err: err}, started)
	}

	action, err := node.PostBatch(ctx, shared, items, results)
	if err != nil {
		return "", rs.nodeFailed(ctx, &ExecError{Node: name, Phase: PhaseFinalizing, Err: err}, started)
	}
	if action == "" {
		action = DefaultAction
	}

	rs.emit(ctx, Event{Type: EventNodeEnd, Node: name, Action: action, Elapsed: time.Since(started)})
	return action, nil
}

func itemFallbackOf(node any) fallbackFunc {
	if p, ok := node.(interface{ itemFallback() fallbackFunc }); ok {
		return p.itemFallback()
	}
	if f, ok := node.(ItemFallbackNode); ok {
		return f.ExecItemFallback
	}
	return nil
}

// runItemsSequential stops at the first unresolved failure; later items are
// not executed.
func runItemsSequential(ctx context.Context, rs *runState, name string, node BatchNode, items []any) ([]any, error) {
	policy, fallback := policyOf(node), itemFallbackOf(node)
	results := make([]any, len(items))
	for i, item := range items {
		v, _, err := execWithRetries(context.WithValue(ctx, itemKey{}, i), rs, name, policy, fallback, node.ExecItem, item)
		if err != nil {
			return nil, &BatchError{Node: name, Failures: []ItemError{{Index: i, Err: err}}}
		}
		results[i] = v
	}
	return results, nil
}

// runItemsParallel dispatches every item and waits for all of them, even
// after one has failed. Any unresolved failure fails the whole batch.
func runItemsParallel(ctx context.Context, rs *runState, name string, node BatchNode, items []any, limit int) ([]any, error) {
	policy, fallback := policyOf(node), itemFallbackOf(node)
	results := make([]any, len(items))
	errs := make([]error, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			results[i], _, errs[i] = execWithRetries(context.WithValue(ctx, itemKey{}, i), rs, name, policy, fallback, node.ExecItem, item)
			return nil
		})
	}
	_ = g.Wait()

	var failures []ItemError
	for i, err := range errs {
		if err != nil {
			failures = append(failures, ItemError{Index: i, Err: err})
		}
	}
	if len(failures) > 0 {
		return nil, &BatchError{Node: name, Failures: failures}
	}
	return results, nil
}

// FuncBatchNode is a batch node whose phases are plain functions.
type FuncBatchNode struct {
	*BaseNode
	mode           Mode
	maxConcurrency int
	prepFunc       func(context.Context, *SharedStore) ([]any, error)
	execFunc       func(context.Context, any) (any, error)
	postFunc       func(context.Context, *SharedStore, []any, []any) (Action, error)
	fallbackFunc   func(any, error) (any, error)
}

// NewBatchNode creates a function-backed batch node. It accepts NodeOption
// and BatchNodeOption values in any order.
func NewBatchNode(opts ...any) *FuncBatchNode {
	node := &FuncBatchNode{
		BaseNode: NewBaseNode(),
	}
	var batchOpts []BatchNodeOption
	for _, opt := range opts {
		switch o := opt.(type) {
		case BatchNodeOption:
			batchOpts = append(batchOpts, o)
		case NodeOption:
			o(node.BaseNode)
		case func(*BaseNode):
			o(node.BaseNode)
		}
	}
	for _, opt := range batchOpts {
		opt(node)
	}
	return node
}

// BatchNodeOption configures a FuncBatchNode.
type BatchNodeOption func(*FuncBatchNode)

// WithMode sets sequential or parallel item execution.
func WithMode(mode Mode) BatchNodeOption {
	return func(n *FuncBatchNode) {
		n.mode = mode
	}
}

// WithMaxConcurrency caps the number of items in flight in parallel mode.
// Zero means unbounded.
func WithMaxConcurrency(limit int) BatchNodeOption {
	return func(n *FuncBatchNode) {
		n.maxConcurrency = limit
	}
}

// WithBatchPrepFunc sets the function producing the items.
func WithBatchPrepFunc(fn func(context.Context, *SharedStore) ([]any, error)) BatchNodeOption {
	return func(n *FuncBatchNode) {
		n.prepFunc = fn
	}
}

// WithItemExecFunc sets the per-item exec function.
func WithItemExecFunc(fn func(context.Context, any) (any, error)) BatchNodeOption {
	return func(n *FuncBatchNode) {
		n.execFunc = fn
	}
}

// WithBatchPostFunc sets the function receiving all items and results.
func WithBatchPostFunc(fn func(context.Context, *SharedStore, []any, []any) (Action, error)) BatchNodeOption {
	return func(n *FuncBatchNode) {
		n.postFunc = fn
	}
}

// WithItemFallbackFunc sets the per-item fallback.
func WithItemFallbackFunc(fn func(item any, err error) (any, error)) BatchNodeOption {
	return func(n *FuncBatchNode) {
		n.fallbackFunc = fn
	}
}

// PrepBatch implements BatchNode. Without a prep function there are no items.
func (n *FuncBatchNode) PrepBatch(ctx context.Context, shared *SharedStore) ([]any, error) {
	if n.prepFunc == nil {
		return nil, nil
	}
	return n.prepFunc(ctx, shared)
}

// ExecItem implements BatchNode by calling the item exec function.
func (n *FuncBatchNode) ExecItem(ctx context.Context, item any) (any, error) {
	if n.execFunc == nil {
		return nil, fmt.Errorf("batch %s: no item exec function configured", NodeName(n))
	}
	return n.execFunc(ctx, item)
}

// PostBatch implements BatchNode. Without a post function it returns
// DefaultAction.
func (n *FuncBatchNode) PostBatch(ctx context.Context, shared *SharedStore, items, results []any) (Action, error) {
	if n.postFunc == nil {
		return DefaultAction, nil
	}
	return n.postFunc(ctx, shared, items, results)
}

// BatchMode implements BatchConfigurable.
func (n *FuncBatchNode) BatchMode() Mode { return n.mode }

// MaxConcurrency implements BatchConfigurable.
func (n *FuncBatchNode) MaxConcurrency() int { return n.maxConcurrency }

func (n *FuncBatchNode) itemFallback() fallbackFunc {
	if n.fallbackFunc == nil {
		return nil
	}
	return n.fallbackFunc
}
