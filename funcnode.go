package flowkit

import "context"

// FuncNode is a node whose phases are plain functions. Phases left unset
// behave like BaseNode.
type FuncNode struct {
	*BaseNode
	prepFunc     func(context.Context, *SharedStore) (any, error)
	execFunc     func(context.Context, any) (any, error)
	postFunc     func(context.Context, *SharedStore, any, any) (Action, error)
	fallbackFunc func(any, error) (any, error)
}

// Prep implements Node.Prep by calling the custom prepFunc if provided
func (n *FuncNode) Prep(ctx context.Context, shared *SharedStore) (any, error) {
	if n.prepFunc != nil {
		return n.prepFunc(ctx, shared)
	}
	return n.BaseNode.Prep(ctx, shared)
}

// Exec implements Node.Exec by calling the custom execFunc if provided
func (n *FuncNode) Exec(ctx context.Context, prepResult any) (any, error) {
	if n.execFunc != nil {
		return n.execFunc(ctx, prepResult)
	}
	return n.BaseNode.Exec(ctx, prepResult)
}

// Post implements Node.Post by calling the custom postFunc if provided
func (n *FuncNode) Post(ctx context.Context, shared *SharedStore, prepResult, execResult any) (Action, error) {
	if n.postFunc != nil {
		return n.postFunc(ctx, shared, prepResult, execResult)
	}
	return n.BaseNode.Post(ctx, shared, prepResult, execResult)
}

func (n *FuncNode) fallback() fallbackFunc {
	if n.fallbackFunc == nil {
		return nil
	}
	return n.fallbackFunc
}

// NewNode creates a function-backed node. It accepts NodeOption values
// (name, retries, wait) and FuncNodeOption values (phase functions) in any
// order; other values are ignored.
func NewNode(opts ...any) *FuncNode {
	node := &FuncNode{
		BaseNode: NewBaseNode(),
	}

	var funcOpts []FuncNodeOption
	for _, opt := range opts {
		switch o := opt.(type) {
		case FuncNodeOption:
			funcOpts = append(funcOpts, o)
		case NodeOption:
			o(node.BaseNode)
		case func(*BaseNode):
			o(node.BaseNode)
		}
	}

	for _, opt := range funcOpts {
		opt.apply(node)
	}
	return node
}

// FuncNodeOption configures a phase of a FuncNode.
type FuncNodeOption interface {
	apply(*FuncNode)
}

type funcNodeOption func(*FuncNode)

func (o funcNodeOption) apply(n *FuncNode) { o(n) }

// WithPrepFunc sets the Prep phase.
func WithPrepFunc(fn func(context.Context, *SharedStore) (any, error)) FuncNodeOption {
	return funcNodeOption(func(n *FuncNode) {
		n.prepFunc = fn
	})
}

// WithExecFunc sets the Exec phase.
func WithExecFunc(fn func(context.Context, any) (any, error)) FuncNodeOption {
	return funcNodeOption(func(n *FuncNode) {
		n.execFunc = fn
	})
}

// WithPostFunc sets the Post phase.
func WithPostFunc(fn func(context.Context, *SharedStore, any, any) (Action, error)) FuncNodeOption {
	return funcNodeOption(func(n *FuncNode) {
		n.postFunc = fn
	})
}

// WithFallbackFunc sets the function invoked after every exec attempt has
// failed. Its result replaces the exec result.
func WithFallbackFunc(fn func(prepResult any, err error) (any, error)) FuncNodeOption {
	return funcNodeOption(func(n *FuncNode) {
		n.fallbackFunc = fn
	})
}
