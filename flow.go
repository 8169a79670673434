package flowkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Flow is a directed graph of nodes connected by action edges. Build it
// once and reuse it across runs: Run never mutates the graph, and every run
// gets its own store.
//
// Nodes are used as map keys, so node values must be comparable; pointer
// types always are.
type Flow struct {
	name        string
	start       Node
	transitions map[Node]map[Action]Node
	errs        []error
	strict      bool
	timeout     time.Duration
	maxSteps    int
	logger      *slog.Logger
	observer    Observer
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithFlowName sets the identity of the flow when it is nested in another
// flow or used as a branch.
func WithFlowName(name string) FlowOption {
	return func(f *Flow) {
		f.name = name
	}
}

// WithTimeout bounds a whole run. Retry waits count against it.
func WithTimeout(d time.Duration) FlowOption {
	return func(f *Flow) {
		f.timeout = d
	}
}

// WithMaxSteps aborts a run after n node executions. Zero means no limit.
func WithMaxSteps(n int) FlowOption {
	return func(f *Flow) {
		f.maxSteps = n
	}
}

// WithStrictEdges makes a second registration of the same (node, action)
// edge a construction error instead of replacing the first.
func WithStrictEdges() FlowOption {
	return func(f *Flow) {
		f.strict = true
	}
}

// WithLogger sets the logger used for run diagnostics.
func WithLogger(logger *slog.Logger) FlowOption {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithObserver registers an observer for lifecycle events.
func WithObserver(obs Observer) FlowOption {
	return func(f *Flow) {
		if obs == nil {
			return
		}
		if f.observer == nil {
			f.observer = obs
			return
		}
		f.observer = Observers{f.observer, obs}
	}
}

// NewFlow creates a new Flow with a start node
func NewFlow(start Node, opts ...FlowOption) *Flow {
	f := &Flow{
		start:       start,
		transitions: make(map[Node]map[Action]Node),
		logger:      discardLogger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Connect registers the edge (from, action) -> to. An empty action is the
// default action. Registering the same (from, action) twice keeps the last
// target unless the flow was built WithStrictEdges. Problems are reported
// by Validate and Run.
func (f *Flow) Connect(from Node, action Action, to Node) *Flow {
	if action == "" {
		action = DefaultAction
	}
	edge := fmt.Sprintf("%s --%s--> %s", nodeLabel(from), action, nodeLabel(to))
	if from == nil || to == nil {
		f.errs = append(f.errs, &ContractError{Op: "connect", Edge: edge, Msg: "nil endpoint"})
		return f
	}

	if f.transitions[from] == nil {
		f.transitions[from] = make(map[Action]Node)
	}
	if prev, ok := f.transitions[from][action]; ok {
		if f.strict {
			f.errs = append(f.errs, &ContractError{Op: "connect", Edge: edge, Msg: "duplicate edge, already routed to " + NodeName(prev)})
			return f
		}
		f.logger.Warn("Replacing edge.", "from", NodeName(from), "action", string(action), "previous", NodeName(prev), "next", NodeName(to))
	}
	f.transitions[from][action] = to
	return f
}

// Next connects from to to on the default action.
func (f *Flow) Next(from, to Node) *Flow {
	return f.Connect(from, DefaultAction, to)
}

func nodeLabel(n Node) string {
	if n == nil {
		return "<nil>"
	}
	return NodeName(n)
}

// Name returns the configured flow name, or "flow".
func (f *Flow) Name() string {
	if f.name == "" {
		return "flow"
	}
	return f.name
}

// Start returns the start node.
func (f *Flow) Start() Node {
	return f.start
}

// Successor returns the node routed to from n on action.
func (f *Flow) Successor(n Node, action Action) (Node, bool) {
	next, ok := f.transitions[n][action]
	return next, ok
}

// Validate reports construction errors: a missing start node, nil or
// duplicate edges, and retry settings out of range on any reachable node.
// Nested flows and fork branches are validated as well.
func (f *Flow) Validate() error {
	errs := append([]error(nil), f.errs...)
	if f.start == nil {
		errs = append(errs, &ContractError{Op: "flow " + f.Name(), Msg: "no start node configured"})
		return errors.Join(errs...)
	}

	seen := make(map[Node]bool)
	queue := []Node{f.start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true

		if err := validateNode(n); err != nil {
			errs = append(errs, err)
		}
		for _, next := range f.transitions[n] {
			queue = append(queue, next)
		}
	}
	return errors.Join(errs...)
}

func validateNode(n Node) error {
	switch v := n.(type) {
	case *Flow:
		return v.Validate()
	case *Fork:
		return v.validate()
	}
	if r, ok := n.(RetryableNode); ok {
		if r.GetMaxRetries() < 1 {
			return &ContractError{Op: "node " + NodeName(n), Msg: fmt.Sprintf("max retries must be at least 1, got %d", r.GetMaxRetries())}
		}
		if r.GetWait() < 0 {
			return &ContractError{Op: "node " + NodeName(n), Msg: fmt.Sprintf("wait must not be negative, got %s", r.GetWait())}
		}
	}
	return nil
}

// Report describes a finished or aborted run. It is returned even when Run
// fails so callers can see how far the run got.
type Report struct {
	RunID      string
	Path       []string
	LastAction Action
	Started    time.Time
	Elapsed    time.Duration
}

// Run executes the flow starting from the start node. The run ends
// normally when the current node's action has no outgoing edge. Any
// unresolved node failure aborts the run; whatever the completed nodes
// wrote stays in shared for diagnostics.
func (f *Flow) Run(ctx context.Context, shared *SharedStore) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), Started: time.Now()}
	if shared == nil {
		return report, &ContractError{Op: "flow " + f.Name(), Msg: "nil shared store"}
	}
	if err := f.Validate(); err != nil {
		return report, fmt.Errorf("flow %s: invalid graph: %w", f.Name(), err)
	}

	runCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	rs := &runState{id: report.RunID, logger: f.logger.With("flow", f.Name(), "runID", report.RunID), observer: f.observer}
	runCtx = withRunState(runCtx, rs)

	rs.logger.Debug("Starting flow run.")
	rs.emit(runCtx, Event{Type: EventFlowStart, Node: NodeName(f.start)})

	err := f.orchestrate(runCtx, shared, report)
	report.Elapsed = time.Since(report.Started)

	if err != nil && f.timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		current := ""
		if len(report.Path) > 0 {
			current = report.Path[len(report.Path)-1]
		}
		err = &TimeoutError{Limit: f.timeout, Elapsed: report.Elapsed, Node: current, Err: err}
	}

	if err != nil {
		rs.logger.Error("Flow run failed.", "path", report.Path, "elapsed", report.Elapsed, "error", err)
	} else {
		rs.logger.Info("Flow run completed.", "steps", len(report.Path), "lastAction", string(report.LastAction), "elapsed", report.Elapsed)
	}
	rs.emit(runCtx, Event{Type: EventFlowEnd, Action: report.LastAction, Err: err, Elapsed: report.Elapsed})
	return report, err
}

func (f *Flow) orchestrate(ctx context.Context, shared *SharedStore, report *Report) error {
	rs := runStateFrom(ctx)
	current := f.start

	for steps := 1; current != nil; steps++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("flow %s: run cancelled: %w", f.Name(), err)
		}
		if f.maxSteps > 0 && steps > f.maxSteps {
			return &ContractError{Op: "flow " + f.Name(), Msg: fmt.Sprintf("exceeded max steps (%d)", f.maxSteps)}
		}

		name := NodeName(current)
		report.Path = append(report.Path, name)

		action, err := Run(ctx, current, shared)
		if err != nil {
			return err
		}
		report.LastAction = action

		next, ok := f.transitions[current][action]
		if !ok {
			rs.logger.Debug("No transition for action, flow ends.", "node", name, "action", string(action))
			return nil
		}
		current = next
	}
	return nil
}

// runChild runs f as a node of an enclosing run: it shares the caller's
// run ID and reports the inner flow's last action to the outer flow. The
// inner flow's own timeout, logger and observer still apply. Called without
// an enclosing run it behaves like Run.
func (f *Flow) runChild(ctx context.Context, shared *SharedStore) (Action, error) {
	outer, ok := ctx.Value(runStateKey{}).(*runState)
	if !ok {
		report, err := f.Run(ctx, shared)
		return report.LastAction, err
	}
	if err := f.Validate(); err != nil {
		return "", fmt.Errorf("flow %s: invalid graph: %w", f.Name(), err)
	}

	childCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		childCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	if rs := outer.child(f); rs != outer {
		childCtx = withRunState(childCtx, rs)
	}

	report := &Report{Started: time.Now()}
	err := f.orchestrate(childCtx, shared, report)
	if err != nil && f.timeout > 0 && errors.Is(childCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		current := ""
		if len(report.Path) > 0 {
			current = report.Path[len(report.Path)-1]
		}
		err = &TimeoutError{Limit: f.timeout, Elapsed: time.Since(report.Started), Node: current, Err: err}
	}
	if err != nil {
		return "", err
	}
	if report.LastAction == "" {
		return DefaultAction, nil
	}
	return report.LastAction, nil
}

// Prep implements Node for nesting; Run dispatches flows to runChild.
func (f *Flow) Prep(ctx context.Context, shared *SharedStore) (any, error) {
	return nil, nil
}

// Exec implements Node for nesting.
func (f *Flow) Exec(ctx context.Context, prepResult any) (any, error) {
	return nil, nil
}

// Post implements Node for nesting.
func (f *Flow) Post(ctx context.Context, shared *SharedStore, prepResult, execResult any) (Action, error) {
	return DefaultAction, nil
}
