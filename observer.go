package flowkit

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// EventType enumerates the lifecycle points reported to observers.
type EventType string

const (
	EventFlowStart    EventType = "flow_start"
	EventFlowEnd      EventType = "flow_end"
	EventNodeStart    EventType = "node_start"
	EventNodeRetry    EventType = "node_retry"
	EventNodeFallback EventType = "node_fallback"
	EventNodeEnd      EventType = "node_end"
	EventNodeError    EventType = "node_error"
	EventBranchStart  EventType = "branch_start"
	EventBranchEnd    EventType = "branch_end"
)

// Event carries what an observer needs to log or count a lifecycle point.
type Event struct {
	Type    EventType
	Time    time.Time
	RunID   string
	Node    string
	Action  Action
	Attempt int
	// Item is the batch item index; InBatch is false outside batch items.
	Item    int
	InBatch bool
	Err     error
	Elapsed time.Duration
}

// Observer receives lifecycle events. Notify is called synchronously from
// the goroutine that produced the event, which may be a batch worker, so
// implementations must be safe for concurrent use.
type Observer interface {
	Notify(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

// Notify calls f.
func (f ObserverFunc) Notify(ctx context.Context, event Event) { f(ctx, event) }

// Observers fans events out to several observers.
type Observers []Observer

// Notify forwards event to every observer in order.
func (o Observers) Notify(ctx context.Context, event Event) {
	for _, obs := range o {
		obs.Notify(ctx, event)
	}
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// runState is the per-run ambient state carried through the context so that
// Run, batch workers and branches report under the same run.
type runState struct {
	id       string
	logger   *slog.Logger
	observer Observer
}

type runStateKey struct{}

func withRunState(ctx context.Context, rs *runState) context.Context {
	return context.WithValue(ctx, runStateKey{}, rs)
}

func runStateFrom(ctx context.Context) *runState {
	if rs, ok := ctx.Value(runStateKey{}).(*runState); ok {
		return rs
	}
	return &runState{logger: discardLogger}
}

// RunIDFromContext returns the id of the flow run executing ctx, if any.
func RunIDFromContext(ctx context.Context) string {
	return runStateFrom(ctx).id
}

// child returns the run state for nested flow f: same run ID, with f's own
// logger and observer added when it has them.
func (rs *runState) child(f *Flow) *runState {
	if f.logger == discardLogger && f.observer == nil {
		return rs
	}
	c := *rs
	if f.logger != discardLogger {
		c.logger = f.logger.With("flow", f.Name(), "runID", rs.id)
	}
	if f.observer != nil {
		if c.observer == nil {
			c.observer = f.observer
		} else {
			c.observer = Observers{c.observer, f.observer}
		}
	}
	return &c
}

func (rs *runState) emit(ctx context.Context, event Event) {
	if rs.observer == nil {
		return
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	event.RunID = rs.id
	rs.observer.Notify(ctx, event)
}

func (rs *runState) nodeFailed(ctx context.Context, err *ExecError, started time.Time) error {
	rs.logger.Error("Node failed.", "node", err.Node, "phase", err.Phase.String(), "attempts", err.Attempts, "error", err.Err)
	rs.emit(ctx, Event{Type: EventNodeError, Node: err.Node, Attempt: err.Attempts, Err: err, Elapsed: time.Since(started)})
	return err
}
