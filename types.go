package flowkit

// Phase is a state of the node lifecycle.
type Phase int

const (
	PhasePreparing Phase = iota
	PhaseExecuting
	PhaseFinalizing
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePreparing:
		return "prep"
	case PhaseExecuting:
		return "exec"
	case PhaseFinalizing:
		return "post"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mode selects how a batch node executes its items.
type Mode int

const (
	// ModeSequential runs items one at a time in order; the first unresolved
	// failure aborts the batch.
	ModeSequential Mode = iota
	// ModeParallel dispatches every item concurrently and waits for all of them.
	ModeParallel
)

func (m Mode) String() string {
	if m == ModeParallel {
		return "parallel"
	}
	return "sequential"
}

// outcomeKind tags the result of one exec attempt.
type outcomeKind int

const (
	outcomeSuccess outcomeKind = iota
	outcomeTransient
	outcomeFatal
)

// outcome is the explicit result of a single exec attempt. The retry loop
// branches on kind instead of inspecting errors ad hoc.
type outcome struct {
	kind  outcomeKind
	value any
	err   error
}

func classify(value any, err error) outcome {
	switch {
	case err == nil:
		return outcome{kind: outcomeSuccess, value: value}
	case IsFatal(err):
		return outcome{kind: outcomeFatal, err: err}
	default:
		return outcome{kind: outcomeTransient, err: err}
	}
}
