package flowkit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrContract is matched by every *ContractError.
	ErrContract = errors.New("flowkit: contract violation")

	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("flowkit: run timed out")
)

// ContractError reports a programming error: a missing store key or
// completion marker, or a malformed graph. It is never retried.
type ContractError struct {
	Op   string
	Key  string
	Edge string
	Msg  string
}

func (e *ContractError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": contract violation")
	if e.Key != "" {
		fmt.Fprintf(&b, ": key %q", e.Key)
	}
	if e.Edge != "" {
		fmt.Fprintf(&b, ": edge %s", e.Edge)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

func (e *ContractError) Is(target error) bool {
	return target == ErrContract
}

// ExecError is returned when a node fails in one of its phases and nothing
// absorbed the failure.
type ExecError struct {
	Node     string
	Phase    Phase
	Attempts int
	Err      error
}

func (e *ExecError) Error() string {
	if e.Phase == PhaseExecuting && e.Attempts > 0 {
		return fmt.Sprintf("node %s: exec failed after %d attempt(s): %v", e.Node, e.Attempts, e.Err)
	}
	return fmt.Sprintf("node %s: %s failed: %v", e.Node, e.Phase, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ItemError is one unresolved item failure inside a batch.
type ItemError struct {
	Index int
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// BatchError aggregates the unresolved item failures of a batch node.
// Failures are ordered by item index.
type BatchError struct {
	Node     string
	Failures []ItemError
}

func (e *BatchError) Error() string {
	switch len(e.Failures) {
	case 0:
		return fmt.Sprintf("batch %s: no errors recorded", e.Node)
	case 1:
		return fmt.Sprintf("batch %s: %v", e.Node, e.Failures[0])
	}
	return fmt.Sprintf("batch %s: %d items failed, first: %v", e.Node, len(e.Failures), e.Failures[0])
}

// Unwrap exposes every item cause to errors.Is and errors.As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Indices returns the failed item indices in ascending order.
func (e *BatchError) Indices() []int {
	out := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Index
	}
	sort.Ints(out)
	return out
}

// TimeoutError is returned when the run-level timeout fires. Partial writes
// made before the deadline stay in the store.
type TimeoutError struct {
	Limit   time.Duration
	Elapsed time.Duration
	Node    string
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("flow: run timed out after %s (limit %s) in node %s", e.Elapsed.Round(time.Millisecond), e.Limit, e.Node)
	}
	return fmt.Sprintf("flow: run timed out after %s (limit %s)", e.Elapsed.Round(time.Millisecond), e.Limit)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == context.DeadlineExceeded
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal marks an Exec error as non-retryable. The retry loop stops at once
// and no fallback is consulted.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
