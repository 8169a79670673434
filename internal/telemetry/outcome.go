package telemetry

import (
	"errors"

	"github.com/gbaeke/flowkit"
)

// Outcome labels a run result: "success", "timeout", "contract", "batch" or
// "failure".
func Outcome(err error) string {
	var batchErr *flowkit.BatchError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, flowkit.ErrTimeout):
		return "timeout"
	case errors.Is(err, flowkit.ErrContract):
		return "contract"
	case errors.As(err, &batchErr):
		return "batch"
	default:
		return "failure"
	}
}
