package telemetry

import (
	"context"
	"log/slog"

	"github.com/gbaeke/flowkit"
)

// LogObserver writes every lifecycle event to a slog.Logger. Failures are
// logged at Error, retries and fallbacks at Warn, the rest at Debug.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger uses slog.Default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

// Notify implements flowkit.Observer.
func (o *LogObserver) Notify(ctx context.Context, e flowkit.Event) {
	attrs := []slog.Attr{
		slog.String("event", string(e.Type)),
		slog.String("runID", e.RunID),
	}
	if e.Node != "" {
		attrs = append(attrs, slog.String("node", e.Node))
	}
	if e.Action != "" {
		attrs = append(attrs, slog.String("action", string(e.Action)))
	}
	if e.Attempt > 0 {
		attrs = append(attrs, slog.Int("attempt", e.Attempt))
	}
	if e.InBatch {
		attrs = append(attrs, slog.Int("item", e.Item))
	}
	if e.Elapsed > 0 {
		attrs = append(attrs, slog.Duration("elapsed", e.Elapsed))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}

	level := slog.LevelDebug
	switch e.Type {
	case flowkit.EventNodeError:
		level = slog.LevelError
	case flowkit.EventNodeRetry, flowkit.EventNodeFallback:
		level = slog.LevelWarn
	case flowkit.EventFlowEnd, flowkit.EventBranchEnd:
		if e.Err != nil {
			level = slog.LevelError
		}
	}
	o.logger.LogAttrs(ctx, level, "Flow event.", attrs...)
}
