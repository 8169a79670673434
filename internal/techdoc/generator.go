package techdoc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gbaeke/flowkit"
	"github.com/gbaeke/flowkit/internal/config"
)

var (
	// ErrInvalidInput is returned when the technology list is rejected.
	ErrInvalidInput = errors.New("techdoc: invalid input")

	// ErrFlowExecution is returned when the flow fails or times out.
	ErrFlowExecution = errors.New("techdoc: flow execution failed")

	// ErrInvalidOutput is returned when the flow finishes without a usable
	// document.
	ErrInvalidOutput = errors.New("techdoc: invalid output")
)

// Generator runs the document flow for a technology list.
type Generator struct {
	cfg    *config.Config
	flow   *flowkit.Flow
	logger *slog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*generatorOptions)

type generatorOptions struct {
	observers []flowkit.Observer
}

// WithObserver forwards flow lifecycle events to obs.
func WithObserver(obs flowkit.Observer) GeneratorOption {
	return func(o *generatorOptions) {
		o.observers = append(o.observers, obs)
	}
}

// NewGenerator builds the flow selected by cfg.Run.Mode once; Invoke reuses
// it for every request.
func NewGenerator(cfg *config.Config, d Deps, opts ...GeneratorOption) (*Generator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("techdoc: %w", err)
	}
	if d.LLM == nil || d.Searcher == nil {
		return nil, errors.New("techdoc: LLM client and searcher are required")
	}

	var o generatorOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := d.logger()
	flowOpts := []flowkit.FlowOption{
		flowkit.WithTimeout(cfg.Run.Timeout),
		flowkit.WithLogger(logger),
		flowkit.WithStrictEdges(),
	}
	for _, obs := range o.observers {
		flowOpts = append(flowOpts, flowkit.WithObserver(obs))
	}

	var flow *flowkit.Flow
	switch cfg.Run.Mode {
	case config.ModeSerial:
		flow = NewSerialFlow(d, cfg, flowOpts...)
	default:
		flow = NewParallelFlow(d, cfg, flowOpts...)
	}
	if err := flow.Validate(); err != nil {
		return nil, fmt.Errorf("techdoc: %w", err)
	}

	logger.Debug("Generator initialized.", "mode", cfg.Run.Mode, "timeout", cfg.Run.Timeout, "model", cfg.LLM.Model)
	return &Generator{cfg: cfg, flow: flow, logger: logger}, nil
}

// Flow returns the flow the generator runs.
func (g *Generator) Flow() *flowkit.Flow {
	return g.flow
}

// Invoke generates a document for technologies. The returned error matches
// one of ErrInvalidInput, ErrFlowExecution or ErrInvalidOutput; a run that
// hit the configured timeout also matches flowkit.ErrTimeout. The report is
// nil only when the input was rejected.
func (g *Generator) Invoke(ctx context.Context, technologies []string) (string, *flowkit.Report, error) {
	started := time.Now()

	techs, err := ValidateTechnologies(technologies, g.cfg.Run.MaxTechnologies)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	g.logger.Info("Generating document.", "technologies", len(techs), "mode", g.cfg.Run.Mode)

	shared := flowkit.NewSharedStoreFrom(map[string]any{KeyTechnologies: techs})
	flowkit.ResetMarkers(shared, KeyOutlineComplete, KeyResearchComplete)

	report, err := g.flow.Run(ctx, shared)
	if err != nil {
		g.logger.Error("Document generation failed.", "runID", report.RunID, "path", report.Path, "storeKeys", shared.Keys(), "error", err)
		return "", report, fmt.Errorf("%w: %w", ErrFlowExecution, err)
	}

	document, err := flowkit.Lookup[string](shared, KeyFinalDocument)
	if err != nil {
		return "", report, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}
	document, err = ValidateDocument(document, g.cfg.Run.MinDocumentLength)
	if err != nil {
		return "", report, fmt.Errorf("%w: %w", ErrInvalidOutput, err)
	}

	g.logger.Info("Document generation completed.", "runID", report.RunID, "length", len(document), "elapsed", time.Since(started).Round(time.Millisecond))
	return document, report, nil
}
