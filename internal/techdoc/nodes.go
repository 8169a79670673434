package techdoc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gbaeke/flowkit"
	"github.com/gbaeke/flowkit/internal/llm"
	"github.com/gbaeke/flowkit/internal/search"
)

// PrepareData validates the technology list and clears the completion
// markers before the branches start.
type PrepareData struct {
	*flowkit.BaseNode
	limit  int
	logger *slog.Logger
}

// Prep reads the raw technology list.
func (n *PrepareData) Prep(ctx context.Context, shared *flowkit.SharedStore) (any, error) {
	return flowkit.Lookup[[]string](shared, KeyTechnologies)
}

// Exec cleans the list; a rejected list is fatal.
func (n *PrepareData) Exec(ctx context.Context, prepResult any) (any, error) {
	cleaned, err := ValidateTechnologies(prepResult.([]string), n.limit)
	if err != nil {
		return nil, flowkit.Fatal(err)
	}
	return cleaned, nil
}

// Post stores the cleaned list and clears both completion markers.
func (n *PrepareData) Post(ctx context.Context, shared *flowkit.SharedStore, prepResult, execResult any) (flowkit.Action, error) {
	techs := execResult.([]string)
	shared.Set(KeyTechnologies, techs)
	flowkit.ResetMarkers(shared, KeyOutlineComplete, KeyResearchComplete)
	n.logger.Info("Prepared technologies.", "count", len(techs), "technologies", strings.Join(techs, ", "))
	return flowkit.DefaultAction, nil
}

// CreateOutline asks the LLM for a YAML outline. Unparsable or
// structurally invalid responses are retried.
type CreateOutline struct {
	*flowkit.BaseNode
	llm       llm.Client
	maxTokens int
	logger    *slog.Logger
}

// Prep reads the technologies.
func (n *CreateOutline) Prep(ctx context.Context, shared *flowkit.SharedStore) (any, error) {
	return flowkit.Lookup[[]string](shared, KeyTechnologies)
}

// Exec asks the LLM for an outline and parses it.
func (n *CreateOutline) Exec(ctx context.Context, prepResult any) (any, error) {
	response, err := n.llm.Complete(ctx, OutlinePrompt(prepResult.([]string)), n.maxTokens)
	if err != nil {
		return nil, err
	}
	outline, err := ParseOutline(response)
	if err != nil {
		n.logger.Warn("Outline response rejected.", "attempt", flowkit.AttemptFromContext(ctx), "error", err)
		return nil, err
	}
	return outline, nil
}

// Post stores the outline and marks the outline branch done.
func (n *CreateOutline) Post(ctx context.Context, shared *flowkit.SharedStore, prepResult, execResult any) (flowkit.Action, error) {
	outline := execResult.(*Outline)
	shared.Set(KeyOutline, outline)
	flowkit.MarkDone(shared, KeyOutlineComplete)
	n.logger.Info("Outline generated.", "title", outline.Title, "sections", len(outline.Sections))
	return flowkit.DefaultAction, nil
}

// ResearchTechnologies researches every technology as one batch item.
// Items run in parallel, optionally capped.
type ResearchTechnologies struct {
	*flowkit.BaseNode
	searcher       search.Searcher
	maxResults     int
	delay          time.Duration
	maxConcurrency int
	logger         *slog.Logger
}

// PrepBatch yields one item per technology.
func (n *ResearchTechnologies) PrepBatch(ctx context.Context, shared *flowkit.SharedStore) ([]any, error) {
	techs, err := flowkit.Lookup[[]string](shared, KeyTechnologies)
	if err != nil {
		return nil, err
	}
	return flowkit.ToSlice(techs), nil
}

// ExecItem runs the research queries for one technology.
func (n *ResearchTechnologies) ExecItem(ctx context.Context, item any) (any, error) {
	tech := item.(string)
	n.logger.Debug("Researching technology.", "technology", tech, "attempt", flowkit.AttemptFromContext(ctx))
	return search.ResearchTechnology(ctx, n.searcher, tech, n.maxResults, n.delay)
}

// PostBatch stores research by technology and marks the research branch
// done.
func (n *ResearchTechnologies) PostBatch(ctx context.Context, shared *flowkit.SharedStore, items, results []any) (flowkit.Action, error) {
	research := make(map[string]string, len(items))
	for i, item := range items {
		research[item.(string)] = results[i].(string)
	}
	shared.Set(KeyResearchResults, research)
	flowkit.MarkDone(shared, KeyResearchComplete)
	n.logger.Info("Research completed.", "technologies", len(research))
	return flowkit.DefaultAction, nil
}

// BatchMode implements flowkit.BatchConfigurable.
func (n *ResearchTechnologies) BatchMode() flowkit.Mode { return flowkit.ModeParallel }

// MaxConcurrency caps parallel research; zero is unbounded.
func (n *ResearchTechnologies) MaxConcurrency() int { return n.maxConcurrency }

// writeInput is everything the writer needs.
type writeInput struct {
	Technologies []string
	Outline      *Outline
	Research     map[string]string
}

func loadWriteInput(shared *flowkit.SharedStore) (writeInput, error) {
	var in writeInput
	var err error
	if in.Technologies, err = flowkit.Lookup[[]string](shared, KeyTechnologies); err != nil {
		return in, err
	}
	if in.Outline, err = flowkit.Lookup[*Outline](shared, KeyOutline); err != nil {
		return in, err
	}
	if in.Research, err = flowkit.Lookup[map[string]string](shared, KeyResearchResults); err != nil {
		return in, err
	}
	return in, nil
}

// MergeResults joins the outline and research branches. It refuses to run
// unless both completion markers are set. It is a typed node; place it in a
// flow through flowkit.NewNodeAdapter.
type MergeResults struct {
	*flowkit.BaseNodeG[writeInput, writeInput]
	logger *slog.Logger
}

// PrepG checks both markers, then loads the writer input.
func (n *MergeResults) PrepG(ctx context.Context, shared *flowkit.SharedStore) (writeInput, error) {
	if err := flowkit.RequireMarkers(shared, KeyOutlineComplete, KeyResearchComplete); err != nil {
		return writeInput{}, err
	}
	return loadWriteInput(shared)
}

// ExecG validates the outline and research; failures are fatal.
func (n *MergeResults) ExecG(ctx context.Context, in writeInput) (writeInput, error) {
	if err := ValidateOutline(in.Outline); err != nil {
		return in, flowkit.Fatal(err)
	}
	if err := ValidateResearch(in.Research, in.Technologies); err != nil {
		return in, flowkit.Fatal(err)
	}
	return in, nil
}

// PostG logs the merge.
func (n *MergeResults) PostG(ctx context.Context, shared *flowkit.SharedStore, _, in writeInput) (flowkit.Action, error) {
	n.logger.Info("Outline and research merged.", "sections", len(in.Outline.Sections), "technologies", len(in.Research))
	return flowkit.DefaultAction, nil
}

// WriteDocument asks the LLM for the final markdown. Responses that are too
// short or lack headings are retried.
type WriteDocument struct {
	*flowkit.BaseNode
	llm       llm.Client
	maxTokens int
	minLength int
	logger    *slog.Logger
}

// Prep loads the writer input.
func (n *WriteDocument) Prep(ctx context.Context, shared *flowkit.SharedStore) (any, error) {
	return loadWriteInput(shared)
}

// Exec asks the LLM for the document and validates it.
func (n *WriteDocument) Exec(ctx context.Context, prepResult any) (any, error) {
	prompt, err := buildWritePrompt(prepResult.(writeInput))
	if err != nil {
		return nil, flowkit.Fatal(err)
	}
	response, err := n.llm.Complete(ctx, prompt, n.maxTokens)
	if err != nil {
		return nil, err
	}
	return ValidateDocument(response, n.minLength)
}

// Post stores the final document.
func (n *WriteDocument) Post(ctx context.Context, shared *flowkit.SharedStore, prepResult, execResult any) (flowkit.Action, error) {
	document := execResult.(string)
	shared.Set(KeyFinalDocument, document)
	n.logger.Info("Document generated.", "length", len(document))
	return flowkit.DefaultAction, nil
}

// buildWritePrompt builds the writer prompt. Research appears in the order of
// the technology list.
func buildWritePrompt(in writeInput) (string, error) {
	outline, err := in.Outline.YAML()
	if err != nil {
		return "", err
	}
	var research strings.Builder
	for _, tech := range in.Technologies {
		fmt.Fprintf(&research, "\n=== %s Research ===\n%s\n", tech, in.Research[tech])
	}
	return fmt.Sprintf(writePrompt, outline, research.String()), nil
}

const writePrompt = `
Write a comprehensive technology document based on the following outline and research data.

OUTLINE:
%s

RESEARCH DATA:
%s

INSTRUCTIONS:
1. Follow the outline structure exactly
2. Use the research data to provide accurate, up-to-date information
3. Write in a professional, informative tone
4. Include specific version numbers and recent updates where available
5. Make each section substantial and informative (at least 2-3 paragraphs per subsection)
6. Use markdown formatting for headings, lists, and emphasis
7. Ensure the document flows well and is cohesive

Start with the title as an H1 heading and structure the content according to the outline.
`
