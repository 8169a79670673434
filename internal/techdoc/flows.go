package techdoc

import (
	"log/slog"

	"github.com/gbaeke/flowkit"
	"github.com/gbaeke/flowkit/internal/config"
	"github.com/gbaeke/flowkit/internal/llm"
	"github.com/gbaeke/flowkit/internal/search"
)

// Deps are the collaborators the nodes call.
type Deps struct {
	LLM      llm.Client
	Searcher search.Searcher
	Logger   *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func policy(cfg *config.Config, node string) []flowkit.NodeOption {
	p := cfg.Policy(node)
	return []flowkit.NodeOption{
		flowkit.WithName(node),
		flowkit.WithMaxRetries(p.MaxRetries),
		flowkit.WithWait(p.Wait),
	}
}

type nodes struct {
	prepare  *PrepareData
	outline  *CreateOutline
	research *ResearchTechnologies
	merge    *flowkit.NodeAdapter[writeInput, writeInput]
	write    *WriteDocument
}

func newNodes(d Deps, cfg *config.Config) nodes {
	logger := d.logger()
	return nodes{
		prepare: &PrepareData{
			BaseNode: flowkit.NewBaseNode(policy(cfg, config.NodePrepare)...),
			limit:    cfg.Run.MaxTechnologies,
			logger:   logger,
		},
		outline: &CreateOutline{
			BaseNode:  flowkit.NewBaseNode(policy(cfg, config.NodeOutline)...),
			llm:       d.LLM,
			maxTokens: cfg.LLM.MaxTokens,
			logger:    logger,
		},
		research: &ResearchTechnologies{
			BaseNode:       flowkit.NewBaseNode(policy(cfg, config.NodeResearch)...),
			searcher:       d.Searcher,
			maxResults:     cfg.Search.MaxResults,
			delay:          cfg.Search.Delay,
			maxConcurrency: cfg.Run.ResearchConcurrency,
			logger:         logger,
		},
		merge: flowkit.NewNodeAdapter[writeInput, writeInput](&MergeResults{
			BaseNodeG: flowkit.NewBaseNodeG[writeInput, writeInput](policy(cfg, config.NodeMerge)...),
			logger:    logger,
		}),
		write: &WriteDocument{
			BaseNode:  flowkit.NewBaseNode(policy(cfg, config.NodeWrite)...),
			llm:       d.LLM,
			maxTokens: cfg.LLM.DocumentMaxTokens,
			minLength: cfg.Run.MinDocumentLength,
			logger:    logger,
		},
	}
}

// NewParallelFlow builds prepare -> [outline || research] -> merge -> write.
// The outline and research sub-flows run as branches of a fork; merge only
// starts after both have finished.
func NewParallelFlow(d Deps, cfg *config.Config, opts ...flowkit.FlowOption) *flowkit.Flow {
	n := newNodes(d, cfg)

	outlineFlow := flowkit.NewFlow(n.outline, flowkit.WithFlowName("outline-flow"))
	researchFlow := flowkit.NewFlow(n.research, flowkit.WithFlowName("research-flow"))
	split := flowkit.NewFork("split", flowkit.FlowBranch(outlineFlow), flowkit.FlowBranch(researchFlow))

	flow := flowkit.NewFlow(n.prepare, append([]flowkit.FlowOption{flowkit.WithFlowName("techdoc-parallel")}, opts...)...)
	flow.Next(n.prepare, split)
	flow.Next(split, n.merge)
	flow.Next(n.merge, n.write)
	return flow
}

// NewSerialFlow builds prepare -> outline -> research -> write.
func NewSerialFlow(d Deps, cfg *config.Config, opts ...flowkit.FlowOption) *flowkit.Flow {
	n := newNodes(d, cfg)

	flow := flowkit.NewFlow(n.prepare, append([]flowkit.FlowOption{flowkit.WithFlowName("techdoc-serial")}, opts...)...)
	flow.Next(n.prepare, n.outline)
	flow.Next(n.outline, n.research)
	flow.Next(n.research, n.write)
	return flow
}
