package workflow

import (
	"fmt"

	"github.com/researchflow/orchestrator/graph/model"
	"github.com/researchflow/orchestrator/graph/model/anthropic"
	"github.com/researchflow/orchestrator/graph/model/google"
	"github.com/researchflow/orchestrator/graph/model/openai"
)

// agentNames lists every agent a node handler in this package resolves
// by name (SPEC_FULL.md §4.2's node list); a production AgentRegistry
// must register all of them.
var agentNames = []string{
	"context_analyzer",
	"objective_decomposer",
	"task_analyzer",
	"research",
	"processing",
	"quality_evaluator",
	"synthesis",
	"error_handler",
}

// NewChatModel constructs the ChatModel named by provider, grounded on
// examples/multi-llm-review/main.go's createProviders switch.
func NewChatModel(provider, apiKey, modelName string) (model.ChatModel, error) {
	switch provider {
	case "anthropic":
		return anthropic.NewChatModel(apiKey, modelName), nil
	case "openai":
		return openai.NewChatModel(apiKey, modelName), nil
	case "google":
		return google.NewChatModel(apiKey, modelName), nil
	default:
		return nil, fmt.Errorf("workflow: unknown llm provider %q", provider)
	}
}

// NewDefaultAgentRegistry builds an AgentRegistry where every node's agent
// name shares one ChatModel — the common case where a single provider
// backs the whole pipeline. Callers that want per-agent models (e.g. a
// cheaper model for quality_evaluator) should build the map by hand with
// NewAgentRegistry instead.
func NewDefaultAgentRegistry(m model.ChatModel) *AgentRegistry {
	agents := make(map[string]Agent, len(agentNames))
	for _, name := range agentNames {
		agents[name] = NewModelAgent(name, m)
	}
	return NewAgentRegistry(agents)
}
