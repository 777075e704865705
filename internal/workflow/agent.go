package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/researchflow/orchestrator/graph"
	"github.com/researchflow/orchestrator/graph/model"
	"github.com/researchflow/orchestrator/internal/werrors"
)

// Agent is the single capability every node invokes an LLM through. This
// replaces the source's runtime hasattr-style dispatch between an `invoke`
// path and a direct-call path (SPEC_FULL.md §9): one method, uniformly
// called, no type sniffing.
type Agent interface {
	// Run sends a templated prompt to the underlying ChatModel and returns
	// its raw text output. Callers that need structured output parse the
	// result themselves (see runAgentJSON below) so Agent stays a thin,
	// provider-agnostic capability.
	Run(ctx context.Context, system string, messages []model.Message) (string, error)
}

// ModelAgent adapts a graph/model.ChatModel into an Agent.
type ModelAgent struct {
	Name  string
	Model model.ChatModel
}

// NewModelAgent constructs an Agent backed by the given chat model.
func NewModelAgent(name string, m model.ChatModel) *ModelAgent {
	return &ModelAgent{Name: name, Model: m}
}

func (a *ModelAgent) Run(ctx context.Context, system string, messages []model.Message) (string, error) {
	full := make([]model.Message, 0, len(messages)+1)
	if system != "" {
		full = append(full, model.Message{Role: model.RoleSystem, Content: system})
	}
	full = append(full, messages...)

	out, err := a.Model.Chat(ctx, full, nil)
	if err != nil {
		return "", werrors.New(werrors.KindAgent, a.Name, "chat model call failed", err)
	}
	return out.Text, nil
}

// AgentRegistry resolves agent names to Agent implementations, set up once
// at startup (SPEC_FULL.md §9 "RegisterAgent" middleware-composition idea,
// simplified here to direct construction since no middleware is required
// by the spec's node contracts).
type AgentRegistry struct {
	agents map[string]Agent
}

// NewAgentRegistry builds a registry from name -> Agent.
func NewAgentRegistry(agents map[string]Agent) *AgentRegistry {
	return &AgentRegistry{agents: agents}
}

// Get returns the agent registered under name, or an error if none was
// registered — fatal to the calling node's request (WorkflowStateError).
func (r *AgentRegistry) Get(name string) (Agent, error) {
	a, ok := r.agents[name]
	if !ok {
		return nil, werrors.New(werrors.KindWorkflowState, "", fmt.Sprintf("no agent registered: %s", name), nil)
	}
	return a, nil
}

// runAgentJSON invokes the named agent and unmarshals its text response
// into dst, wrapping any parse failure as a transient AgentError per
// SPEC_FULL.md §7 ("LLM call failed or returned unparseable output").
func runAgentJSON(ctx context.Context, agents *AgentRegistry, name, system string, messages []model.Message, dst interface{}) error {
	agent, err := agents.Get(name)
	if err != nil {
		return err
	}
	text, err := agent.Run(ctx, system, messages)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), dst); err != nil {
		return werrors.New(werrors.KindAgent, name, "agent response was not valid JSON", err)
	}
	return nil
}

// wrapAgentErr builds a NodeResult routing to error_handler from an error
// returned by runAgentJSON/Agent.Run, preserving its Kind when it is
// already a *werrors.WorkflowError.
func wrapAgentErr(delta ResearchState, nodeID string, err error) graph.NodeResult[ResearchState] {
	we, ok := werrors.AsWorkflowError(err)
	if !ok {
		we = werrors.New(werrors.KindAgent, nodeID, err.Error(), err)
	}
	return graph.NodeResult[ResearchState]{Delta: withError(delta, we), Route: graph.Goto("error_handler")}
}

// extractJSON trims common LLM wrapping (markdown fences) around a JSON
// payload. Mirrors the kind of defensive parsing the source agents perform
// around raw markdown/JSON completions.
func extractJSON(text string) string {
	start := -1
	depth := 0
	for i, r := range text {
		switch r {
		case '{', '[':
			if start == -1 {
				start = i
			}
			depth++
		case '}', ']':
			depth--
			if depth == 0 && start != -1 {
				return text[start : i+1]
			}
		}
	}
	return text
}
