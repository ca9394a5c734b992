package service

import (
	"context"
	"fmt"

	"github.com/forgeline/forgeline/internal/domain/delegation"
	"github.com/forgeline/forgeline/internal/domain/outcome"
	"github.com/forgeline/forgeline/internal/port/llm"
)

// ExecutionOutput is what an executor hands back to the cycle runner.
type ExecutionOutput struct {
	Status        outcome.Status
	Output        string
	TokensUsed    int
	ArtifactBytes int64
}

// AgentExecutor runs one admitted delegation for a specific agent.
type AgentExecutor interface {
	Agent() delegation.Agent
	Execute(ctx context.Context, d delegation.Delegation, traceID string) (*ExecutionOutput, error)
}

// Registry maps agents to their executors. The agent set is closed; an
// unknown agent is a planner bug surfaced at dispatch time.
type Registry struct {
	executors map[delegation.Agent]AgentExecutor
}

// NewRegistry builds a Registry from the given executors.
func NewRegistry(executors ...AgentExecutor) *Registry {
	m := make(map[delegation.Agent]AgentExecutor, len(executors))
	for _, e := range executors {
		m[e.Agent()] = e
	}
	return &Registry{executors: m}
}

// Lookup returns the executor for an agent.
func (r *Registry) Lookup(agent delegation.Agent) (AgentExecutor, error) {
	e, ok := r.executors[agent]
	if !ok {
		return nil, fmt.Errorf("no executor registered for agent %q", agent)
	}
	return e, nil
}

// promptExecutor answers a delegation with a single LLM completion. The
// research and content agents are both prompt executors with different
// system prompts.
type promptExecutor struct {
	agent           delegation.Agent
	system          string
	client          llm.Client
	maxOutputTokens int
}

// NewResearchExecutor creates the research agent executor.
func NewResearchExecutor(client llm.Client, maxOutputTokens int) AgentExecutor {
	return &promptExecutor{
		agent: delegation.AgentResearch,
		system: "You are a research agent. Investigate the task thoroughly and " +
			"produce a structured findings report with sources and concrete recommendations.",
		client:          client,
		maxOutputTokens: maxOutputTokens,
	}
}

// NewContentExecutor creates the content agent executor.
func NewContentExecutor(client llm.Client, maxOutputTokens int) AgentExecutor {
	return &promptExecutor{
		agent: delegation.AgentContent,
		system: "You are a content agent. Produce the requested content exactly as " +
			"specified, matching the expected output format.",
		client:          client,
		maxOutputTokens: maxOutputTokens,
	}
}

func (e *promptExecutor) Agent() delegation.Agent { return e.agent }

func (e *promptExecutor) Execute(ctx context.Context, d delegation.Delegation, _ string) (*ExecutionOutput, error) {
	prompt := d.Task
	if d.ExpectedOutput != "" {
		prompt += "\n\nExpected output: " + d.ExpectedOutput
	}

	resp, err := e.client.Complete(ctx, llm.Request{
		System:          e.system,
		UserMessage:     prompt,
		MaxOutputTokens: e.maxOutputTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", e.agent, err)
	}

	return &ExecutionOutput{
		Status:        outcome.StatusSuccess,
		Output:        resp.Text,
		TokensUsed:    resp.Usage.TotalTokens,
		ArtifactBytes: int64(len(resp.Text)),
	}, nil
}
