package service

import (
	"context"
	"strings"
	"testing"

	"github.com/forgeline/forgeline/internal/domain/delegation"
	"github.com/forgeline/forgeline/internal/domain/outcome"
)

func TestRegistryLookup(t *testing.T) {
	client := &scriptedLLM{}
	reg := NewRegistry(
		NewResearchExecutor(client, 4096),
		NewContentExecutor(client, 4096),
	)

	if _, err := reg.Lookup(delegation.AgentResearch); err != nil {
		t.Fatalf("research lookup: %v", err)
	}
	if _, err := reg.Lookup(delegation.Agent("unknown")); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestPromptExecutor_Execute(t *testing.T) {
	client := &scriptedLLM{}
	client.respond("findings report", 1234)

	exec := NewResearchExecutor(client, 4096)
	d := delegation.Delegation{
		Agent:          delegation.AgentResearch,
		Task:           "compare caching strategies",
		ExpectedOutput: "a ranked list",
	}

	out, err := exec.Execute(context.Background(), d, "trace-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Status != outcome.StatusSuccess {
		t.Errorf("status = %s, want success", out.Status)
	}
	if out.Output != "findings report" {
		t.Errorf("output = %q", out.Output)
	}
	if out.TokensUsed != 1234 {
		t.Errorf("tokens = %d, want 1234", out.TokensUsed)
	}

	req := client.requests[0]
	if !strings.Contains(req.UserMessage, "compare caching strategies") {
		t.Errorf("prompt missing task: %q", req.UserMessage)
	}
	if !strings.Contains(req.UserMessage, "Expected output: a ranked list") {
		t.Errorf("prompt missing expected output: %q", req.UserMessage)
	}
}

func TestPromptExecutor_PropagatesError(t *testing.T) {
	client := &scriptedLLM{}

	exec := NewContentExecutor(client, 4096)
	_, err := exec.Execute(context.Background(), delegation.Delegation{Agent: delegation.AgentContent, Task: "write a post"}, "trace-1")
	if err == nil {
		t.Fatal("expected error when the client fails")
	}
}
