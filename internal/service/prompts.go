package service

import (
	"fmt"
	"strings"
)

// Prompts are deliberately minimal; the contract is carried by the JSON
// schemas the parser enforces, not by prompt prose.

const planningSystem = `You are the planning phase of a code-change pipeline working on a TypeScript/JavaScript repository.
Respond with JSON only:
{"plan": "...", "filesToRead": [], "filesToModify": [], "filesToCreate": [], "approach": "...", "estimatedRisk": 1-5, "dependencies": []}`

const implementationSystem = `You are the implementation phase of a code-change pipeline.
Respond with a JSON array of file changes only:
[{"path": "src/x.ts", "action": "create", "content": "..."},
 {"path": "src/y.ts", "action": "modify", "edits": [{"search": "...", "replace": "..."}]}]
Search strings must match the file content exactly, including indentation.
Return [] if no changes are needed.`

// implementationPrompt assembles the first implementation request.
func implementationPrompt(run *forgeRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", run.d.Task)
	if run.d.ExpectedOutput != "" {
		fmt.Fprintf(&b, "Expected output: %s\n", run.d.ExpectedOutput)
	}
	if run.plan != nil {
		fmt.Fprintf(&b, "\nPlan: %s\nApproach: %s\n", run.plan.Plan, run.plan.Approach)
	}
	if run.contextBlock != "" {
		fmt.Fprintf(&b, "\nRelevant files:\n%s", run.contextBlock)
	}
	return b.String()
}

// correctionPrompt seeds a correction round with the validation errors and
// the current state of every touched file.
func correctionPrompt(run *forgeRun, fileState string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", run.d.Task)
	fmt.Fprintf(&b, "Your previous changes failed validation:\n%s\n", run.lastErrors)
	if fileState != "" {
		fmt.Fprintf(&b, "\nCurrent state of the files you changed:\n%s", fileState)
	}
	b.WriteString("\nFix the problems. Edits apply to the current state shown above.")
	return b.String()
}
