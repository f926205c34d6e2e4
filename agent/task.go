package agent

import (
	"fmt"
	"strings"

	"github.com/hupe1980/pmcrew/tool"
)

// Task is a rendered natural-language instruction bound to one agent for one
// crew step.
type Task struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          *Agent
	Tools          []tool.Tool // replaces the agent's tools when non-empty

	// Context lists earlier tasks whose outputs form this task's context.
	// When empty the immediately preceding output is used.
	Context []*Task
}

// Prompt renders the user message for the task, appending taskContext (the
// previous step's output) when present.
func (t *Task) Prompt(taskContext string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.Description))
	if t.ExpectedOutput != "" {
		fmt.Fprintf(&b, "\n\nThis is the expected criteria for your final answer: %s", t.ExpectedOutput)
	}
	if ctx := strings.TrimSpace(taskContext); ctx != "" {
		fmt.Fprintf(&b, "\n\nThis is the context you're working with:\n%s", ctx)
	}
	return b.String()
}
