package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/pmcrew/logging"
	"github.com/hupe1980/pmcrew/model"
	"github.com/hupe1980/pmcrew/tool"
)

// Options configures an Agent.
type Options struct {
	Goal          string
	Backstory     string
	Tools         []tool.Tool
	MaxIterations int
	Logger        logging.Logger
}

// Agent is a configured language-model persona with a role, goal, backstory
// and optional callable tools.
type Agent struct {
	role          string
	goal          string
	backstory     string
	llm           model.Model
	tools         []tool.Tool
	maxIterations int
	logger        logging.Logger
}

// New creates an agent for role backed by llm. Defaults: no tools, 15 model
// calls per task, no-op logger.
func New(role string, llm model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		MaxIterations: 15,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Agent{
		role:          role,
		goal:          opts.Goal,
		backstory:     opts.Backstory,
		llm:           llm,
		tools:         opts.Tools,
		maxIterations: opts.MaxIterations,
		logger:        opts.Logger,
	}
}

// Role returns the agent's role.
func (a *Agent) Role() string { return a.role }

// Goal returns the agent's goal.
func (a *Agent) Goal() string { return a.goal }

// Backstory returns the agent's backstory.
func (a *Agent) Backstory() string { return a.backstory }

// Tools returns the agent's own tools.
func (a *Agent) Tools() []tool.Tool {
	out := make([]tool.Tool, len(a.tools))
	copy(out, a.tools)
	return out
}

// Model returns the backing language model.
func (a *Agent) Model() model.Model { return a.llm }

// Instructions renders the system prompt describing the persona.
func (a *Agent) Instructions() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", a.role)
	if a.backstory != "" {
		fmt.Fprintf(&b, " %s", a.backstory)
	}
	if a.goal != "" {
		fmt.Fprintf(&b, "\nYour personal goal is: %s", a.goal)
	}
	return b.String()
}

// Execute runs task with this agent. taskContext is the previous task's output
// (may be empty). Task tools, when present, replace the agent's own tools.
func (a *Agent) Execute(ctx context.Context, runID string, task *Task, taskContext string) (string, error) {
	tools := a.tools
	if len(task.Tools) > 0 {
		tools = task.Tools
	}
	registry := make(map[string]tool.Tool, len(tools))
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		registry[t.Name()] = t
		defs = append(defs, model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}

	req := model.Request{
		Instructions: a.Instructions(),
		Contents:     []model.Content{model.NewTextContent(model.RoleUser, task.Prompt(taskContext))},
		Tools:        defs,
	}

	limiter := newIterationLimiter(a.maxIterations)
	for {
		if err := limiter.Increment(); err != nil {
			return "", err
		}

		start := time.Now()
		resp, err := a.llm.Generate(ctx, req)
		if err != nil {
			a.logger.Error("agent.model.error", "agent", a.role, "run_id", runID, "error", err.Error())
			return "", fmt.Errorf("model call failed: %w", err)
		}
		a.logger.Debug(
			"agent.model.response",
			"agent", a.role,
			"run_id", runID,
			"iteration", limiter.Count(),
			"finish_reason", resp.FinishReason,
			"duration_ms", time.Since(start).Milliseconds(),
		)

		req.Contents = append(req.Contents, resp.Content)

		calls := resp.Content.FunctionCalls()
		if len(calls) == 0 {
			return strings.TrimSpace(resp.Content.Text()), nil
		}

		toolContent := model.Content{Role: model.RoleTool}
		for _, fc := range calls {
			out, direct, err := a.executeTool(ctx, runID, registry, fc)
			fr := model.FunctionResponse{ID: fc.ID, Name: fc.Name, Response: out}
			if err != nil {
				fr.Error = err.Error()
			} else if direct {
				return out, nil
			}
			toolContent.Parts = append(toolContent.Parts, model.FunctionResponsePart{FunctionResponse: fr})
		}
		req.Contents = append(req.Contents, toolContent)
	}
}

// executeTool centralizes lookup, argument decoding and panic safety.
func (a *Agent) executeTool(
	ctx context.Context,
	runID string,
	registry map[string]tool.Tool,
	fc model.FunctionCall,
) (out string, direct bool, err error) {
	impl, ok := registry[fc.Name]
	if !ok {
		return "", false, fmt.Errorf("tool %s not found", fc.Name)
	}

	args := map[string]any{}
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			return "", false, fmt.Errorf("failed to unmarshal args: %w", err)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent.tool.panic", "agent", a.role, "tool", fc.Name, "recover", r)
			err = fmt.Errorf("tool %s panicked: %v", fc.Name, r)
		}
	}()

	start := time.Now()
	toolCtx := tool.NewContext(ctx, a.logger, runID, a.role, fc.ID).WithRawArguments(fc.Arguments)
	result, err := impl.Call(toolCtx, args)
	a.logger.Info(
		"agent.tool.executed",
		"agent", a.role,
		"tool", fc.Name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)
	if err != nil {
		return "", false, err
	}

	return stringify(result), tool.IsDirect(impl), nil
}

func stringify(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case fmt.Stringer:
		return r.String()
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Sprintf("%v", r)
		}
		return string(b)
	}
}
