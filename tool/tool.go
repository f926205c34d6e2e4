// Package tool implements the function / tool calling subsystem that lets
// agents invoke structured capabilities (Notion writes, transcript search)
// with schema validated arguments and consistent error handling.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/pmcrew/internal/util"
	"github.com/hupe1980/pmcrew/logging"
)

// Tool defines the interface for extending agent capabilities with external functions.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description is provided to the LLM to help it decide when to call the tool.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Call executes the tool with arguments decoded from the model's JSON.
	Call(toolCtx *Context, args map[string]any) (any, error)
}

// Direct is implemented by tools whose result should end the current task,
// the result text becoming the task output verbatim.
type Direct interface {
	ReturnDirect() bool
}

// IsDirect reports whether t returns its result directly.
func IsDirect(t Tool) bool {
	d, ok := t.(Direct)
	return ok && d.ReturnDirect()
}

// Context is handed to a tool invocation.
type Context struct {
	ctx            context.Context
	logger         logging.Logger
	functionCallID string
	agentName      string
	runID          string
	rawArguments   string
}

// NewContext constructs a tool context.
func NewContext(ctx context.Context, logger logging.Logger, runID, agentName, functionCallID string) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{
		ctx:            ctx,
		logger:         logger,
		functionCallID: functionCallID,
		agentName:      agentName,
		runID:          runID,
	}
}

// Context returns the context associated with the tool invocation.
func (tc *Context) Context() context.Context { return tc.ctx }

// Logger returns the logger associated with the tool invocation.
func (tc *Context) Logger() logging.Logger { return tc.logger }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *Context) FunctionCallID() string { return tc.functionCallID }

// WithRawArguments returns a copy carrying the model's unparsed argument JSON.
func (tc *Context) WithRawArguments(raw string) *Context {
	cp := *tc
	cp.rawArguments = raw
	return &cp
}

// RawArguments returns the argument JSON as sent by the model. Decoding it
// preserves object key order, which args maps do not.
func (tc *Context) RawArguments() string { return tc.rawArguments }

// AgentName returns the name of the calling agent.
func (tc *Context) AgentName() string { return tc.agentName }

// RunID returns the crew run this invocation belongs to.
func (tc *Context) RunID() string { return tc.runID }

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
