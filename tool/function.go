package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/pmcrew/internal/util"
)

// Error codes attached to *ToolError by FunctionTool.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// FunctionTool is a generic adapter that exposes a plain Go function as a tool.
//
// Call validates arguments against the declared schema before execution and
// normalizes failures into *ToolError:
//
//	VALIDATION_ERROR  -> schema / argument mismatch
//	EXECUTION_ERROR   -> underlying function returned an error (non-ToolError)
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name         string
	description  string
	parameters   map[string]any
	returnDirect bool
	fn           func(toolCtx *Context, args map[string]any) (any, error)
}

// FunctionToolOptions configures a FunctionTool.
type FunctionToolOptions struct {
	// ReturnDirect ends the task with the tool's result as the task output.
	ReturnDirect bool
}

// NewFunctionTool constructs a FunctionTool from explicit schema and function.
//
// Example:
//
//	searchTool := NewFunctionTool(
//	  "search_transcript",
//	  "Return transcript lines containing a keyword",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "query": map[string]any{"type": "string"},
//	    },
//	    "required": []string{"query"},
//	  },
//	  func(tc *Context, args map[string]any) (any, error) {
//	    return search(args["query"].(string)), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	opts := FunctionToolOptions{}
	for _, f := range optFns {
		f(&opts)
	}
	return &FunctionTool{
		name:         name,
		description:  description,
		parameters:   parameters,
		returnDirect: opts.ReturnDirect,
		fn:           fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct using reflection.
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *Context, args map[string]any) (any, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn, optFns...)
}

// NewTypedTool derives the schema from T and decodes validated arguments into
// a T before invoking fn.
//
//	type SearchArgs struct {
//	  Query string `json:"query" description:"Keyword to look for"`
//	}
//
//	t := NewTypedTool("search_transcript", "Search", func(tc *Context, a SearchArgs) (string, error) {
//	  return search(a.Query), nil
//	})
func NewTypedTool[T any, R any](
	name, description string,
	fn func(toolCtx *Context, args T) (R, error),
	optFns ...func(o *FunctionToolOptions),
) *FunctionTool {
	var zero T
	return NewFunctionToolFromStruct(name, description, zero, func(tc *Context, raw map[string]any) (any, error) {
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		var args T
		if err := json.Unmarshal(b, &args); err != nil {
			return nil, &ToolError{Tool: name, Message: fmt.Sprintf("decode arguments: %v", err), Code: CodeValidation}
		}
		return fn(tc, args)
	}, optFns...)
}

// WithReturnDirect marks the tool result as the task's final output.
func WithReturnDirect() func(o *FunctionToolOptions) {
	return func(o *FunctionToolOptions) { o.ReturnDirect = true }
}

// Name returns the unique tool name.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the short natural language description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// ReturnDirect implements Direct.
func (t *FunctionTool) ReturnDirect() bool { return t.returnDirect }

// Call validates args then invokes the underlying function.
//
// Logging Fields:
//
//	tool: tool name
//	fc_id: function call identifier
//	duration_ms: execution time in milliseconds
func (t *FunctionTool) Call(toolCtx *Context, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	start := time.Now()

	logger.Debug("tool.call.start", "tool", t.name, "fc_id", toolCtx.FunctionCallID())

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			logger.Error("tool.call.error", "tool", t.name, "error", toolErr.Message)

			return nil, toolErr
		}

		logger.Error("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
		}
	}

	logger.Info("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}
