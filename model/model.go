package model

import (
	"context"
	"fmt"
	"sync"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input produced by agents.
type Request struct {
	Instructions string           `json:"instructions"` // system prompt
	Contents     []Content        `json:"contents"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the final completion returned by a model.
type Response struct {
	ID           string      `json:"id"`
	Content      Content     `json:"content"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a scripted in‑memory Model for tests. Queued responses are
// returned in order; once the queue is empty it echoes the last user text.
type MockModel struct {
	mu       sync.Mutex
	info     Info
	script   []Response
	err      error
	requests []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name string) *MockModel {
	return &MockModel{info: Info{Name: name, Provider: "mock", SupportsTools: true}}
}

// AddText queues a plain text completion.
func (m *MockModel) AddText(text string) *MockModel {
	return m.Add(Response{Content: NewTextContent(RoleAssistant, text), FinishReason: "stop"})
}

// AddCall queues a completion requesting a single tool call.
func (m *MockModel) AddCall(id, name, arguments string) *MockModel {
	return m.Add(Response{
		Content: Content{Role: RoleAssistant, Parts: []Part{
			FunctionCallPart{FunctionCall: FunctionCall{ID: id, Name: name, Arguments: arguments}},
		}},
		FinishReason: "tool_calls",
	})
}

// Add queues an arbitrary response.
func (m *MockModel) Add(r Response) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, r)
	return m
}

// FailWith makes every subsequent Generate call return err.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Requests returns a copy of all requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.err != nil {
		return Response{}, m.err
	}
	if len(m.script) > 0 {
		r := m.script[0]
		m.script = m.script[1:]
		return r, nil
	}
	if len(req.Contents) == 0 {
		return Response{}, fmt.Errorf("no contents provided")
	}
	last := req.Contents[len(req.Contents)-1]
	return Response{
		Content:      NewTextContent(RoleAssistant, fmt.Sprintf("Mock response to: %s", last.Text())),
		FinishReason: "stop",
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
