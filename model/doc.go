// Package model defines the provider‑agnostic abstractions used by the crew
// runtime to talk to language models.
//
// Core goals:
//   - Normalize tool / function call representation (ToolDefinition, FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (model/openai, model/anthropic) implement the Model interface so
// agents remain decoupled from vendor SDKs.
package model
