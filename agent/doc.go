// Package agent is the small crew runtime the pipelines delegate to.
//
//  1. Agent: a language-model persona (role, goal, backstory) plus tools
//  2. Task: one rendered instruction bound to one agent
//  3. Crew: an ordered list of tasks executed sequentially
//
// Execution Model:
//   - Agent.Execute runs a model ↔ tool loop until the model answers in text,
//     a return-direct tool produces the answer, or the iteration limit is hit
//   - Crew.Kickoff feeds each task's output to the next task as context and
//     returns the last output
//   - Errors stop the crew immediately and are returned unchanged (wrapped)
package agent
