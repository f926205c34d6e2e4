package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/pmcrew/logging"
)

// CrewOptions configures a Crew.
type CrewOptions struct {
	Logger logging.Logger
}

// TaskOutput is the result of one crew step.
type TaskOutput struct {
	Task  string
	Agent string
	Raw   string
}

// CrewOutput is the result of a kickoff. Raw is the final task's output.
type CrewOutput struct {
	RunID string
	Raw   string
	Tasks []TaskOutput
}

// Crew coordinates the execution of tasks in sequence.
//
// Each task's output becomes the context of the following task unless the
// task names its context explicitly. Execution stops at the first failing task.
type Crew struct {
	tasks  []*Task
	logger logging.Logger
}

// NewCrew creates a sequential crew over tasks.
func NewCrew(tasks []*Task, optFns ...func(o *CrewOptions)) *Crew {
	opts := CrewOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Crew{tasks: tasks, logger: opts.Logger}
}

// Tasks returns the crew's tasks in execution order.
func (c *Crew) Tasks() []*Task {
	out := make([]*Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Kickoff executes all tasks sequentially.
func (c *Crew) Kickoff(ctx context.Context) (*CrewOutput, error) {
	if len(c.tasks) == 0 {
		return nil, errors.New("crew has no tasks")
	}

	out := &CrewOutput{RunID: uuid.NewString()}
	logger := logging.With(c.logger, "run_id", out.RunID)
	start := time.Now()

	logger.Info("crew.kickoff", "tasks", len(c.tasks))

	outputs := make(map[*Task]string, len(c.tasks))

	var previous string
	for i, task := range c.tasks {
		if task.Agent == nil {
			return nil, fmt.Errorf("task %s has no agent", task.Name)
		}

		taskContext := previous
		if len(task.Context) > 0 {
			parts := make([]string, 0, len(task.Context))
			for _, dep := range task.Context {
				raw, ok := outputs[dep]
				if !ok {
					return nil, fmt.Errorf("task %s depends on %s which has not run", task.Name, dep.Name)
				}
				parts = append(parts, raw)
			}
			taskContext = strings.Join(parts, "\n\n")
		}

		logger.Info("crew.task.start", "step", i+1, "task", task.Name, "agent", task.Agent.Role())

		result, err := task.Agent.Execute(ctx, out.RunID, task, taskContext)
		if err != nil {
			logger.Error("crew.task.error", "task", task.Name, "error", err.Error())
			return nil, fmt.Errorf("crew execution failed at task %s (%s): %w", task.Name, task.Agent.Role(), err)
		}

		out.Tasks = append(out.Tasks, TaskOutput{Task: task.Name, Agent: task.Agent.Role(), Raw: result})
		outputs[task] = result
		previous = result
	}

	out.Raw = previous
	logger.Info("crew.complete", "duration_ms", time.Since(start).Milliseconds())

	return out, nil
}
