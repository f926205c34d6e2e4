// Package pipeline binds roles, tasks and tools into the crews behind each
// user action and runs them.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hupe1980/pmcrew/agent"
	"github.com/hupe1980/pmcrew/logging"
	"github.com/hupe1980/pmcrew/metrics"
	"github.com/hupe1980/pmcrew/roles"
	"github.com/hupe1980/pmcrew/tasks"
	"github.com/hupe1980/pmcrew/tool"
)

// Pipeline kinds, used in logs and metrics.
const (
	KindIntake         = "intake"
	KindWorkbookUpdate = "workbook_update"
	KindAnswerQuestion = "answer_question"
)

// Options configures a Pipeline.
type Options struct {
	Logger  logging.Logger
	Metrics *metrics.Metrics

	// Standards is a project management reference text. When set, the
	// project manager and the document analyst can search it.
	Standards string
}

// Pipeline runs crews for one client. Every run builds fresh agents and
// tasks; only the client's document reference outlives a run.
type Pipeline struct {
	catalog   *roles.Catalog
	writer    BlockWriter
	clientID  string
	logger    logging.Logger
	metrics   *metrics.Metrics
	standards string
}

// New creates a Pipeline writing to clientID's document through w.
func New(catalog *roles.Catalog, w BlockWriter, clientID string, optFns ...func(o *Options)) (*Pipeline, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if catalog == nil {
		return nil, errors.New("pipeline: role catalog is required")
	}
	if w == nil {
		return nil, errors.New("pipeline: block writer is required")
	}
	if clientID == "" {
		return nil, errors.New("pipeline: client id is required")
	}

	return &Pipeline{
		catalog:   catalog,
		writer:    w,
		clientID:  clientID,
		logger:    logging.With(opts.Logger, "component", "pipeline", "client_id", clientID),
		metrics:   opts.Metrics,
		standards: opts.Standards,
	}, nil
}

// ClientID returns the client the pipeline writes for.
func (p *Pipeline) ClientID() string { return p.clientID }

// RunIntake turns an onboarding form response into first-meeting interview
// questions and saves them to the client's workbook.
func (p *Pipeline) RunIntake(ctx context.Context, onboarding string) (string, error) {
	return p.run(ctx, KindIntake, func() ([]*agent.Task, error) {
		create, err := tasks.NewCreateInterviewQuestions(onboarding)
		if err != nil {
			return nil, err
		}
		save, err := tasks.NewSaveInterviewQuestions(tasks.TitleFirstQuestions)
		if err != nil {
			return nil, err
		}

		create.Agent = p.catalog.MustAgent(roles.Interviewer)
		save.Agent = p.catalog.MustAgent(roles.Writer)
		save.Tools = append(save.Tools, NewSaveInterviewQuestionsTool(p.writer, p.clientID))

		return []*agent.Task{create, save}, nil
	})
}

// RunWorkbookUpdate extracts workbook elements from interview transcripts,
// writes them, then drafts and saves follow-up questions.
func (p *Pipeline) RunWorkbookUpdate(ctx context.Context, transcript string) (string, error) {
	return p.run(ctx, KindWorkbookUpdate, func() ([]*agent.Task, error) {
		extract, err := tasks.NewExtractWorkbookElements(transcript)
		if err != nil {
			return nil, err
		}
		update, err := tasks.NewUpdateProjectWorkbook()
		if err != nil {
			return nil, err
		}
		followUp, err := tasks.NewCreateFollowUpQuestions()
		if err != nil {
			return nil, err
		}
		save, err := tasks.NewSaveInterviewQuestions(tasks.TitleFollowUpQuestions)
		if err != nil {
			return nil, err
		}

		writer := p.catalog.MustAgent(roles.Writer)

		extract.Agent = p.catalog.MustAgent(roles.ProjectManager, p.standardsTools()...)
		update.Agent = writer
		update.Tools = append(update.Tools, NewCreateProjectWorkbookTool(p.writer, p.clientID))
		followUp.Agent = p.catalog.MustAgent(roles.Interviewer)
		followUp.Context = []*agent.Task{extract}
		save.Agent = writer
		save.Tools = append(save.Tools, NewSaveInterviewQuestionsTool(p.writer, p.clientID))

		return []*agent.Task{extract, update, followUp, save}, nil
	})
}

// AnswerQuestion answers a question about a transcript using a search tool
// over its lines, plus the standards search when configured.
func (p *Pipeline) AnswerQuestion(ctx context.Context, transcript, question string) (string, error) {
	return p.run(ctx, KindAnswerQuestion, func() ([]*agent.Task, error) {
		if transcript == "" {
			return nil, errors.New("transcript is empty")
		}

		answer, err := tasks.NewAnswerQuestion(question)
		if err != nil {
			return nil, err
		}
		answer.Agent = p.catalog.MustAgent(roles.DocumentAnalyst,
			append(p.standardsTools(), NewSearchTranscriptTool(transcript))...)

		return []*agent.Task{answer}, nil
	})
}

// standardsTools returns the standards search when a reference is configured.
func (p *Pipeline) standardsTools() []tool.Tool {
	if strings.TrimSpace(p.standards) == "" {
		return nil
	}
	return []tool.Tool{NewSearchStandardsTool(p.standards)}
}

func (p *Pipeline) run(ctx context.Context, kind string, build func() ([]*agent.Task, error)) (result string, err error) {
	start := time.Now()
	defer func() {
		p.metrics.ObservePipeline(kind, time.Since(start).Seconds(), err)
	}()

	steps, err := build()
	if err != nil {
		return "", err
	}

	p.logger.Info("pipeline.run.start", "pipeline", kind, "tasks", len(steps))

	out, err := agent.NewCrew(steps, func(o *agent.CrewOptions) {
		o.Logger = logging.With(p.logger, "pipeline", kind)
	}).Kickoff(ctx)
	if err != nil {
		p.logger.Error("pipeline.run.error", "pipeline", kind, "error", err.Error())
		return "", err
	}

	p.logger.Info("pipeline.run.complete",
		"pipeline", kind,
		"run_id", out.RunID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return out.Raw, nil
}
