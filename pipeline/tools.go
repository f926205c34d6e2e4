package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/pmcrew/notion"
	"github.com/hupe1980/pmcrew/tool"
)

// Tool names and results.
const (
	ToolSaveInterviewQuestions = "save_interview_questions"
	ToolCreateProjectWorkbook  = "create_project_workbook"
	ToolSearchTranscript       = "search_transcript"
	ToolSearchStandards        = "search_standards"

	QuestionsSaved  = "Interviewing questions saved successfully!"
	WorkbookCreated = "Workbook created successfully!"
)

// BlockWriter appends blocks to a client's document.
type BlockWriter interface {
	AppendBlocks(ctx context.Context, clientID string, blocks []notion.Block) (notion.SyncReport, error)
}

type saveQuestionsArgs struct {
	Title              string   `json:"title" description:"The title of the interview questions"`
	InterviewQuestions []string `json:"interview_questions" description:"A list of interview questions on the project"`
}

// NewSaveInterviewQuestionsTool writes a titled question list as one toggle
// block. Failures are reported in the result text.
func NewSaveInterviewQuestionsTool(w BlockWriter, clientID string) tool.Tool {
	return tool.NewTypedTool(
		ToolSaveInterviewQuestions,
		"Saves the interviewing questions for a client under a title.",
		func(tc *tool.Context, args saveQuestionsArgs) (string, error) {
			questions := make([]string, 0, len(args.InterviewQuestions))
			for _, q := range args.InterviewQuestions {
				if q = strings.TrimSpace(q); q != "" {
					questions = append(questions, q)
				}
			}

			block := notion.ToggleBlock(args.Title, questions)
			report, err := w.AppendBlocks(tc.Context(), clientID, []notion.Block{block})
			if err != nil {
				return fmt.Sprintf("An error occurred while saving interview questions: %v", err), nil
			}

			logReport(tc, report)
			return QuestionsSaved, nil
		},
		tool.WithReturnDirect(),
	)
}

var workbookSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"workbook_contents": map[string]any{
			"type":        "object",
			"description": "The contents of the project workbook. The keys represent the elements of the workbook, and the values are the details of the elements as a string or a list of strings",
			"additionalProperties": map[string]any{
				"anyOf": []any{
					map[string]any{"type": "string"},
					map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
	},
	"required": []string{"workbook_contents"},
}

// NewCreateProjectWorkbookTool writes workbook sections as headings with
// bulleted details, in the order the model listed them.
func NewCreateProjectWorkbookTool(w BlockWriter, clientID string) tool.Tool {
	return tool.NewFunctionTool(
		ToolCreateProjectWorkbook,
		"Creates the project workbook for a client. Keys are workbook sections, values are strings or lists of strings with section details.",
		workbookSchema,
		func(tc *tool.Context, args map[string]any) (any, error) {
			wb, err := decodeWorkbook(tc.RawArguments(), args)
			if err != nil {
				return fmt.Sprintf("An error occurred while saving the project workbook: %v", err), nil
			}

			report, err := w.AppendBlocks(tc.Context(), clientID, notion.WorkbookToBlocks(wb))
			if err != nil {
				return fmt.Sprintf("An error occurred while saving the project workbook: %v", err), nil
			}

			logReport(tc, report)
			return WorkbookCreated, nil
		},
		tool.WithReturnDirect(),
	)
}

func decodeWorkbook(raw string, args map[string]any) (notion.Workbook, error) {
	if raw != "" {
		var envelope struct {
			WorkbookContents json.RawMessage `json:"workbook_contents"`
		}
		if err := json.Unmarshal([]byte(raw), &envelope); err == nil && len(envelope.WorkbookContents) > 0 {
			var wb notion.Workbook
			if err := json.Unmarshal(envelope.WorkbookContents, &wb); err != nil {
				return nil, err
			}
			return wb, nil
		}
	}

	return notion.ParseWorkbook(args["workbook_contents"])
}

func logReport(tc *tool.Context, r notion.SyncReport) {
	if r.Dropped > 0 {
		tc.Logger().Warn("pipeline.sync.partial", "page_id", r.PageID, "batches", r.Batches, "dropped", r.Dropped)
		return
	}
	tc.Logger().Debug("pipeline.sync", "page_id", r.PageID, "batches", r.Batches, "replacements", r.Replacements)
}

type searchArgs struct {
	Query string `json:"query" description:"Words or phrase to look for"`
}

// maxSearchHits bounds the passages returned per query.
const maxSearchHits = 8

// NewSearchTranscriptTool returns numbered transcript lines matching any
// query term, each with one line of surrounding context.
func NewSearchTranscriptTool(transcript string) tool.Tool {
	return newSearchTool(
		ToolSearchTranscript,
		"Searches the client call transcript and returns the matching passages with line numbers.",
		"the transcript",
		transcript,
	)
}

// NewSearchStandardsTool searches a project management standards reference
// the same way NewSearchTranscriptTool searches a transcript.
func NewSearchStandardsTool(reference string) tool.Tool {
	return newSearchTool(
		ToolSearchStandards,
		"Searches the project management standards reference and returns the matching passages with line numbers.",
		"the standards reference",
		reference,
	)
}

func newSearchTool(name, description, source, text string) tool.Tool {
	lines := strings.Split(text, "\n")

	return tool.NewTypedTool(
		name,
		description,
		func(_ *tool.Context, args searchArgs) (string, error) {
			terms := strings.Fields(strings.ToLower(args.Query))
			if len(terms) == 0 {
				return "", fmt.Errorf("query must not be empty")
			}

			var (
				b    strings.Builder
				hits int
				last = -1
			)
			for i, line := range lines {
				if !matchesAny(strings.ToLower(line), terms) {
					continue
				}

				from, to := max(i-1, last+1), min(i+1, len(lines)-1)
				if from > last+1 && b.Len() > 0 {
					b.WriteString("...\n")
				}
				for j := from; j <= to; j++ {
					fmt.Fprintf(&b, "%d: %s\n", j+1, lines[j])
				}
				last = to

				if hits++; hits == maxSearchHits {
					break
				}
			}

			if hits == 0 {
				return fmt.Sprintf("No passages in %s mention %q.", source, args.Query), nil
			}
			return strings.TrimSuffix(b.String(), "\n"), nil
		},
	)
}

func matchesAny(line string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(line, t) {
			return true
		}
	}
	return false
}
