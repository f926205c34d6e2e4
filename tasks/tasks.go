// Package tasks renders the natural-language task prompts handed to agents.
package tasks

import (
	"fmt"
	"strings"

	"github.com/hupe1980/pmcrew/agent"
	"github.com/hupe1980/pmcrew/internal/util"
)

// Task names.
const (
	CreateInterviewQuestions  = "create_interview_questions"
	SaveInterviewQuestions    = "save_interview_questions"
	ExtractWorkbookElements   = "create_project_workbook_elements"
	UpdateProjectWorkbook     = "update_project_workbook_elements"
	CreateFollowUpQuestions   = "create_follow_up_interview_questions"
	AnswerQuestionFromContext = "answer_question_from_transcript"
)

// Titles used when saving question sets.
const (
	TitleFirstQuestions    = "First Interviewing Questions"
	TitleFollowUpQuestions = "Recommended Follow-Up Questions"
)

// Tip is appended to every task.
const Tip = "If you do your BEST WORK, you'll get a $10,000 bonus!"

// WorkbookElements are the sections every project workbook covers.
var WorkbookElements = []string{
	"Project Description",
	"Key Deliverables",
	"High-Level Risks",
	"High-Level Milestones",
	"Budget Summary",
	"Stakeholders",
}

type template struct {
	text           string
	expectedOutput string
}

var templates = map[string]template{
	CreateInterviewQuestions: {
		text: `**Task**: To create a short list of interviewing questions to ask a client during the first meeting
**Description**: Create a list of open-ended interviewing questions that HFG (your company) can ask a client to capture specific details about a project and have enough information to be able to fill a project workbook. You should ask as little questions as possible and the questions don't have to be direct but they should try to capture as much elements of the workbook as possible.

The client has already filled an initial onboarding form.

**Elements of Project Workbook**: {{ join ", " .elements }}.

**Onboarding Form response**:
{{ .onboarding }}

**Note**: {{ .tip }}`,
		expectedOutput: "A list of questions to ask during an interview",
	},
	SaveInterviewQuestions: {
		text: `**Task**: To save a list of interviewing questions for a client
**Description**: Save the list of interviewing questions from the context for the client using the save_interview_questions tool. Use "{{ .title }}" as the title and pass every question as a separate item, without numbering.

**Note**: {{ .tip }}`,
		expectedOutput: "Interviewing questions saved successfully!",
	},
	ExtractWorkbookElements: {
		text: `**Task**: To extract the elements of a project workbook from interview call transcripts
**Description**: Read the transcripts of the interview calls with the client and extract the details for each element of the project workbook, in accordance with the PMBOK Standard. Only use information stated in the transcripts. When an element is not covered, say so explicitly.

**Elements of Project Workbook**: {{ join ", " .elements }}.

**Interview Calls Transcript**:
{{ .transcript }}

**Note**: {{ .tip }}`,
		expectedOutput: "The details of each element of the project workbook",
	},
	UpdateProjectWorkbook: {
		text: `**Task**: To write the project workbook for a client
**Description**: Write the project workbook elements from the context to the client's workbook using the create_project_workbook tool. The keys of workbook_contents are the element names in snake_case and the values are a string or a list of strings with the element details.

**Elements of Project Workbook**: {{ join ", " .elements }}.

**Note**: {{ .tip }}`,
		expectedOutput: "Workbook created successfully!",
	},
	CreateFollowUpQuestions: {
		text: `**Task**: To create follow-up interviewing questions for a client
**Description**: Review the project workbook elements in the context and create a short list of open-ended follow-up questions that HFG (your company) can ask the client to fill the gaps and clarify vague details.

**Elements of Project Workbook**: {{ join ", " .elements }}.

**Note**: {{ .tip }}`,
		expectedOutput: "A list of follow-up questions to ask during the next interview",
	},
	AnswerQuestionFromContext: {
		text: `**Task**: To answer questions about a project based on a call transcript with a client
**Description**: Answer the question using only the call transcript. Use the search_transcript tool to find the relevant passages and quote them when useful. When the transcript does not contain the answer, say so.

**Note**: {{ .tip }}

**Question**: {{ .question }}`,
		expectedOutput: "A thorough answer to the question based on the call transcript",
	},
}

// Render builds the task name from params. Params referenced by the template
// must be present. The tip and workbook elements are always provided.
func Render(name string, params map[string]any) (*agent.Task, error) {
	tmpl, ok := templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown task template %q", name)
	}

	data := map[string]any{
		"tip":      Tip,
		"elements": WorkbookElements,
	}
	for k, v := range params {
		data[k] = v
	}

	description, err := util.RenderTemplate(name, tmpl.text, data)
	if err != nil {
		return nil, err
	}

	return &agent.Task{
		Name:           name,
		Description:    description,
		ExpectedOutput: tmpl.expectedOutput,
	}, nil
}

// NewCreateInterviewQuestions asks for first-meeting questions from an
// onboarding form response.
func NewCreateInterviewQuestions(onboarding string) (*agent.Task, error) {
	if strings.TrimSpace(onboarding) == "" {
		return nil, fmt.Errorf("%s: onboarding text is empty", CreateInterviewQuestions)
	}
	return Render(CreateInterviewQuestions, map[string]any{"onboarding": onboarding})
}

// NewSaveInterviewQuestions asks to persist the previous questions under title.
func NewSaveInterviewQuestions(title string) (*agent.Task, error) {
	return Render(SaveInterviewQuestions, map[string]any{"title": title})
}

// NewExtractWorkbookElements asks for workbook elements found in transcript.
func NewExtractWorkbookElements(transcript string) (*agent.Task, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("%s: transcript is empty", ExtractWorkbookElements)
	}
	return Render(ExtractWorkbookElements, map[string]any{"transcript": transcript})
}

func NewUpdateProjectWorkbook() (*agent.Task, error) {
	return Render(UpdateProjectWorkbook, nil)
}

func NewCreateFollowUpQuestions() (*agent.Task, error) {
	return Render(CreateFollowUpQuestions, nil)
}

// NewAnswerQuestion asks a question about a transcript reachable via tools.
func NewAnswerQuestion(question string) (*agent.Task, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%s: question is empty", AnswerQuestionFromContext)
	}
	return Render(AnswerQuestionFromContext, map[string]any{"question": question})
}
