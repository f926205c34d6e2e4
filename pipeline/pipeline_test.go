package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pmcrew/metrics"
	"github.com/hupe1980/pmcrew/model"
	"github.com/hupe1980/pmcrew/notion"
	"github.com/hupe1980/pmcrew/registry"
	"github.com/hupe1980/pmcrew/roles"
)

type recordingWriter struct {
	mu     sync.Mutex
	writes [][]notion.Block
	err    error
}

func (w *recordingWriter) AppendBlocks(_ context.Context, clientID string, blocks []notion.Block) (notion.SyncReport, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return notion.SyncReport{}, w.err
	}
	w.writes = append(w.writes, blocks)
	return notion.SyncReport{PageID: "page-" + clientID, Batches: 1, Sent: 1}, nil
}

func newPipeline(t *testing.T, llm model.Model, w BlockWriter) *Pipeline {
	t.Helper()

	p, err := New(roles.NewCatalog(llm), w, "acme", func(o *Options) {
		o.Metrics = metrics.New()
	})
	require.NoError(t, err)
	return p
}

func TestNew_Validation(t *testing.T) {
	catalog := roles.NewCatalog(model.NewMockModel("m"))

	_, err := New(nil, &recordingWriter{}, "acme")
	assert.Error(t, err)
	_, err = New(catalog, nil, "acme")
	assert.Error(t, err)
	_, err = New(catalog, &recordingWriter{}, "")
	assert.Error(t, err)
}

func TestRunIntake(t *testing.T) {
	llm := model.NewMockModel("m").
		AddText("1. What does success look like?\n2. Who signs off?").
		AddCall("c1", ToolSaveInterviewQuestions, `{"title":"First Interviewing Questions","interview_questions":["What does success look like?"," Who signs off? ",""]}`)
	w := &recordingWriter{}

	out, err := newPipeline(t, llm, w).RunIntake(context.Background(), "Clinic wants a patient portal.")
	require.NoError(t, err)
	assert.Equal(t, QuestionsSaved, out)

	require.Len(t, w.writes, 1)
	require.Len(t, w.writes[0], 1)
	toggle := w.writes[0][0]
	assert.Equal(t, "First Interviewing Questions", toggle.PlainText())
	require.Len(t, toggle.Children(), 2)
	assert.Equal(t, "Who signs off?", toggle.Children()[1].PlainText())

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].Instructions, "Professional Interviewer")
	assert.Contains(t, reqs[0].Contents[0].Text(), "Clinic wants a patient portal.")
	assert.Empty(t, reqs[0].Tools)
	assert.Contains(t, reqs[1].Instructions, "Documentation Architect")
	assert.Contains(t, reqs[1].Contents[0].Text(), "Who signs off?")
	require.Len(t, reqs[1].Tools, 1)
	assert.Equal(t, ToolSaveInterviewQuestions, reqs[1].Tools[0].Name)
}

func TestRunIntake_EmptyInput(t *testing.T) {
	llm := model.NewMockModel("m")

	_, err := newPipeline(t, llm, &recordingWriter{}).RunIntake(context.Background(), "   ")
	assert.Error(t, err)
	assert.Empty(t, llm.Requests())
}

func TestRunIntake_SaveFailureBecomesText(t *testing.T) {
	llm := model.NewMockModel("m").
		AddText("questions").
		AddCall("c1", ToolSaveInterviewQuestions, `{"title":"T","interview_questions":["Q"]}`)
	w := &recordingWriter{err: errors.New("dial tcp: connection refused")}

	out, err := newPipeline(t, llm, w).RunIntake(context.Background(), "onboarding")
	require.NoError(t, err)
	assert.Equal(t, "An error occurred while saving interview questions: dial tcp: connection refused", out)
}

func TestRunIntake_ModelErrorPropagates(t *testing.T) {
	llm := model.NewMockModel("m")
	llm.FailWith(errors.New("quota exceeded"))
	w := &recordingWriter{}

	_, err := newPipeline(t, llm, w).RunIntake(context.Background(), "onboarding")
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Empty(t, w.writes)
}

func TestRunWorkbookUpdate(t *testing.T) {
	llm := model.NewMockModel("m").
		AddText("Project Description: Build a portal. Stakeholders: CEO, CTO.").
		AddCall("c1", ToolCreateProjectWorkbook, `{"workbook_contents":{"project_description":"Build a portal","stakeholders":["CEO","CTO"],"budget_summary":"Not discussed"}}`).
		AddText("1. What is the budget?").
		AddCall("c2", ToolSaveInterviewQuestions, `{"title":"Recommended Follow-Up Questions","interview_questions":["What is the budget?"]}`)
	w := &recordingWriter{}

	out, err := newPipeline(t, llm, w).RunWorkbookUpdate(context.Background(), "PM: what are we building?\nClient: a portal.")
	require.NoError(t, err)
	assert.Equal(t, QuestionsSaved, out)

	require.Len(t, w.writes, 2)

	var headings []string
	for _, b := range w.writes[0] {
		if b.Type == notion.TypeHeading2 {
			headings = append(headings, b.PlainText())
		}
	}
	assert.Equal(t, []string{"Project Description", "Stakeholders", "Budget Summary"}, headings)
	assert.Len(t, w.writes[0], 7)

	followUps := w.writes[1][0]
	assert.Equal(t, "Recommended Follow-Up Questions", followUps.PlainText())
	require.Len(t, followUps.Children(), 1)
	assert.Equal(t, notion.TypeBulletedListItem, followUps.Children()[0].Type)
	assert.Equal(t, "What is the budget?", followUps.Children()[0].PlainText())

	reqs := llm.Requests()
	require.Len(t, reqs, 4)
	assert.Contains(t, reqs[0].Instructions, "Project Manager at Healthcare Facilitation Group (HFG)")
	assert.Contains(t, reqs[0].Contents[0].Text(), "Client: a portal.")
	assert.Contains(t, reqs[1].Contents[0].Text(), "Build a portal. Stakeholders")

	followUpPrompt := reqs[2].Contents[0].Text()
	assert.Contains(t, reqs[2].Instructions, "Professional Interviewer")
	assert.Contains(t, followUpPrompt, "Build a portal. Stakeholders")
	assert.NotContains(t, followUpPrompt, WorkbookCreated)

	assert.Contains(t, reqs[3].Contents[0].Text(), "1. What is the budget?")
}

func TestRunWorkbookUpdate_InvalidWorkbook(t *testing.T) {
	llm := model.NewMockModel("m").
		AddText("elements").
		AddCall("c1", ToolCreateProjectWorkbook, `{"workbook_contents":{"risks":{"nested":true}}}`).
		AddText("follow-up").
		AddText("not saving")
	w := &recordingWriter{}

	out, err := newPipeline(t, llm, w).RunWorkbookUpdate(context.Background(), "transcript")
	require.NoError(t, err)
	assert.Equal(t, "not saving", out)
	assert.Empty(t, w.writes)

	reqs := llm.Requests()
	assert.Contains(t, reqs[2].Contents[0].Text(), "elements")
}

func TestAnswerQuestion(t *testing.T) {
	transcript := "PM: Hello\nClient: Our budget is 50k\nPM: Thanks\nClient: Timeline is Q3"
	llm := model.NewMockModel("m").
		AddCall("c1", ToolSearchTranscript, `{"query":"budget"}`).
		AddText("The budget is 50k.")

	out, err := newPipeline(t, llm, &recordingWriter{}).AnswerQuestion(context.Background(), transcript, "What is the budget?")
	require.NoError(t, err)
	assert.Equal(t, "The budget is 50k.", out)

	reqs := llm.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[0].Instructions, "Document Analysis Specialist")
	assert.Contains(t, reqs[0].Contents[0].Text(), "**Question**: What is the budget?")

	fr := reqs[1].Contents[2].FunctionResponses()
	require.Len(t, fr, 1)
	assert.Equal(t, "1: PM: Hello\n2: Client: Our budget is 50k\n3: PM: Thanks", fr[0].Response)
}

func TestAnswerQuestion_Validation(t *testing.T) {
	p := newPipeline(t, model.NewMockModel("m"), &recordingWriter{})

	_, err := p.AnswerQuestion(context.Background(), "", "q")
	assert.Error(t, err)
	_, err = p.AnswerQuestion(context.Background(), "t", " ")
	assert.Error(t, err)
}

func TestRunIntake_TwiceSharesOnlyPageReference(t *testing.T) {
	var (
		mu      sync.Mutex
		pages   int
		targets []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/pages":
			pages++
			fmt.Fprintf(w, `{"id":"page-%d"}`, pages)
		case r.Method == http.MethodPatch:
			targets = append(targets, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/blocks/"), "/children"))
			fmt.Fprint(w, `{}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store, err := registry.Open(filepath.Join(t.TempDir(), "clients.json"))
	require.NoError(t, err)
	_, err = store.GetOrCreate("acme", registry.Client{ClientName: "Acme"})
	require.NoError(t, err)

	client, err := notion.New(store, func(o *notion.Options) {
		o.BaseURL = srv.URL
		o.APIKey = "k"
		o.ParentPageID = "parent"
		o.BatchDelay = 0
	})
	require.NoError(t, err)

	llm := model.NewMockModel("m").
		AddText("first questions").
		AddCall("c1", ToolSaveInterviewQuestions, `{"title":"First Interviewing Questions","interview_questions":["A","B"]}`).
		AddText("second questions").
		AddCall("c2", ToolSaveInterviewQuestions, `{"title":"First Interviewing Questions","interview_questions":["C","D"]}`)

	p := newPipeline(t, llm, client)

	out1, err := p.RunIntake(context.Background(), "form one")
	require.NoError(t, err)
	out2, err := p.RunIntake(context.Background(), "form two")
	require.NoError(t, err)

	assert.Equal(t, QuestionsSaved, out1)
	assert.Equal(t, QuestionsSaved, out2)
	assert.Equal(t, 1, pages)
	assert.Equal(t, []string{"page-1", "page-1"}, targets)

	reqs := llm.Requests()
	require.Len(t, reqs, 4)
	assert.Len(t, reqs[2].Contents, 1)
	assert.NotContains(t, reqs[2].Contents[0].Text(), "first questions")
	assert.Contains(t, reqs[2].Contents[0].Text(), "form two")
}

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) AppendBlocks(ctx context.Context, clientID string, blocks []notion.Block) (notion.SyncReport, error) {
	args := m.Called(ctx, clientID, blocks)
	return args.Get(0).(notion.SyncReport), args.Error(1)
}

func TestRunIntake_WritesOneToggleForConfiguredClient(t *testing.T) {
	w := &mockWriter{}
	w.On("AppendBlocks", mock.Anything, "acme", mock.MatchedBy(func(blocks []notion.Block) bool {
		return len(blocks) == 1 && blocks[0].Heading2 != nil && blocks[0].Heading2.IsToggleable
	})).Return(notion.SyncReport{PageID: "p", Batches: 1, Sent: 1}, nil).Once()

	llm := model.NewMockModel("m").
		AddText("Q1\nQ2").
		AddCall("c1", ToolSaveInterviewQuestions, `{"title":"First Interviewing Questions","interview_questions":["Q1","Q2"]}`)

	out, err := newPipeline(t, llm, w).RunIntake(context.Background(), "form")
	require.NoError(t, err)
	assert.Equal(t, QuestionsSaved, out)
	w.AssertExpectations(t)
}

func toolNames(req model.Request) []string {
	names := make([]string, 0, len(req.Tools))
	for _, d := range req.Tools {
		names = append(names, d.Name)
	}
	return names
}

func TestStandardsSearch_OfferedToProjectManagerAndAnalyst(t *testing.T) {
	newWithStandards := func(llm model.Model) *Pipeline {
		p, err := New(roles.NewCatalog(llm), &recordingWriter{}, "acme", func(o *Options) {
			o.Standards = "Risk management plan\nIdentify, analyze and respond to risks."
		})
		require.NoError(t, err)
		return p
	}

	analyst := model.NewMockModel("m").
		AddCall("c1", ToolSearchStandards, `{"query":"risk"}`).
		AddText("Risks are identified, analyzed and responded to.")

	out, err := newWithStandards(analyst).AnswerQuestion(context.Background(), "Client: what about risks?", "How are risks handled?")
	require.NoError(t, err)
	assert.Equal(t, "Risks are identified, analyzed and responded to.", out)

	reqs := analyst.Requests()
	require.Len(t, reqs, 2)
	assert.ElementsMatch(t, []string{ToolSearchStandards, ToolSearchTranscript}, toolNames(reqs[0]))
	fr := reqs[1].Contents[2].FunctionResponses()
	require.Len(t, fr, 1)
	assert.Contains(t, fr[0].Response, "1: Risk management plan")

	pm := model.NewMockModel("m")
	pm.FailWith(errors.New("stop"))
	_, err = newWithStandards(pm).RunWorkbookUpdate(context.Background(), "PM: hello")
	require.Error(t, err)
	require.Len(t, pm.Requests(), 1)
	assert.Contains(t, pm.Requests()[0].Instructions, "Project Manager")
	assert.Equal(t, []string{ToolSearchStandards}, toolNames(pm.Requests()[0]))
}

func TestStandardsSearch_AbsentWithoutReference(t *testing.T) {
	llm := model.NewMockModel("m").AddText("The budget is 50k.")

	_, err := newPipeline(t, llm, &recordingWriter{}).AnswerQuestion(context.Background(), "Client: budget 50k", "Budget?")
	require.NoError(t, err)
	assert.Equal(t, []string{ToolSearchTranscript}, toolNames(llm.Requests()[0]))
}
