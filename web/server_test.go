package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pmcrew/metrics"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	inputs  []string
	result  string
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeRunner) record(kind, input string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return f.result, f.err
}

func (f *fakeRunner) RunIntake(_ context.Context, text string) (string, error) {
	return f.record("intake", text)
}

func (f *fakeRunner) RunWorkbookUpdate(_ context.Context, text string) (string, error) {
	return f.record("workbook", text)
}

func (f *fakeRunner) AnswerQuestion(_ context.Context, transcript, question string) (string, error) {
	return f.record("ask", transcript+"|"+question)
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type upload struct {
	name        string
	contentType string
	body        string
}

func multipartRequest(t *testing.T, path string, files []upload, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+f.name+`"`)
		h.Set("Content-Type", f.contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func newServer(t *testing.T, runner Runner) *Server {
	t.Helper()

	s, err := New(runner, func(o *Options) {
		o.ClientID = "acme"
		o.Metrics = metrics.New()
	})
	require.NoError(t, err)
	return s
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIndex_Tabs(t *testing.T) {
	s := newServer(t, &fakeRunner{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Onboarding")
	assert.Contains(t, body, "Interview")
	assert.Contains(t, body, "Follow-up")
	assert.Contains(t, body, `action="/intake"`)
	assert.Contains(t, body, "acme")

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/?tab=interview", nil))
	assert.Contains(t, rec.Body.String(), `action="/workbook"`)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/?tab=follow-up", nil))
	assert.Contains(t, rec.Body.String(), `action="/ask"`)
}

func TestIntake_Success(t *testing.T) {
	runner := &fakeRunner{result: "Interviewing questions saved successfully!"}
	s := newServer(t, runner)

	req := multipartRequest(t, "/intake", []upload{
		{name: "form.txt", contentType: "text/plain", body: "Part one"},
		{name: "more.TXT", contentType: "text/plain; charset=utf-8", body: "Part <two>"},
	}, nil)
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `class="banner success"`)
	assert.Contains(t, rec.Body.String(), "Interviewing questions saved successfully!")
	assert.Contains(t, rec.Body.String(), "Part &lt;two&gt;")
	assert.Equal(t, []string{"intake"}, runner.Calls())
	assert.Equal(t, "Part one\n\nPart <two>", runner.inputs[0])
	assert.False(t, s.Busy())
}

func TestUpload_NonTextRejected(t *testing.T) {
	cases := map[string][]upload{
		"pdf content type": {{name: "form.txt", contentType: "application/pdf", body: "x"}},
		"wrong extension":  {{name: "form.docx", contentType: "text/plain", body: "x"}},
		"invalid utf8":     {{name: "form.txt", contentType: "text/plain", body: "\xff\xfe\xfd"}},
		"one bad of two":   {{name: "a.txt", contentType: "text/plain", body: "ok"}, {name: "b.png", contentType: "image/png", body: "x"}},
		"no files":         nil,
	}

	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			runner := &fakeRunner{}
			s := newServer(t, runner)

			rec := serve(s, multipartRequest(t, "/workbook", files, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "Please upload a text file.")
			assert.Empty(t, runner.Calls())
		})
	}
}

func TestUpload_NotMultipart(t *testing.T) {
	runner := &fakeRunner{}
	s := newServer(t, runner)

	req := httptest.NewRequest(http.MethodPost, "/intake", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := serve(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, runner.Calls())
}

func TestUpload_EmptyFile(t *testing.T) {
	runner := &fakeRunner{}
	s := newServer(t, runner)

	rec := serve(s, multipartRequest(t, "/intake", []upload{{name: "a.txt", contentType: "text/plain", body: "  \n"}}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "a.txt is empty")
	assert.Empty(t, runner.Calls())
}

func TestAsk(t *testing.T) {
	runner := &fakeRunner{result: "The budget is 50k."}
	s := newServer(t, runner)

	rec := serve(s, multipartRequest(t, "/ask",
		[]upload{{name: "call.txt", contentType: "text/plain", body: "budget 50k"}},
		map[string]string{"question": "What is the budget?"},
	))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "The budget is 50k.")
	assert.Equal(t, "budget 50k|What is the budget?", runner.inputs[0])
}

func TestAsk_MissingQuestion(t *testing.T) {
	runner := &fakeRunner{}
	s := newServer(t, runner)

	rec := serve(s, multipartRequest(t, "/ask", []upload{{name: "call.txt", contentType: "text/plain", body: "x"}}, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please enter a question.")
	assert.Empty(t, runner.Calls())
}

func TestRun_ErrorBanner(t *testing.T) {
	runner := &fakeRunner{err: errors.New("crew execution failed")}
	s := newServer(t, runner)

	rec := serve(s, multipartRequest(t, "/intake", []upload{{name: "a.txt", contentType: "text/plain", body: "x"}}, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `class="banner error"`)
	assert.Contains(t, rec.Body.String(), "The run failed: crew execution failed")
	assert.False(t, s.Busy())
}

func TestRun_BusyGuard(t *testing.T) {
	runner := &fakeRunner{result: "done", started: make(chan struct{}), release: make(chan struct{})}
	s := newServer(t, runner)

	firstReq := multipartRequest(t, "/intake", []upload{{name: "a.txt", contentType: "text/plain", body: "one"}}, nil)
	first := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		first <- serve(s, firstReq)
	}()

	<-runner.started
	assert.True(t, s.Busy())

	status := serve(s, httptest.NewRequest(http.MethodGet, "/status", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &body))
	assert.Equal(t, true, body["busy"])

	second := serve(s, multipartRequest(t, "/workbook", []upload{{name: "b.txt", contentType: "text/plain", body: "two"}}, nil))
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "Another run is already in progress.")

	close(runner.release)
	rec := <-first
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"intake"}, runner.Calls())
	assert.False(t, s.Busy())
}

func TestRun_PanicReleasesBusy(t *testing.T) {
	s := newServer(t, panicRunner{&fakeRunner{}})

	rec := serve(s, multipartRequest(t, "/intake", []upload{{name: "a.txt", contentType: "text/plain", body: "x"}}, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, s.Busy())
}

type panicRunner struct{ *fakeRunner }

func (panicRunner) RunIntake(context.Context, string) (string, error) { panic("boom") }

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t, &fakeRunner{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pmcrew_notion_pages_created_total")
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

type ctxRunner struct {
	fakeRunner
	seen error
}

func (c *ctxRunner) RunIntake(ctx context.Context, text string) (string, error) {
	c.seen = ctx.Err()
	return c.record("intake", text)
}

func TestIntake_RunOutlivesClientDisconnect(t *testing.T) {
	runner := &ctxRunner{fakeRunner: fakeRunner{result: "Interview questions saved successfully!"}}
	s := newServer(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := multipartRequest(t, "/intake", []upload{{name: "form.txt", contentType: "text/plain", body: "Client: ACME"}}, nil)

	rec := serve(s, req.WithContext(ctx))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, runner.seen)
	assert.Equal(t, []string{"intake"}, runner.Calls())
}

func TestDecodeText(t *testing.T) {
	text, err := DecodeText("notes.TXT", []byte("\xef\xbb\xbfhello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = DecodeText("notes.pdf", []byte("hello"))
	assert.ErrorIs(t, err, ErrNotText)

	_, err = DecodeText("notes.txt", []byte{0xff, 0xfe, 0x00})
	assert.ErrorIs(t, err, ErrNotText)

	_, err = DecodeText("dir/notes.txt", []byte(" \n"))
	assert.EqualError(t, err, "notes.txt is empty")
}
