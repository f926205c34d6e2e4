// Package web serves the browser UI that starts pipeline runs.
package web

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hupe1980/pmcrew/logging"
	"github.com/hupe1980/pmcrew/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

// Runner is the pipeline surface the UI drives.
type Runner interface {
	RunIntake(ctx context.Context, onboarding string) (string, error)
	RunWorkbookUpdate(ctx context.Context, transcript string) (string, error)
	AnswerQuestion(ctx context.Context, transcript, question string) (string, error)
}

// Tabs.
const (
	TabOnboarding = "onboarding"
	TabInterview  = "interview"
	TabFollowUp   = "follow-up"
)

// Upload errors.
var (
	ErrNotText       = errors.New("upload is not a plain text file")
	ErrNoQuestion    = errors.New("question is empty")
	errRunInProgress = errors.New("run in progress")
)

// userMessage maps errors to the banner text shown in the UI.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotText):
		return "Please upload a text file."
	case errors.Is(err, ErrNoQuestion):
		return "Please enter a question."
	case errors.Is(err, errRunInProgress):
		return "Another run is already in progress. Please try again when it has finished."
	default:
		return err.Error()
	}
}

// Options configures a Server.
type Options struct {
	ClientID       string
	MaxUploadBytes int64
	Logger         logging.Logger
	Metrics        *metrics.Metrics
}

// Server renders the UI and guards against concurrent runs.
type Server struct {
	runner Runner
	opts   Options
	tmpl   *template.Template
	logger logging.Logger
	busy   atomic.Bool
}

type banner struct {
	Kind    string
	Message string
}

type page struct {
	ClientID string
	Tab      string
	Busy     bool
	Banner   *banner
	Input    string
	Question string
}

// New creates a Server for runner.
func New(runner Runner, optFns ...func(o *Options)) (*Server, error) {
	opts := Options{
		MaxUploadBytes: 10 << 20,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if runner == nil {
		return nil, errors.New("web: runner is required")
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("web: parse templates: %w", err)
	}

	return &Server{
		runner: runner,
		opts:   opts,
		tmpl:   tmpl,
		logger: logging.With(opts.Logger, "component", "web"),
	}, nil
}

// Busy reports whether a run is in progress.
func (s *Server) Busy() bool { return s.busy.Load() }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Post("/intake", s.handleIntake)
	r.Post("/workbook", s.handleWorkbook)
	r.Post("/ask", s.handleAsk)
	r.Get("/status", s.handleStatus)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.opts.Metrics.Handler())

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, page{Tab: normalizeTab(r.URL.Query().Get("tab"))})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"busy": s.Busy(), "client_id": s.opts.ClientID})
}

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	s.handleRun(w, r, TabOnboarding, func(ctx context.Context, text string, _ *http.Request) (string, error) {
		return s.runner.RunIntake(ctx, text)
	})
}

func (s *Server) handleWorkbook(w http.ResponseWriter, r *http.Request) {
	s.handleRun(w, r, TabInterview, func(ctx context.Context, text string, _ *http.Request) (string, error) {
		return s.runner.RunWorkbookUpdate(ctx, text)
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	s.handleRun(w, r, TabFollowUp, func(ctx context.Context, text string, r *http.Request) (string, error) {
		return s.runner.AnswerQuestion(ctx, text, r.FormValue("question"))
	})
}

type runFunc func(ctx context.Context, text string, r *http.Request) (string, error)

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request, tab string, run runFunc) {
	p := page{Tab: tab}

	text, err := s.readUploads(w, r)
	if err == nil && tab == TabFollowUp && strings.TrimSpace(r.FormValue("question")) == "" {
		err = ErrNoQuestion
	}
	if err != nil {
		s.logger.Warn("web.upload.rejected", "tab", tab, "error", err.Error())
		p.Banner = &banner{Kind: "error", Message: userMessage(err)}
		s.render(w, http.StatusBadRequest, p)
		return
	}
	p.Input = text
	p.Question = r.FormValue("question")

	result, err := s.exclusive(r, tab, func() (string, error) {
		return run(context.WithoutCancel(r.Context()), text, r)
	})

	switch {
	case errors.Is(err, errRunInProgress):
		p.Banner = &banner{Kind: "error", Message: userMessage(err)}
		s.render(w, http.StatusConflict, p)
	case err != nil:
		p.Banner = &banner{Kind: "error", Message: fmt.Sprintf("The run failed: %v", err)}
		s.render(w, http.StatusInternalServerError, p)
	default:
		p.Banner = &banner{Kind: "success", Message: result}
		s.render(w, http.StatusOK, p)
	}
}

// exclusive runs fn while holding the busy flag, which is released on every
// exit path including panics.
func (s *Server) exclusive(r *http.Request, tab string, fn func() (string, error)) (string, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("web.run.rejected", "tab", tab, "reason", "busy")
		return "", errRunInProgress
	}
	defer s.busy.Store(false)

	start := time.Now()
	s.logger.Info("web.run.start", "tab", tab, "request_id", middleware.GetReqID(r.Context()))

	result, err := fn()
	if err != nil {
		s.logger.Error("web.run.error", "tab", tab, "error", err.Error())
		return "", err
	}

	s.logger.Info("web.run.complete", "tab", tab, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// readUploads returns the concatenated text of all uploaded files. Every file
// must be a UTF-8 .txt file sent as text/plain.
func (s *Server) readUploads(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", fmt.Errorf("upload exceeds %d bytes", maxErr.Limit)
		}
		return "", ErrNotText
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		return "", ErrNotText
	}

	parts := make([]string, 0, len(headers))
	for _, fh := range headers {
		text, err := readTextFile(fh)
		if err != nil {
			return "", err
		}
		parts = append(parts, text)
	}

	return strings.Join(parts, "\n\n"), nil
}

func readTextFile(fh *multipart.FileHeader) (string, error) {
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".txt") {
		return "", ErrNotText
	}

	mediaType, _, err := mime.ParseMediaType(fh.Header.Get("Content-Type"))
	if err != nil || mediaType != "text/plain" {
		return "", ErrNotText
	}

	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("an error occurred while reading the file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("an error occurred while reading the file: %w", err)
	}

	return DecodeText(fh.Filename, data)
}

// DecodeText applies the upload rules to a named file's contents: a .txt
// extension, valid UTF-8 after an optional BOM, and something besides
// whitespace.
func DecodeText(name string, data []byte) (string, error) {
	if !strings.EqualFold(filepath.Ext(name), ".txt") {
		return "", ErrNotText
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", ErrNotText
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return "", fmt.Errorf("%s is empty", filepath.Base(name))
	}

	return string(data), nil
}

func (s *Server) render(w http.ResponseWriter, status int, p page) {
	p.ClientID = s.opts.ClientID
	p.Busy = s.Busy()

	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "index.html", p); err != nil {
		s.logger.Error("web.render.error", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug("web.request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func normalizeTab(tab string) string {
	switch tab {
	case TabInterview, TabFollowUp:
		return tab
	default:
		return TabOnboarding
	}
}
