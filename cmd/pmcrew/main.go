// Command pmcrew serves the client onboarding UI and runs the workbook
// pipelines from the command line.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/pmcrew/config"
	"github.com/hupe1980/pmcrew/logging"
	"github.com/hupe1980/pmcrew/metrics"
	"github.com/hupe1980/pmcrew/model"
	"github.com/hupe1980/pmcrew/model/anthropic"
	"github.com/hupe1980/pmcrew/model/openai"
	"github.com/hupe1980/pmcrew/notion"
	"github.com/hupe1980/pmcrew/pipeline"
	"github.com/hupe1980/pmcrew/registry"
	"github.com/hupe1980/pmcrew/roles"
	"github.com/hupe1980/pmcrew/web"
)

type CLI struct {
	Config   string   `short:"c" help:"Path to config file." type:"path" env:"PMCREW_CONFIG"`
	EnvFile  []string `name:"env-file" help:"Dotenv files to load before reading config." default:".env.local,.env"`
	LogLevel string   `name:"log-level" help:"Override the configured log level (debug, info, warn, error)."`
	ClientID string   `name:"client" help:"Client registry id to work for."`

	Serve   ServeCmd   `cmd:"" help:"Start the web UI."`
	Intake  IntakeCmd  `cmd:"" help:"Create first interview questions from onboarding form files."`
	Update  UpdateCmd  `cmd:"" help:"Update the project workbook from interview transcript files."`
	Ask     AskCmd     `cmd:"" help:"Answer a question about a transcript."`
	Check   CheckCmd   `cmd:"" help:"Validate configuration and the client registry."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

type app struct {
	cfg      *config.Config
	logger   logging.Logger
	metrics  *metrics.Metrics
	registry *registry.Store
	pipeline *pipeline.Pipeline
}

func (cli *CLI) loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFiles(cli.EnvFile...); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.ClientID != "" {
		cfg.Registry.ClientID = cli.ClientID
	}
	return cfg, nil
}

func (cli *CLI) newApp() (*app, error) {
	cfg, err := cli.loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.New(&logging.Config{Level: level, Format: cfg.Logging.Format, Output: os.Stderr})
	m := metrics.New()

	store, err := registry.Open(cfg.Registry.Path, func(o *registry.Options) { o.Logger = logger })
	if err != nil {
		return nil, err
	}
	if _, err := store.GetOrCreate(cfg.Registry.ClientID, cfg.Registry.Defaults.Record()); err != nil {
		return nil, err
	}

	notionClient, err := notion.New(store, func(o *notion.Options) {
		o.BaseURL = cfg.Notion.BaseURL
		o.APIKey = cfg.Notion.APIKey
		o.Version = cfg.Notion.Version
		o.ParentPageID = cfg.Notion.ParentPageID
		o.BatchSize = cfg.Notion.BatchSize
		o.BatchDelay = cfg.Notion.BatchDelay
		o.HTTPClient = &http.Client{Timeout: cfg.Notion.Timeout}
		o.Logger = logger
		o.Metrics = m
	})
	if err != nil {
		return nil, err
	}

	llm, err := newModel(cfg.LLM)
	if err != nil {
		return nil, err
	}

	catalog := roles.NewCatalog(llm, func(o *roles.Options) {
		o.MaxIterations = cfg.Agent.MaxIterations
		o.Logger = logger
	})

	standards, err := readStandards(cfg.Knowledge.StandardsPath)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(catalog, notionClient, cfg.Registry.ClientID, func(o *pipeline.Options) {
		o.Logger = logger
		o.Metrics = m
		o.Standards = standards
	})
	if err != nil {
		return nil, err
	}

	logger.Info("pmcrew.ready",
		"client_id", cfg.Registry.ClientID,
		"llm_provider", cfg.LLM.Provider,
		"model", llm.Info().Name,
		"registry", cfg.Registry.Path,
	)

	return &app{cfg: cfg, logger: logger, metrics: m, registry: store, pipeline: p}, nil
}

func newModel(cfg config.LLMConfig) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case config.ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
		}), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

type ServeCmd struct {
	Addr string `help:"Listen address (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	a, err := cli.newApp()
	if err != nil {
		return err
	}

	addr := a.cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
	}

	ui, err := web.New(a.pipeline, func(o *web.Options) {
		o.ClientID = a.cfg.Registry.ClientID
		o.MaxUploadBytes = a.cfg.Server.MaxUploadBytes
		o.Logger = a.logger
		o.Metrics = a.metrics
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           ui.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("pmcrew.serve", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("pmcrew.shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type IntakeCmd struct {
	Files []string `arg:"" help:"Onboarding form response files (.txt)." type:"existingfile"`
}

func (c *IntakeCmd) Run(cli *CLI) error {
	return runWithFiles(cli, c.Files, func(ctx context.Context, p *pipeline.Pipeline, text string) (string, error) {
		return p.RunIntake(ctx, text)
	})
}

type UpdateCmd struct {
	Files []string `arg:"" help:"Interview call transcript files (.txt)." type:"existingfile"`
}

func (c *UpdateCmd) Run(cli *CLI) error {
	return runWithFiles(cli, c.Files, func(ctx context.Context, p *pipeline.Pipeline, text string) (string, error) {
		return p.RunWorkbookUpdate(ctx, text)
	})
}

type AskCmd struct {
	Question string   `short:"q" required:"" help:"Question to answer."`
	Files    []string `arg:"" help:"Interview call transcript files (.txt)." type:"existingfile"`
}

func (c *AskCmd) Run(cli *CLI) error {
	return runWithFiles(cli, c.Files, func(ctx context.Context, p *pipeline.Pipeline, text string) (string, error) {
		return p.AnswerQuestion(ctx, text, c.Question)
	})
}

func runWithFiles(cli *CLI, files []string, run func(context.Context, *pipeline.Pipeline, string) (string, error)) error {
	text, err := readFiles(files)
	if err != nil {
		return err
	}

	a, err := cli.newApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := run(ctx, a.pipeline, text)
	if err != nil {
		return err
	}

	fmt.Println(result)
	return nil
}

func readFiles(files []string) (string, error) {
	parts := make([]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		text, err := web.DecodeText(f, data)
		if err != nil {
			return "", fmt.Errorf("%s: %w", f, err)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n"), nil
}

// readStandards loads the optional standards reference.
func readStandards(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	return readFiles([]string{path})
}

type CheckCmd struct{}

func (c *CheckCmd) Run(cli *CLI) error {
	cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}

	store, err := registry.Open(cfg.Registry.Path)
	if err != nil {
		return err
	}

	fmt.Printf("config ok: provider=%s notion_version=%s batch_size=%d\n", cfg.LLM.Provider, cfg.Notion.Version, cfg.Notion.BatchSize)
	for _, id := range store.IDs() {
		rec, _ := store.Get(id)
		page := rec.PageID()
		if page == "" {
			page = "(none)"
		}
		fmt.Printf("client %s: %s page=%s\n", id, rec.ClientName, page)
	}
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("pmcrew version %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("pmcrew"),
		kong.Description("Client onboarding and project workbook assistant backed by Notion."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
