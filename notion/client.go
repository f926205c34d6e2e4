package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/pmcrew/logging"
	"github.com/hupe1980/pmcrew/metrics"
	"github.com/hupe1980/pmcrew/registry"
)

const (
	DefaultBaseURL = "https://api.notion.com"
	DefaultVersion = "2022-06-28"

	// MaxBatchSize is the most children Notion accepts per append.
	MaxBatchSize = 50
)

// Options configures a Client.
type Options struct {
	BaseURL      string
	APIKey       string
	Version      string
	ParentPageID string

	BatchSize  int
	BatchDelay time.Duration

	HTTPClient *http.Client
	Logger     logging.Logger
	Metrics    *metrics.Metrics

	// Now stamps page titles.
	Now func() time.Time
}

// SyncReport summarises one AppendBlocks call.
type SyncReport struct {
	PageID       string
	Batches      int
	Sent         int
	Dropped      int
	Resent       int
	Replacements int
}

// Client talks to the Notion REST API on behalf of registry clients.
type Client struct {
	opts     Options
	registry *registry.Store
	logger   logging.Logger
}

// New creates a Client that stores page ids in store.
func New(store *registry.Store, optFns ...func(o *Options)) (*Client, error) {
	opts := Options{
		BaseURL:    DefaultBaseURL,
		Version:    DefaultVersion,
		BatchSize:  MaxBatchSize,
		BatchDelay: 500 * time.Millisecond,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logging.NoOpLogger{},
		Now:        time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if store == nil {
		return nil, errors.New("notion: registry is required")
	}
	if opts.APIKey == "" {
		return nil, errors.New("notion: API key is required")
	}
	if opts.ParentPageID == "" {
		return nil, errors.New("notion: parent page id is required")
	}
	if opts.BatchSize <= 0 || opts.BatchSize > MaxBatchSize {
		opts.BatchSize = MaxBatchSize
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:     opts,
		registry: store,
		logger:   logging.With(opts.Logger, "component", "notion"),
	}, nil
}

// EnsurePage returns the client's cached page id, creating and persisting a
// page on first use.
func (c *Client) EnsurePage(ctx context.Context, clientID string) (string, error) {
	rec, ok := c.registry.Get(clientID)
	if !ok {
		return "", fmt.Errorf("notion: client %q not found", clientID)
	}

	if id := rec.PageID(); id != "" {
		return id, nil
	}

	return c.provisionPage(ctx, clientID, rec)
}

// AppendBlocks appends blocks to the client's page in batches of at most
// BatchSize. A stale page reference triggers one replacement page and a single
// resend of the failing batch; other API failures drop the batch.
func (c *Client) AppendBlocks(ctx context.Context, clientID string, blocks []Block) (SyncReport, error) {
	var report SyncReport
	if len(blocks) == 0 {
		return report, nil
	}

	pageID, err := c.EnsurePage(ctx, clientID)
	if err != nil {
		return report, err
	}
	report.PageID = pageID

	batches := chunk(blocks, c.opts.BatchSize)
	report.Batches = len(batches)

	replaced := false
	for i, batch := range batches {
		if i > 0 {
			if err := sleep(ctx, c.opts.BatchDelay); err != nil {
				return report, err
			}
		}

		err := c.appendChildren(ctx, pageID, batch)
		if err == nil {
			report.Sent++
			c.opts.Metrics.BatchSent()
			continue
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return report, err
		}

		if !apiErr.IsStaleReference() || replaced {
			c.drop(&report, i, pageID, err)
			continue
		}

		replaced = true
		c.logger.Warn("notion.page.stale", "client_id", clientID, "page_id", pageID, "error", err.Error())

		rec, ok := c.registry.Get(clientID)
		if !ok {
			return report, fmt.Errorf("notion: client %q not found", clientID)
		}

		pageID, err = c.provisionPage(ctx, clientID, rec)
		if err != nil {
			return report, err
		}
		report.PageID = pageID
		report.Replacements++

		if err := c.appendChildren(ctx, pageID, batch); err != nil {
			if !errors.As(err, &apiErr) {
				return report, err
			}
			c.drop(&report, i, pageID, err)
			continue
		}

		report.Sent++
		report.Resent++
		c.opts.Metrics.BatchSent()
		c.opts.Metrics.BatchResent()
	}

	c.logger.Info("notion.append.complete",
		"client_id", clientID,
		"page_id", report.PageID,
		"batches", report.Batches,
		"sent", report.Sent,
		"dropped", report.Dropped,
	)

	return report, nil
}

func (c *Client) drop(report *SyncReport, index int, pageID string, err error) {
	report.Dropped++
	c.opts.Metrics.BatchDropped()
	c.logger.Error("notion.batch.dropped", "batch", index, "page_id", pageID, "error", err.Error())
}

func (c *Client) provisionPage(ctx context.Context, clientID string, rec registry.Client) (string, error) {
	pageID, err := c.createPage(ctx, rec)
	if err != nil {
		return "", err
	}

	if err := c.registry.SetPageID(clientID, pageID); err != nil {
		return "", fmt.Errorf("notion: failed to persist page id: %w", err)
	}

	c.opts.Metrics.PageCreated()
	c.logger.Info("notion.page.created", "client_id", clientID, "page_id", pageID)
	return pageID, nil
}

type createPageRequest struct {
	Parent     pageParent     `json:"parent"`
	Icon       *pageIcon      `json:"icon,omitempty"`
	Cover      *pageCover     `json:"cover,omitempty"`
	Properties map[string]any `json:"properties"`
}

type pageParent struct {
	Type   string `json:"type"`
	PageID string `json:"page_id"`
}

type pageIcon struct {
	Type  string `json:"type"`
	Emoji string `json:"emoji"`
}

type pageCover struct {
	Type     string       `json:"type"`
	External externalFile `json:"external"`
}

type externalFile struct {
	URL string `json:"url"`
}

func (c *Client) createPage(ctx context.Context, rec registry.Client) (string, error) {
	title := fmt.Sprintf("%s's Workbook (%s)", rec.ClientName, c.opts.Now().Format("2006-01-02 15:04"))

	body := createPageRequest{
		Parent: pageParent{Type: "page_id", PageID: c.opts.ParentPageID},
		Properties: map[string]any{
			"title": map[string]any{"title": richText(title)},
		},
	}
	if rec.NotionPageEmoji != "" {
		body.Icon = &pageIcon{Type: "emoji", Emoji: rec.NotionPageEmoji}
	}
	if rec.NotionPageCoverURL != "" {
		body.Cover = &pageCover{Type: "external", External: externalFile{URL: rec.NotionPageCoverURL}}
	}

	var page struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/pages", body, &page); err != nil {
		return "", err
	}
	if page.ID == "" {
		return "", errors.New("notion: page created without id")
	}
	return page.ID, nil
}

func (c *Client) appendChildren(ctx context.Context, blockID string, children []Block) error {
	return c.do(ctx, http.MethodPatch, "/v1/blocks/"+blockID+"/children", map[string]any{"children": children}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("notion: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("notion: failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Notion-Version", c.opts.Version)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("notion.request", "method", method, "path", path, "bytes", len(payload))

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("notion: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("notion: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("notion: failed to decode response: %w", err)
	}
	return nil
}

func chunk(blocks []Block, size int) [][]Block {
	var out [][]Block
	for start := 0; start < len(blocks); start += size {
		end := start + size
		if end > len(blocks) {
			end = len(blocks)
		}
		out = append(out, blocks[start:end])
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
