// Package registry persists client records in a flat JSON file keyed by client id.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hupe1980/pmcrew/logging"
)

// DefaultClientID is used when no client is selected.
const DefaultClientID = "new_client"

// Client is a single client record.
type Client struct {
	ClientName         string  `json:"client_name"`
	NotionPageEmoji    string  `json:"notion_page_emoji"`
	NotionPageCoverURL string  `json:"notion_page_cover_url"`
	NotionPageID       *string `json:"notion_page_id"`
}

// PageID returns the cached Notion page id or "".
func (c Client) PageID() string {
	if c.NotionPageID == nil {
		return ""
	}
	return *c.NotionPageID
}

// Options configures a Store.
type Options struct {
	Logger logging.Logger
}

// Store is the in-memory view of the registry file. Every mutation rewrites
// the whole file.
type Store struct {
	mu      sync.Mutex
	path    string
	clients map[string]Client
	logger  logging.Logger
}

// Open reads the registry at path. A missing file yields an empty registry.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Store{
		path:    path,
		clients: map[string]Client{},
		logger:  logging.With(opts.Logger, "component", "registry"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("registry.missing", "path", path)
			return s, nil
		}
		return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
	}

	if len(data) == 0 {
		return s, nil
	}

	if err := json.Unmarshal(data, &s.clients); err != nil {
		return nil, fmt.Errorf("failed to parse registry %s: %w", path, err)
	}

	s.logger.Debug("registry.loaded", "path", path, "clients", len(s.clients))
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	return c, ok
}

// IDs returns all client ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetOrCreate returns the record for id, creating and persisting it from
// defaults on first use.
func (s *Store) GetOrCreate(id string, defaults Client) (Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[id]; ok {
		return c, nil
	}

	defaults.NotionPageID = nil
	s.clients[id] = defaults

	if err := s.saveLocked(); err != nil {
		delete(s.clients, id)
		return Client{}, err
	}

	s.logger.Info("registry.client.created", "client_id", id, "client_name", defaults.ClientName)
	return defaults, nil
}

// SetPageID records pageID on the client and persists the registry.
func (s *Store) SetPageID(id, pageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[id]
	if !ok {
		return fmt.Errorf("client %q not found", id)
	}

	prev := c.NotionPageID
	c.NotionPageID = &pageID
	s.clients[id] = c

	if err := s.saveLocked(); err != nil {
		c.NotionPageID = prev
		s.clients[id] = c
		return err
	}

	s.logger.Info("registry.page.stored", "client_id", id, "page_id", pageID)
	return nil
}

// Save rewrites the registry file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.clients, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write registry: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace registry %s: %w", s.path, err)
	}

	return nil
}
