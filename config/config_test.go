package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PMCREW_ADDR", "PMCREW_LOG_LEVEL", "PMCREW_LOG_FORMAT", "PMCREW_LLM_PROVIDER", "PMCREW_LLM_MODEL",
		"NOTION_API_KEY", "NOTION_PARENT_PAGE_ID", "PMCREW_REGISTRY_PATH", "PMCREW_CLIENT_ID", "PMCREW_STANDARDS_PATH",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FileWithExpansion(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_NOTION_KEY", "ntn_secret")

	path := writeFile(t, "pmcrew.yaml", `
server:
  addr: ":9090"
llm:
  provider: anthropic
  model: claude-3-5-sonnet-latest
  api_key: ${TEST_ANTHROPIC_KEY:-fallback-key}
notion:
  api_key: ${TEST_NOTION_KEY}
  parent_page_id: parent-123
  batch_size: 25
  batch_delay: 250ms
registry:
  path: data/clients.json
  client_id: acme
  defaults:
    client_name: Acme Health
    notion_page_emoji: "🏥"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "fallback-key", cfg.LLM.APIKey)
	assert.Equal(t, "ntn_secret", cfg.Notion.APIKey)
	assert.Equal(t, 25, cfg.Notion.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Notion.BatchDelay)
	assert.Equal(t, "acme", cfg.Registry.ClientID)
	assert.Equal(t, "Acme Health", cfg.Registry.Defaults.Record().ClientName)
	assert.Equal(t, "2022-06-28", cfg.Notion.Version)
	assert.Equal(t, 15, cfg.Agent.MaxIterations)
}

func TestLoad_EnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("NOTION_API_KEY", "ntn")
	t.Setenv("NOTION_PARENT_PAGE_ID", "parent")
	t.Setenv("PMCREW_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "clients.json", cfg.Registry.Path)
	assert.Equal(t, "new_client", cfg.Registry.ClientID)
	assert.Equal(t, 50, cfg.Notion.BatchSize)
}

func TestLoad_ValidationErrors(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "pmcrew.yaml", `
llm:
  provider: gemini
notion:
  batch_size: 80
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "llm.provider")
	assert.ErrorContains(t, err, "notion.api_key is required")
	assert.ErrorContains(t, err, "notion.parent_page_id is required")
	assert.ErrorContains(t, err, "notion.batch_size must be between 1 and 50")
}

func TestLoad_StandardsPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("NOTION_API_KEY", "ntn")
	t.Setenv("NOTION_PARENT_PAGE_ID", "parent")

	standards := writeFile(t, "standards.txt", "Scope management")
	t.Setenv("PMCREW_STANDARDS_PATH", standards)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, standards, cfg.Knowledge.StandardsPath)

	t.Setenv("PMCREW_STANDARDS_PATH", filepath.Join(t.TempDir(), "missing.txt"))
	_, err = Load("")
	assert.ErrorContains(t, err, "knowledge.standards_path")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("PMCREW_TEST_SET", "value")
	t.Setenv("PMCREW_TEST_EMPTY", "")

	assert.Equal(t, "value", expandEnvVars("${PMCREW_TEST_SET}"))
	assert.Equal(t, "def", expandEnvVars("${PMCREW_TEST_EMPTY:-def}"))
	assert.Equal(t, "value/x", expandEnvVars("${PMCREW_TEST_SET:-other}/x"))
	assert.Equal(t, "no vars $HOME", expandEnvVars("no vars $HOME"))
}

func TestLoadEnvFiles(t *testing.T) {
	const key = "PMCREW_TEST_DOTENV_VALUE"
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() { os.Unsetenv(key) })

	path := writeFile(t, ".env", key+"=from-dotenv\n")

	require.NoError(t, LoadEnvFiles(filepath.Join(t.TempDir(), "missing.env"), path))
	assert.Equal(t, "from-dotenv", os.Getenv(key))
}
