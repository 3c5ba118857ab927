package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoobzio/counsel"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "counsel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", envOf(map[string]string{"DASHSCOPE_API_KEY": "sk-dash"}))
	require.NoError(t, err)

	assert.Equal(t, "sk-dash", cfg.Model.APIKey)
	assert.Equal(t, counsel.DashScopeBaseURL, cfg.Model.BaseURL)
	assert.Equal(t, counsel.ModelQwenPlus, cfg.Model.Chat)
	assert.Equal(t, memoryFile, cfg.Memory.Backend)
	assert.Equal(t, counsel.DefaultMemoryDir, cfg.Memory.Dir)
	assert.Equal(t, counsel.DefaultRetrieveSize, cfg.Memory.RetrieveSize)
	assert.Equal(t, storeNone, cfg.Knowledge.Store)
	assert.False(t, cfg.Policy.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
model:
  api_key: sk-file
  base_url: https://api.openai.com/v1
  chat: gpt-4o-mini
  embedding: text-embedding-3-small
  embedding_dimensions: 1536
  temperature: 0.7
memory:
  backend: sqlite
  path: tmp/chat.db
  retrieve_size: 6
knowledge:
  store: simple
  dir: docs
  status: 单身
policy:
  enabled: true
  max_chars: 500
log:
  level: debug
  format: json
re_reading: true
`)

	cfg, err := Load(path, envOf(map[string]string{"OPENAI_API_KEY": "ignored"}))
	require.NoError(t, err)

	assert.Equal(t, "sk-file", cfg.Model.APIKey, "file values win over the environment")
	assert.Equal(t, float32(0.7), cfg.Model.Temperature)
	assert.Equal(t, memorySQLite, cfg.Memory.Backend)
	assert.Equal(t, 6, cfg.Memory.RetrieveSize)
	assert.Equal(t, "单身", cfg.Knowledge.Status)
	assert.Equal(t, 500, cfg.Policy.MaxChars)
	assert.True(t, cfg.ReReading)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvironment(t *testing.T) {
	path := writeConfig(t, `
memory:
  backend: postgres
knowledge:
  store: pgvector
`)

	cfg, err := Load(path, envOf(map[string]string{
		"OPENAI_API_KEY":       "sk-openai",
		"COUNSEL_DATABASE_URL": "postgres://localhost/counsel",
		"COUNSEL_LOG_LEVEL":    "warn",
	}))
	require.NoError(t, err)

	assert.Equal(t, "sk-openai", cfg.Model.APIKey)
	assert.Equal(t, "postgres://localhost/counsel", cfg.Memory.DSN)
	assert.Equal(t, "postgres://localhost/counsel", cfg.Knowledge.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "read config file")

	_, err = Load(writeConfig(t, "model: [not a map"), nil)
	assert.ErrorContains(t, err, "parse config file")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.Model.APIKey = "sk"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		message string
	}{
		{name: "missing key", mutate: func(c *Config) { c.Model.APIKey = "" }, message: "model.api_key"},
		{name: "missing chat model", mutate: func(c *Config) { c.Model.Chat = " " }, message: "model.chat"},
		{name: "temperature", mutate: func(c *Config) { c.Model.Temperature = 3 }, message: "model.temperature"},
		{name: "unknown memory", mutate: func(c *Config) { c.Memory.Backend = "redis" }, message: "memory.backend"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Memory.Backend = memorySQLite }, message: "memory.path"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Memory.Backend = memoryPostgres }, message: "memory.dsn"},
		{name: "negative retrieve size", mutate: func(c *Config) { c.Memory.RetrieveSize = -1 }, message: "memory.retrieve_size"},
		{name: "unknown store", mutate: func(c *Config) { c.Knowledge.Store = "faiss" }, message: "knowledge.store"},
		{name: "pgvector without dsn", mutate: func(c *Config) { c.Knowledge.Store = storePgvector }, message: "knowledge.dsn"},
		{name: "retrieval without embedding", mutate: func(c *Config) {
			c.Knowledge.Store = storeSimple
			c.Model.EmbeddingDimensions = 0
		}, message: "model.embedding"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, message: "log.level"},
		{name: "bad format", mutate: func(c *Config) { c.Log.Format = "xml" }, message: "log.format"},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.message)
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	log := logrus.New()
	require.NoError(t, configureLogger(log, LogConfig{Level: "debug", Format: "json"}))
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	assert.Error(t, configureLogger(log, LogConfig{Level: "nope"}))
}
