package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/zoobzio/counsel"
)

const (
	memoryFile     = "file"
	memorySQLite   = "sqlite"
	memoryPostgres = "postgres"

	storeNone     = "none"
	storeSimple   = "simple"
	storePgvector = "pgvector"
)

// Config represents the command configuration parsed from YAML.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Memory    MemoryConfig    `yaml:"memory"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Tools     ToolsConfig     `yaml:"tools"`
	Policy    PolicyConfig    `yaml:"policy"`
	Log       LogConfig       `yaml:"log"`
	ReReading bool            `yaml:"re_reading"`
}

// ModelConfig selects the OpenAI-compatible API used for chat and embeddings.
type ModelConfig struct {
	APIKey              string            `yaml:"api_key"`
	BaseURL             string            `yaml:"base_url"`
	Chat                string            `yaml:"chat"`
	Embedding           string            `yaml:"embedding"`
	EmbeddingDimensions int               `yaml:"embedding_dimensions"`
	Temperature         float32           `yaml:"temperature"`
	Headers             map[string]string `yaml:"headers"`
}

// MemoryConfig selects the conversation memory backend.
type MemoryConfig struct {
	Backend      string `yaml:"backend"`
	Dir          string `yaml:"dir"`
	Path         string `yaml:"path"`
	DSN          string `yaml:"dsn"`
	RetrieveSize int    `yaml:"retrieve_size"`
}

// KnowledgeConfig selects the vector store and the documents loaded into it.
type KnowledgeConfig struct {
	Store  string `yaml:"store"`
	Dir    string `yaml:"dir"`
	DSN    string `yaml:"dsn"`
	Status string `yaml:"status"`
}

// ToolsConfig configures the tools offered by the tools command.
type ToolsConfig struct {
	Dir string `yaml:"dir"`
}

// PolicyConfig enables the request policy.
type PolicyConfig struct {
	Enabled  bool   `yaml:"enabled"`
	File     string `yaml:"file"`
	MaxChars int    `yaml:"max_chars"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			BaseURL:             counsel.DashScopeBaseURL,
			Chat:                counsel.ModelQwenPlus,
			Embedding:           counsel.ModelDashScopeV3,
			EmbeddingDimensions: counsel.DimensionsDashScopeV3,
		},
		Memory: MemoryConfig{
			Backend:      memoryFile,
			Dir:          counsel.DefaultMemoryDir,
			RetrieveSize: counsel.DefaultRetrieveSize,
		},
		Knowledge: KnowledgeConfig{
			Store: storeNone,
			Dir:   "document",
		},
		Tools: ToolsConfig{
			Dir: "tmp/file",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads YAML configuration from disk over the defaults, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	cfg.applyEnv(getenv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv fills secrets and connection strings from the environment.
func (c *Config) applyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	if c.Model.APIKey == "" {
		c.Model.APIKey = firstNonEmpty(getenv("DASHSCOPE_API_KEY"), getenv("OPENAI_API_KEY"))
	}
	if dsn := getenv("COUNSEL_DATABASE_URL"); dsn != "" {
		if c.Memory.DSN == "" {
			c.Memory.DSN = dsn
		}
		if c.Knowledge.DSN == "" {
			c.Knowledge.DSN = dsn
		}
	}
	if level := getenv("COUNSEL_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Model.APIKey) == "" {
		return errors.New("model.api_key must be provided (or set DASHSCOPE_API_KEY)")
	}
	if strings.TrimSpace(c.Model.BaseURL) == "" {
		return errors.New("model.base_url must be provided")
	}
	if strings.TrimSpace(c.Model.Chat) == "" {
		return errors.New("model.chat must be provided")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2, got %v", c.Model.Temperature)
	}

	switch c.Memory.Backend {
	case memoryFile:
		if strings.TrimSpace(c.Memory.Dir) == "" {
			return errors.New("memory.dir must be provided for the file backend")
		}
	case memorySQLite:
		if strings.TrimSpace(c.Memory.Path) == "" {
			return errors.New("memory.path must be provided for the sqlite backend")
		}
	case memoryPostgres:
		if strings.TrimSpace(c.Memory.DSN) == "" {
			return errors.New("memory.dsn must be provided for the postgres backend")
		}
	default:
		return fmt.Errorf("memory.backend %q must be one of %q, %q or %q", c.Memory.Backend, memoryFile, memorySQLite, memoryPostgres)
	}
	if c.Memory.RetrieveSize < 0 {
		return fmt.Errorf("memory.retrieve_size must not be negative, got %d", c.Memory.RetrieveSize)
	}

	switch c.Knowledge.Store {
	case storeNone:
	case storeSimple, storePgvector:
		if strings.TrimSpace(c.Model.Embedding) == "" || c.Model.EmbeddingDimensions <= 0 {
			return errors.New("model.embedding and model.embedding_dimensions must be provided for retrieval")
		}
		if c.Knowledge.Store == storeSimple && strings.TrimSpace(c.Knowledge.Dir) == "" {
			return errors.New("knowledge.dir must be provided for the simple store")
		}
		if c.Knowledge.Store == storePgvector && strings.TrimSpace(c.Knowledge.DSN) == "" {
			return errors.New("knowledge.dsn must be provided for the pgvector store")
		}
	default:
		return fmt.Errorf("knowledge.store %q must be one of %q, %q or %q", c.Knowledge.Store, storeNone, storeSimple, storePgvector)
	}

	if c.Policy.MaxChars < 0 {
		return fmt.Errorf("policy.max_chars must not be negative, got %d", c.Policy.MaxChars)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// configureLogger applies the log settings to l.
func configureLogger(l *logrus.Logger, cfg LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
