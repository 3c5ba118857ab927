package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/zoobzio/counsel"
)

// runtime holds everything a command needs, plus the handles to release.
type runtime struct {
	app      *counsel.App
	endpoint *counsel.OpenAIEndpoint
	embedder counsel.Embedder
	store    counsel.VectorStore
	closers  []func() error
}

// Close releases database handles in reverse order of opening.
func (r *runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildRuntime wires the App described by cfg.
func buildRuntime(ctx context.Context, cfg Config, log *logrus.Logger) (*runtime, error) {
	rt := &runtime{}

	opts := []counsel.OpenAIEndpointOption{
		counsel.WithChatBaseURL(cfg.Model.BaseURL),
		counsel.WithChatModel(cfg.Model.Chat),
	}
	for k, v := range cfg.Model.Headers {
		opts = append(opts, counsel.WithChatHeader(k, v))
	}
	rt.endpoint = counsel.NewOpenAIEndpoint(cfg.Model.APIKey, opts...)

	mem, err := rt.openMemory(ctx, cfg.Memory, log)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	if cfg.Knowledge.Store != storeNone {
		rt.embedder = counsel.NewOpenAIEmbedder(cfg.Model.APIKey,
			counsel.WithEmbedderBaseURL(cfg.Model.BaseURL),
			counsel.WithEmbeddingModel(cfg.Model.Embedding, cfg.Model.EmbeddingDimensions),
		)
		if err := rt.openStore(ctx, cfg.Knowledge, log); err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	var policy *counsel.PolicyAdvisor
	if cfg.Policy.Enabled {
		policy, err = loadPolicy(ctx, cfg.Policy)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
	}

	rt.app, err = counsel.NewApp(counsel.AppConfig{
		Endpoint:     rt.endpoint,
		Memory:       mem,
		Embedder:     rt.embedder,
		VectorStore:  rt.store,
		Status:       cfg.Knowledge.Status,
		Tools:        append(counsel.FileTools(cfg.Tools.Dir), counsel.DateTimeTool(nil)),
		ReReading:    cfg.ReReading,
		Policy:       policy,
		RetrieveSize: cfg.Memory.RetrieveSize,
		Temperature:  cfg.Model.Temperature,
		Logger:       log,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) openMemory(ctx context.Context, cfg MemoryConfig, log *logrus.Logger) (counsel.Memory, error) {
	switch cfg.Backend {
	case memorySQLite:
		mem, err := counsel.OpenSQLiteMemory(cfg.Path)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, mem.Close)
		return mem, nil
	case memoryPostgres:
		db, err := sqlx.Connect("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect memory database: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		mem, err := counsel.NewSoyMemory(db)
		if err != nil {
			return nil, err
		}
		if err := mem.Migrate(ctx); err != nil {
			return nil, err
		}
		return mem, nil
	default:
		mem, err := counsel.NewFileMemory(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return mem.WithLogger(log), nil
	}
}

func (rt *runtime) openStore(ctx context.Context, cfg KnowledgeConfig, log *logrus.Logger) error {
	if cfg.Store == storePgvector {
		db, err := sqlx.Connect("postgres", cfg.DSN)
		if err != nil {
			return fmt.Errorf("connect knowledge database: %w", err)
		}
		rt.closers = append(rt.closers, db.Close)
		store, err := counsel.NewSoyVectorStore(db, rt.embedder)
		if err != nil {
			return err
		}
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		rt.store = store
		return nil
	}

	// The in-process store starts empty; load the knowledge base into it.
	store := counsel.NewSimpleVectorStore(rt.embedder)
	n, err := counsel.Ingest(ctx, store, counsel.NewMarkdownLoader(os.DirFS(cfg.Dir)))
	if err != nil {
		return fmt.Errorf("load knowledge base %s: %w", cfg.Dir, err)
	}
	log.WithFields(logrus.Fields{"dir": cfg.Dir, "documents": n}).Info("knowledge base loaded")
	rt.store = store
	return nil
}

func loadPolicy(ctx context.Context, cfg PolicyConfig) (*counsel.PolicyAdvisor, error) {
	source := counsel.DefaultPolicy
	if cfg.File != "" {
		b, err := os.ReadFile(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", cfg.File, err)
		}
		source = string(b)
	}
	policy, err := counsel.NewPolicyAdvisor(ctx, source)
	if err != nil {
		return nil, err
	}
	if cfg.MaxChars > 0 {
		policy = policy.WithMaxChars(cfg.MaxChars)
	}
	return policy, nil
}
