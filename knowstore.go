// Package knowstore is a multi-backend knowledge-storage core. It exposes
// three independent engine contracts (vector similarity, property graph,
// append-only memory) and resolves one concrete realization per contract at
// construction time, embedded or managed, from deployment configuration.
package knowstore

import (
	"context"
	"log/slog"

	"github.com/axiomkit/knowstore/config"
	"github.com/axiomkit/knowstore/errors"
	"github.com/axiomkit/knowstore/graph"
	"github.com/axiomkit/knowstore/internal/mylog"
	"github.com/axiomkit/knowstore/memory"
	"github.com/axiomkit/knowstore/vector"
)

type (
	// Embedder turns text into a fixed-dimension vector. It is consumed,
	// never implemented, by this module.
	Embedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
	}

	// Store bundles the three engine contracts behind one handle. Each
	// engine is resolved once and cached for the lifetime of the handle;
	// the engines share no runtime state.
	Store struct {
		Vector vector.Store
		Graph  graph.Store
		Memory memory.Store

		logger   *slog.Logger
		embedder Embedder
	}

	Option func(*options)

	options struct {
		config    *config.Config
		logger    *slog.Logger
		promotion memory.PromotionPolicy
		embedder  Embedder
	}
)

func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.config = cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithPromotionPolicy(policy memory.PromotionPolicy) Option {
	return func(o *options) { o.promotion = policy }
}

func WithEmbedder(embedder Embedder) Option {
	return func(o *options) { o.embedder = embedder }
}

// New resolves one realization per engine contract from the configuration
// and returns the bundled handle. Callers interact purely through the
// contracts afterwards, so switching mode never requires call-site changes.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.config == nil {
		o.config = config.NewConfig()
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = mylog.NewLogger(o.config.Log.LogLevel, o.config.Log.LogHandler)
	}
	if o.promotion == nil {
		o.promotion = memory.ContentLengthPolicy{
			Threshold: o.config.Memory.PromotionThreshold,
			Score:     0.5,
		}
	}

	store := &Store{
		logger:   o.logger,
		embedder: o.embedder,
	}

	vectorStore, err := newVectorStore(o.config, o.logger)
	if err != nil {
		return nil, err
	}
	store.Vector = vectorStore

	graphStore, err := newGraphStore(ctx, o.config, o.logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	store.Graph = graphStore

	memoryStore, err := newMemoryStore(ctx, o.config, o.promotion, o.logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	store.Memory = memoryStore

	o.logger.Info("knowstore initialized",
		"mode", o.config.Mode,
		"vector", o.config.EngineMode(o.config.Vector.Backend),
		"graph", o.config.EngineMode(o.config.Graph.Backend),
		"memory", o.config.EngineMode(o.config.Memory.Backend),
	)
	return store, nil
}

func newVectorStore(cfg *config.Config, logger *slog.Logger) (vector.Store, error) {
	switch cfg.EngineMode(cfg.Vector.Backend) {
	case config.ModeEmbedded:
		return vector.NewLocalStore(cfg.Vector.PersistDir, logger)
	case config.ModeManaged:
		return vector.NewQdrantStore(vector.QdrantOptions{
			Host:   cfg.Vector.QdrantHost,
			Port:   cfg.Vector.QdrantPort,
			APIKey: cfg.Vector.QdrantAPIKey,
			UseTLS: cfg.Vector.QdrantUseTLS,
		}, logger)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "unknown vector backend %q", cfg.Vector.Backend)
	}
}

func newGraphStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (graph.Store, error) {
	switch cfg.EngineMode(cfg.Graph.Backend) {
	case config.ModeEmbedded:
		return graph.NewLocalStore(cfg.Graph.PersistPath, logger)
	case config.ModeManaged:
		return graph.NewNeo4jStore(ctx, graph.Neo4jOptions{
			URI:      cfg.Graph.Neo4jURI,
			User:     cfg.Graph.Neo4jUser,
			Password: cfg.Graph.Neo4jPassword,
			Database: cfg.Graph.Neo4jDatabase,
		}, logger)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "unknown graph backend %q", cfg.Graph.Backend)
	}
}

func newMemoryStore(ctx context.Context, cfg *config.Config, promotion memory.PromotionPolicy, logger *slog.Logger) (memory.Store, error) {
	switch cfg.EngineMode(cfg.Memory.Backend) {
	case config.ModeEmbedded:
		if cfg.Memory.Driver == config.MemoryDriverSqlite {
			return memory.NewSqliteStore(cfg.Memory.SqlitePath, promotion, logger)
		}
		return memory.NewLocalStore(promotion, logger), nil
	case config.ModeManaged:
		return memory.NewDynamoStore(ctx, memory.DynamoOptions{
			Region:       cfg.Memory.DynamoRegion,
			EventsTable:  cfg.Memory.DynamoEventsTable,
			RecordsTable: cfg.Memory.DynamoRecordsTable,
			EventTTL:     cfg.Memory.EventTTL,
		}, promotion, logger)
	default:
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "unknown memory backend %q", cfg.Memory.Backend)
	}
}

// SearchText embeds the query text and runs a vector similarity search.
// It requires an Embedder to have been supplied at construction.
func (s *Store) SearchText(ctx context.Context, index, text string, topK int, filter map[string]any) ([]vector.SearchResult, error) {
	if s.embedder == nil {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "no embedder configured")
	}

	query, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to embed query text")
	}
	return s.Vector.QueryVectors(ctx, index, query, topK, filter)
}

// Close releases every engine that was successfully constructed. Safe to
// call on a partially initialized handle.
func (s *Store) Close() error {
	var firstErr error
	if s.Vector != nil {
		if err := s.Vector.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Graph != nil {
		if err := s.Graph.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.Memory != nil {
		if err := s.Memory.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
