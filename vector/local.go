package vector

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/axiomkit/knowstore/errors"
	"github.com/google/uuid"
	"github.com/mokiat/gog"
)

type (
	// LocalStore is the embedded realization. All indices live in process
	// memory; when a persist directory is configured, the full state of an
	// index (dimension, metric, vectors and metadata) is written to one
	// JSON file per index after every mutating call, so a process restart
	// recovers everything without a server.
	LocalStore struct {
		mu         sync.RWMutex
		persistDir string
		logger     *slog.Logger
		indices    map[string]*localIndex
	}

	localIndex struct {
		Dimension int
		Metric    Metric
		vectors   map[string]*Record
		order     []string // insertion order, for stable tie-breaking
	}

	// indexFile is the persisted layout:
	// {dimension, metric, vectors: {key -> {vector, metadata, namespace}}}
	indexFile struct {
		Dimension int                `json:"dimension"`
		Metric    Metric             `json:"metric"`
		Vectors   map[string]*Record `json:"vectors"`
	}
)

var _ Store = (*LocalStore)(nil)

func NewLocalStore(persistDir string, logger *slog.Logger) (*LocalStore, error) {
	s := &LocalStore{
		persistDir: persistDir,
		logger:     logger,
		indices:    make(map[string]*localIndex),
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) CreateIndex(_ context.Context, name string, dimension int, metric Metric) error {
	if name == "" {
		return errors.Wrapf(errors.ErrInvalidParams, "index name is empty")
	}
	if dimension <= 0 {
		return errors.Wrapf(errors.ErrInvalidParams, "dimension must be positive, got %d", dimension)
	}
	if metric == "" {
		metric = MetricCosine
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[name]; ok {
		s.logger.Warn("index already exists", "index", name)
		return nil
	}

	s.indices[name] = &localIndex{
		Dimension: dimension,
		Metric:    metric,
		vectors:   make(map[string]*Record),
	}
	s.logger.Info("created index", "index", name, "dimension", dimension, "metric", metric)
	return s.persistIndex(name)
}

func (s *LocalStore) DeleteIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.indices[name]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "index %q", name)
	}
	delete(s.indices, name)
	s.logger.Info("deleted index", "index", name)

	if s.persistDir != "" {
		if err := os.Remove(s.indexPath(name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove index file for %q", name)
		}
	}
	return nil
}

func (s *LocalStore) PutVectors(_ context.Context, index string, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indices[index]
	if !ok {
		return 0, errors.Wrapf(errors.ErrNotFound, "index %q", index)
	}

	count := 0
	for _, record := range records {
		if len(record.Vector) != idx.Dimension {
			s.logger.Warn("skipping vector with mismatched dimension",
				"index", index, "key", record.Key,
				"expected", idx.Dimension, "got", len(record.Vector))
			continue
		}

		key := record.Key
		if key == "" {
			key = uuid.NewString()
		}
		stored := record
		stored.Key = key

		if _, exists := idx.vectors[key]; !exists {
			idx.order = append(idx.order, key)
		}
		idx.vectors[key] = &stored
		count++
	}

	if count > 0 {
		if err := s.persistIndex(index); err != nil {
			return count, err
		}
	}
	return count, nil
}

func (s *LocalStore) QueryVectors(_ context.Context, index string, query []float32, topK int, filter map[string]any) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "topK must be positive, got %d", topK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[index]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "index %q", index)
	}
	if len(query) != idx.Dimension {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "query dimension %d does not match index dimension %d", len(query), idx.Dimension)
	}

	// Filter before ranking, walking keys in insertion order so equal
	// scores keep a deterministic order.
	candidates := make([]*Record, 0, len(idx.order))
	for _, key := range idx.order {
		record := idx.vectors[key]
		if len(filter) > 0 && !matchFilter(record.Metadata, filter) {
			continue
		}
		candidates = append(candidates, record)
	}
	if len(candidates) == 0 {
		return []SearchResult{}, nil
	}

	vectors := make([][]float32, len(candidates))
	for i, record := range candidates {
		vectors[i] = record.Vector
	}

	scores := cosineScores(query, vectors)
	if scores == nil {
		s.logger.Warn("query vector has zero norm", "index", index)
		return []SearchResult{}, nil
	}

	results := make([]SearchResult, 0, len(candidates))
	for i, record := range candidates {
		if scores[i] != scores[i] { // NaN: zero-norm candidate
			continue
		}
		results = append(results, SearchResult{
			Key:      record.Key,
			Score:    scores[i],
			Metadata: cloneMeta(record.Metadata),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *LocalStore) DeleteVectors(_ context.Context, index string, keys []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indices[index]
	if !ok {
		return 0, errors.Wrapf(errors.ErrNotFound, "index %q", index)
	}

	removed := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := idx.vectors[key]; ok {
			delete(idx.vectors, key)
			removed[key] = struct{}{}
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}

	order := idx.order[:0]
	for _, key := range idx.order {
		if _, gone := removed[key]; !gone {
			order = append(order, key)
		}
	}
	idx.order = order

	if err := s.persistIndex(index); err != nil {
		return len(removed), err
	}
	return len(removed), nil
}

func (s *LocalStore) GetVector(_ context.Context, index string, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[index]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "index %q", index)
	}

	record, ok := idx.vectors[key]
	if !ok {
		return nil, nil
	}
	copied := *record
	copied.Metadata = cloneMeta(record.Metadata)
	return &copied, nil
}

// cloneMeta detaches returned metadata from store state; mutating the
// result must never change what is stored.
func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return gog.Merge(m)
}

func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) ListIndices(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.indices))
	for name := range s.indices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *LocalStore) Stats(_ context.Context, name string) (*IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indices[name]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "index %q", name)
	}
	return &IndexStats{
		Name:        name,
		Dimension:   idx.Dimension,
		Metric:      idx.Metric,
		VectorCount: len(idx.vectors),
	}, nil
}

func (s *LocalStore) indexPath(name string) string {
	return filepath.Join(s.persistDir, name+".json")
}

// persistIndex writes the full index state to its file. Callers hold the
// write lock.
func (s *LocalStore) persistIndex(name string) error {
	if s.persistDir == "" {
		return nil
	}
	idx, ok := s.indices[name]
	if !ok {
		return nil
	}

	if err := os.MkdirAll(s.persistDir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create persist directory %s", s.persistDir)
	}

	data, err := json.MarshalIndent(indexFile{
		Dimension: idx.Dimension,
		Metric:    idx.Metric,
		Vectors:   idx.vectors,
	}, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize index %q", name)
	}
	if err := os.WriteFile(s.indexPath(name), data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write index file for %q", name)
	}
	return nil
}

func (s *LocalStore) loadFromDisk() error {
	if s.persistDir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.persistDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read persist directory %s", s.persistDir)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.persistDir, entry.Name()))
		if err != nil {
			return errors.Wrapf(err, "failed to read index file %s", entry.Name())
		}

		var file indexFile
		if err := json.Unmarshal(data, &file); err != nil {
			s.logger.Error("skipping corrupt index file", "file", entry.Name(), "error", err)
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ".json")
		idx := &localIndex{
			Dimension: file.Dimension,
			Metric:    file.Metric,
			vectors:   file.Vectors,
		}
		if idx.vectors == nil {
			idx.vectors = make(map[string]*Record)
		}
		// The persisted layout keys vectors by name, so the original
		// insertion order is not recoverable; rebuild deterministically.
		for key := range idx.vectors {
			idx.order = append(idx.order, key)
		}
		sort.Strings(idx.order)

		s.indices[name] = idx
		s.logger.Info("loaded index from disk", "index", name, "vectors", len(idx.vectors))
	}
	return nil
}
