// Package vector implements the vector similarity engine: a named-index
// store of fixed-dimension embeddings with metadata filtering and cosine
// ranking, realized either in process or by a managed Qdrant service.
package vector

import (
	"context"
	"reflect"
)

type Metric string

const (
	MetricCosine Metric = "cosine"
)

type (
	// Record is a stored vector keyed by a caller-supplied string.
	Record struct {
		Key       string         `json:"key"`
		Vector    []float32      `json:"vector"`
		Metadata  map[string]any `json:"metadata,omitempty"`
		Namespace string         `json:"namespace,omitempty"`
	}

	// SearchResult is one ranked hit of a similarity query.
	SearchResult struct {
		Key      string         `json:"key"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata,omitempty"`
		Content  string         `json:"content,omitempty"`
	}
)

// Store is the vector engine contract. Every realization must preserve the
// same observable semantics: cosine scores, exact-match metadata filtering
// applied before ranking, descending order with stable ties, and per-item
// skipping of dimension-mismatched records in a batch (surfaced through the
// returned count, never through an error).
type Store interface {
	// CreateIndex creates a named index bound to the given dimension.
	// Creating an index that already exists is idempotent within one
	// backend.
	CreateIndex(ctx context.Context, name string, dimension int, metric Metric) error

	// DeleteIndex removes an index and all its vectors.
	DeleteIndex(ctx context.Context, name string) error

	// PutVectors upserts records keyed by Record.Key and returns how many
	// were accepted. Records whose vector length differs from the index
	// dimension are skipped and the batch continues.
	PutVectors(ctx context.Context, index string, records []Record) (int, error)

	// QueryVectors ranks stored vectors by cosine similarity to the query,
	// after applying the optional exact-match metadata filter, truncated
	// to topK. A zero-norm query yields an empty result.
	QueryVectors(ctx context.Context, index string, query []float32, topK int, filter map[string]any) ([]SearchResult, error)

	// DeleteVectors removes the given keys and returns how many existed.
	DeleteVectors(ctx context.Context, index string, keys []string) (int, error)

	// GetVector returns the record for key, or nil when absent.
	GetVector(ctx context.Context, index string, key string) (*Record, error)

	// ListIndices returns the known index names, sorted.
	ListIndices(ctx context.Context) ([]string, error)

	// Stats describes one index for diagnostics.
	Stats(ctx context.Context, name string) (*IndexStats, error)

	// Close releases backend resources.
	Close() error
}

// IndexStats describes one index for introspection.
type IndexStats struct {
	Name        string `json:"name"`
	Dimension   int    `json:"dimension"`
	Metric      Metric `json:"metric"`
	VectorCount int    `json:"vector_count"`
}

// matchFilter reports whether metadata satisfies every filter entry
// exactly. An empty filter matches everything.
func matchFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
