// Package graph implements the property graph engine: typed nodes and
// edges with bounded traversal, shortest path and a dual-temporal episode
// extension, realized either in process or by a managed Neo4j service.
package graph

import (
	"context"
	"time"
)

type Direction string

const (
	DirectionIn   Direction = "in"
	DirectionOut  Direction = "out"
	DirectionBoth Direction = "both"
)

// EdgeTypeMentions links an episode to an entity extracted from it.
const EdgeTypeMentions = "MENTIONS"

// NodeTypeEpisode marks nodes created by AddEpisode.
const NodeTypeEpisode = "Episode"

// Property names carrying the dual-temporal episode timestamps:
// when the fact occurred versus when it was recorded.
const (
	PropEventTime     = "event_time"
	PropIngestionTime = "ingestion_time"
)

type (
	Node struct {
		ID         string         `json:"id"`
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties,omitempty"`
		Embedding  []float32      `json:"embedding,omitempty"`
	}

	Edge struct {
		ID         string         `json:"id"`
		SourceID   string         `json:"source_id"`
		TargetID   string         `json:"target_id"`
		Type       string         `json:"type"`
		Properties map[string]any `json:"properties,omitempty"`

		// The validity interval [ValidFrom, ValidTo) is descriptive
		// metadata only; queries do not enforce it.
		ValidFrom *time.Time `json:"valid_from,omitempty"`
		ValidTo   *time.Time `json:"valid_to,omitempty"`
	}
)

// Store is the graph engine contract. Traversal operations are always
// bounded by a caller-supplied depth and terminate on cyclic graphs;
// queries against absent or disconnected nodes yield empty results, not
// errors.
type Store interface {
	// CreateNode stores the node, generating an id when absent, and
	// returns the id. Creating an existing id is an upsert merge.
	CreateNode(ctx context.Context, node Node) (string, error)

	// GetNode returns the node, or nil when absent.
	GetNode(ctx context.Context, id string) (*Node, error)

	// UpdateNode merges properties into an existing node: incoming keys
	// override, other keys keep their prior value. Returns false when the
	// node does not exist.
	UpdateNode(ctx context.Context, id string, properties map[string]any) (bool, error)

	// DeleteNode removes the node and every incident edge. Returns false
	// when the node does not exist.
	DeleteNode(ctx context.Context, id string) (bool, error)

	// CreateEdge stores the edge, generating an id when absent, and
	// returns the id. Both endpoints must exist.
	CreateEdge(ctx context.Context, edge Edge) (string, error)

	// GetEdges returns edges incident to the node in the given direction,
	// optionally restricted to one edge type.
	GetEdges(ctx context.Context, nodeID string, direction Direction, edgeType string) ([]Edge, error)

	// DeleteEdge removes one edge by id. Returns false when absent.
	DeleteEdge(ctx context.Context, id string) (bool, error)

	// FindPath returns the unweighted shortest path from source to target
	// by hop count, or nil when none exists within maxDepth hops.
	FindPath(ctx context.Context, sourceID, targetID string, maxDepth int) ([]Node, error)

	// GetNeighbors returns all nodes reachable within depth hops in
	// either direction, optionally restricted to edge types, excluding
	// the origin and deduplicated.
	GetNeighbors(ctx context.Context, nodeID string, depth int, edgeTypes []string) ([]Node, error)

	// Query executes a backend-native query. It is an escape hatch and
	// explicitly non-portable across backends.
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)

	// AddEpisode creates an episode node carrying both event_time (when
	// the fact occurred) and ingestion_time (when it was recorded).
	AddEpisode(ctx context.Context, id, content string, eventTime time.Time, source string, metadata map[string]any) (string, error)

	// ExtractEntities upserts each entity and links it to the episode
	// with a MENTIONS edge.
	ExtractEntities(ctx context.Context, episodeID string, entities []Node) error

	// SearchByTimeRange returns nodes whose event_time falls in the
	// closed interval [start, end], most recent first, optionally
	// restricted to node types.
	SearchByTimeRange(ctx context.Context, start, end time.Time, types []string) ([]Node, error)

	// Stats reports node and edge counts for diagnostics.
	Stats(ctx context.Context) (GraphStats, error)

	// Close releases backend resources.
	Close() error
}

type GraphStats struct {
	NodeCount int64 `json:"node_count"`
	EdgeCount int64 `json:"edge_count"`
}
