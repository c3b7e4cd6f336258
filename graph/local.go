package graph

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/axiomkit/knowstore/errors"
	"github.com/google/uuid"
	"github.com/mokiat/gog"
)

type (
	// LocalStore is the embedded realization: an arena of nodes and edges
	// keyed by id with explicit adjacency sets, guarded by one RWMutex.
	// All traversal is iterative and bounded by the caller's depth, so
	// cyclic graphs always terminate. When a persist path is configured
	// the whole graph is written as one node-link JSON document after
	// every mutation.
	LocalStore struct {
		mu          sync.RWMutex
		persistPath string
		logger      *slog.Logger

		nodes map[string]*Node
		edges map[string]*Edge
		out   map[string]map[string]struct{} // node id -> outgoing edge ids
		in    map[string]map[string]struct{} // node id -> incoming edge ids
	}

	// nodeLinkDocument is the persisted layout: a directed node-link
	// document with all nodes and links in one file.
	nodeLinkDocument struct {
		Directed bool    `json:"directed"`
		Nodes    []*Node `json:"nodes"`
		Links    []*Edge `json:"links"`
	}
)

var _ Store = (*LocalStore)(nil)

func NewLocalStore(persistPath string, logger *slog.Logger) (*LocalStore, error) {
	s := &LocalStore{
		persistPath: persistPath,
		logger:      logger,
		nodes:       make(map[string]*Node),
		edges:       make(map[string]*Edge),
		out:         make(map[string]map[string]struct{}),
		in:          make(map[string]map[string]struct{}),
	}
	if err := s.loadFromDisk(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) CreateNode(_ context.Context, node Node) (string, error) {
	id := node.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.nodes[id]; ok {
		// Create-or-merge: incoming properties override same-key existing
		// ones, all others are preserved.
		existing.Properties = gog.Merge(existing.Properties, node.Properties)
		if node.Type != "" {
			existing.Type = node.Type
		}
		if node.Embedding != nil {
			existing.Embedding = node.Embedding
		}
	} else {
		stored := node
		stored.ID = id
		if stored.Properties == nil {
			stored.Properties = map[string]any{}
		}
		s.nodes[id] = &stored
	}

	s.logger.Debug("created node", "id", id, "type", node.Type)
	return id, s.persist()
}

func (s *LocalStore) GetNode(_ context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, nil
	}
	return copyNode(node), nil
}

func (s *LocalStore) UpdateNode(_ context.Context, id string, properties map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[id]
	if !ok {
		return false, nil
	}
	node.Properties = gog.Merge(node.Properties, properties)
	return true, s.persist()
}

func (s *LocalStore) DeleteNode(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return false, nil
	}

	// Cascade to every incident edge so no dangling edges remain.
	for edgeID := range s.out[id] {
		s.removeEdgeLocked(edgeID)
	}
	for edgeID := range s.in[id] {
		s.removeEdgeLocked(edgeID)
	}
	delete(s.out, id)
	delete(s.in, id)
	delete(s.nodes, id)

	return true, s.persist()
}

func (s *LocalStore) CreateEdge(_ context.Context, edge Edge) (string, error) {
	id := edge.ID
	if id == "" {
		id = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Fail fast on a missing endpoint; a silently dropped edge is worse
	// than a rejected one.
	if _, ok := s.nodes[edge.SourceID]; !ok {
		return "", errors.Wrapf(errors.ErrInvalidParams, "source node %q does not exist", edge.SourceID)
	}
	if _, ok := s.nodes[edge.TargetID]; !ok {
		return "", errors.Wrapf(errors.ErrInvalidParams, "target node %q does not exist", edge.TargetID)
	}

	stored := edge
	stored.ID = id
	if stored.Properties == nil {
		stored.Properties = map[string]any{}
	}
	s.edges[id] = &stored

	if s.out[edge.SourceID] == nil {
		s.out[edge.SourceID] = make(map[string]struct{})
	}
	if s.in[edge.TargetID] == nil {
		s.in[edge.TargetID] = make(map[string]struct{})
	}
	s.out[edge.SourceID][id] = struct{}{}
	s.in[edge.TargetID][id] = struct{}{}

	s.logger.Debug("created edge", "id", id, "source", edge.SourceID, "target", edge.TargetID, "type", edge.Type)
	return id, s.persist()
}

func (s *LocalStore) GetEdges(_ context.Context, nodeID string, direction Direction, edgeType string) ([]Edge, error) {
	switch direction {
	case DirectionIn, DirectionOut, DirectionBoth:
	default:
		return nil, errors.Wrapf(errors.ErrInvalidParams, "unknown direction %q", direction)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := []Edge{}
	collect := func(ids map[string]struct{}) {
		for id := range ids {
			edge := s.edges[id]
			if edgeType != "" && edge.Type != edgeType {
				continue
			}
			copied := *edge
			if edge.Properties != nil {
				copied.Properties = gog.Merge(edge.Properties)
			}
			edges = append(edges, copied)
		}
	}

	if direction == DirectionOut || direction == DirectionBoth {
		collect(s.out[nodeID])
	}
	if direction == DirectionIn || direction == DirectionBoth {
		collect(s.in[nodeID])
	}

	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

func (s *LocalStore) DeleteEdge(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.edges[id]; !ok {
		return false, nil
	}
	s.removeEdgeLocked(id)
	return true, s.persist()
}

func (s *LocalStore) FindPath(_ context.Context, sourceID, targetID string, maxDepth int) ([]Node, error) {
	if maxDepth <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "maxDepth must be positive, got %d", maxDepth)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[sourceID]; !ok {
		return nil, nil
	}
	if _, ok := s.nodes[targetID]; !ok {
		return nil, nil
	}
	if sourceID == targetID {
		return []Node{*copyNode(s.nodes[sourceID])}, nil
	}

	// Breadth-first over outgoing edges, bounded by maxDepth hops.
	parents := map[string]string{sourceID: ""}
	frontier := []string{sourceID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := []string{}
		for _, current := range frontier {
			for edgeID := range s.out[current] {
				neighbor := s.edges[edgeID].TargetID
				if _, visited := parents[neighbor]; visited {
					continue
				}
				parents[neighbor] = current
				if neighbor == targetID {
					return s.buildPathLocked(parents, sourceID, targetID), nil
				}
				next = append(next, neighbor)
			}
		}
		frontier = next
	}
	return nil, nil
}

func (s *LocalStore) buildPathLocked(parents map[string]string, sourceID, targetID string) []Node {
	ids := []string{}
	for current := targetID; current != ""; current = parents[current] {
		ids = append(ids, current)
		if current == sourceID {
			break
		}
	}

	path := make([]Node, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		path = append(path, *copyNode(s.nodes[ids[i]]))
	}
	return path
}

func (s *LocalStore) GetNeighbors(_ context.Context, nodeID string, depth int, edgeTypes []string) ([]Node, error) {
	if depth <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "depth must be positive, got %d", depth)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[nodeID]; !ok {
		return []Node{}, nil
	}

	allowed := map[string]struct{}{}
	for _, t := range edgeTypes {
		allowed[t] = struct{}{}
	}
	typeAllowed := func(t string) bool {
		if len(allowed) == 0 {
			return true
		}
		_, ok := allowed[t]
		return ok
	}

	visited := map[string]struct{}{nodeID: {}}
	frontier := []string{nodeID}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := []string{}
		expand := func(neighbor string) {
			if _, seen := visited[neighbor]; seen {
				return
			}
			visited[neighbor] = struct{}{}
			next = append(next, neighbor)
		}

		for _, current := range frontier {
			for edgeID := range s.out[current] {
				edge := s.edges[edgeID]
				if typeAllowed(edge.Type) {
					expand(edge.TargetID)
				}
			}
			for edgeID := range s.in[current] {
				edge := s.edges[edgeID]
				if typeAllowed(edge.Type) {
					expand(edge.SourceID)
				}
			}
		}
		frontier = next
	}

	delete(visited, nodeID)
	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	neighbors := make([]Node, 0, len(ids))
	for _, id := range ids {
		neighbors = append(neighbors, *copyNode(s.nodes[id]))
	}
	return neighbors, nil
}

// Query is limited to a full node dump in the embedded realization; a raw
// query language only exists behind a managed backend.
func (s *LocalStore) Query(_ context.Context, query string, _ map[string]any) ([]map[string]any, error) {
	s.logger.Warn("embedded graph store only supports a node dump for raw queries", "query", query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	results := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		node := s.nodes[id]
		results = append(results, map[string]any{
			"id":         node.ID,
			"type":       node.Type,
			"properties": node.Properties,
		})
	}
	return results, nil
}

func (s *LocalStore) Close() error {
	return nil
}

func (s *LocalStore) Stats(_ context.Context) (GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return GraphStats{
		NodeCount: int64(len(s.nodes)),
		EdgeCount: int64(len(s.edges)),
	}, nil
}

// Clear removes all nodes and edges.
func (s *LocalStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = make(map[string]*Node)
	s.edges = make(map[string]*Edge)
	s.out = make(map[string]map[string]struct{})
	s.in = make(map[string]map[string]struct{})
	return s.persist()
}

// removeEdgeLocked detaches one edge from both adjacency sets. Callers
// hold the write lock.
func (s *LocalStore) removeEdgeLocked(id string) {
	edge, ok := s.edges[id]
	if !ok {
		return
	}
	delete(s.out[edge.SourceID], id)
	delete(s.in[edge.TargetID], id)
	delete(s.edges, id)
}

// copyNode detaches the returned node from store state; mutating the
// result must never change what is stored.
func copyNode(node *Node) *Node {
	copied := *node
	if node.Properties != nil {
		copied.Properties = gog.Merge(node.Properties)
	}
	return &copied
}

// persist writes the node-link document. Callers hold the write lock.
func (s *LocalStore) persist() error {
	if s.persistPath == "" {
		return nil
	}

	doc := nodeLinkDocument{Directed: true}
	for _, node := range s.nodes {
		doc.Nodes = append(doc.Nodes, node)
	}
	for _, edge := range s.edges {
		doc.Links = append(doc.Links, edge)
	}
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	sort.Slice(doc.Links, func(i, j int) bool { return doc.Links[i].ID < doc.Links[j].ID })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize graph")
	}
	if err := os.MkdirAll(filepath.Dir(s.persistPath), 0755); err != nil {
		return errors.Wrapf(err, "failed to create graph directory")
	}
	if err := os.WriteFile(s.persistPath, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write graph file %s", s.persistPath)
	}
	return nil
}

func (s *LocalStore) loadFromDisk() error {
	if s.persistPath == "" {
		return nil
	}
	data, err := os.ReadFile(s.persistPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "failed to read graph file %s", s.persistPath)
	}

	var doc nodeLinkDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return errors.Wrapf(err, "failed to parse graph file %s", s.persistPath)
	}

	for _, node := range doc.Nodes {
		if node.Properties == nil {
			node.Properties = map[string]any{}
		}
		s.nodes[node.ID] = node
	}
	for _, edge := range doc.Links {
		if _, ok := s.nodes[edge.SourceID]; !ok {
			continue
		}
		if _, ok := s.nodes[edge.TargetID]; !ok {
			continue
		}
		if edge.Properties == nil {
			edge.Properties = map[string]any{}
		}
		s.edges[edge.ID] = edge
		if s.out[edge.SourceID] == nil {
			s.out[edge.SourceID] = make(map[string]struct{})
		}
		if s.in[edge.TargetID] == nil {
			s.in[edge.TargetID] = make(map[string]struct{})
		}
		s.out[edge.SourceID][edge.ID] = struct{}{}
		s.in[edge.TargetID][edge.ID] = struct{}{}
	}

	s.logger.Info("loaded graph from disk", "nodes", len(s.nodes), "edges", len(s.edges))
	return nil
}
