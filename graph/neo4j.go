package graph

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/axiomkit/knowstore/errors"
	"github.com/google/uuid"
	"github.com/mokiat/gog"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type (
	// Neo4jStore is the managed realization backed by a Neo4j service.
	// Node types map to labels, the record id lives in an `id` property,
	// and every operation runs its own session.
	Neo4jStore struct {
		driver   neo4j.DriverWithContext
		database string
		logger   *slog.Logger
	}

	Neo4jOptions struct {
		URI      string
		User     string
		Password string
		Database string
	}
)

var _ Store = (*Neo4jStore)(nil)

// labelPattern constrains labels and relationship types, which cannot be
// parameterized in Cypher and would otherwise be an injection vector.
var labelPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func NewNeo4jStore(ctx context.Context, options Neo4jOptions, logger *slog.Logger) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(options.URI, neo4j.BasicAuth(options.User, options.Password, ""))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "failed to create neo4j driver: %v", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "failed to verify neo4j connectivity: %v", err)
	}

	return &Neo4jStore{
		driver:   driver,
		database: options.Database,
		logger:   logger,
	}, nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

func (s *Neo4jStore) CreateNode(ctx context.Context, node Node) (string, error) {
	label := node.Type
	if label == "" {
		label = "Node"
	}
	if !labelPattern.MatchString(label) {
		return "", errors.Wrapf(errors.ErrInvalidParams, "invalid node type %q", label)
	}

	id := node.ID
	if id == "" {
		id = uuid.NewString()
	}

	props := gog.Merge(node.Properties, map[string]any{})
	if node.Embedding != nil {
		props["embedding"] = float32sToAny(node.Embedding)
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf("MERGE (n:%s {id: $id}) SET n += $props RETURN n.id", label)
	if _, err := session.Run(ctx, query, map[string]any{"id": id, "props": props}); err != nil {
		return "", mapNeo4jErr(err)
	}

	s.logger.Debug("created node", "id", id, "type", label)
	return id, nil
}

func (s *Neo4jStore) GetNode(ctx context.Context, id string) (*Node, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (n {id: $id}) RETURN n, labels(n) AS labels", map[string]any{"id": id})
	if err != nil {
		return nil, mapNeo4jErr(err)
	}
	if !result.Next(ctx) {
		return nil, mapNeo4jErr(result.Err())
	}

	record := result.Record()
	rawNode, _ := record.Get("n")
	rawLabels, _ := record.Get("labels")
	node := recordToNode(rawNode.(neo4j.Node), rawLabels)
	return &node, nil
}

func (s *Neo4jStore) UpdateNode(ctx context.Context, id string, properties map[string]any) (bool, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (n {id: $id}) SET n += $props RETURN count(n) AS updated",
		map[string]any{"id": id, "props": properties})
	if err != nil {
		return false, mapNeo4jErr(err)
	}
	return singleCount(ctx, result, "updated")
}

func (s *Neo4jStore) DeleteNode(ctx context.Context, id string) (bool, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH (n {id: $id}) DETACH DELETE n RETURN count(n) AS deleted",
		map[string]any{"id": id})
	if err != nil {
		return false, mapNeo4jErr(err)
	}
	return singleCount(ctx, result, "deleted")
}

func (s *Neo4jStore) CreateEdge(ctx context.Context, edge Edge) (string, error) {
	if !labelPattern.MatchString(edge.Type) {
		return "", errors.Wrapf(errors.ErrInvalidParams, "invalid edge type %q", edge.Type)
	}

	id := edge.ID
	if id == "" {
		id = uuid.NewString()
	}

	props := gog.Merge(edge.Properties, map[string]any{})
	if edge.ValidFrom != nil {
		props["valid_from"] = edge.ValidFrom.UTC().Format(time.RFC3339Nano)
	}
	if edge.ValidTo != nil {
		props["valid_to"] = edge.ValidTo.UTC().Format(time.RFC3339Nano)
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (a {id: $source}), (b {id: $target})
		MERGE (a)-[r:%s {id: $id}]->(b)
		SET r += $props
		RETURN count(r) AS created
	`, edge.Type)
	result, err := session.Run(ctx, query, map[string]any{
		"source": edge.SourceID,
		"target": edge.TargetID,
		"id":     id,
		"props":  props,
	})
	if err != nil {
		return "", mapNeo4jErr(err)
	}

	created, err := singleCount(ctx, result, "created")
	if err != nil {
		return "", err
	}
	if !created {
		// Fail fast: MATCH found no endpoint pair, so nothing was merged.
		return "", errors.Wrapf(errors.ErrInvalidParams, "edge endpoints %q -> %q do not both exist", edge.SourceID, edge.TargetID)
	}
	return id, nil
}

func (s *Neo4jStore) GetEdges(ctx context.Context, nodeID string, direction Direction, edgeType string) ([]Edge, error) {
	typeFilter := ""
	if edgeType != "" {
		if !labelPattern.MatchString(edgeType) {
			return nil, errors.Wrapf(errors.ErrInvalidParams, "invalid edge type %q", edgeType)
		}
		typeFilter = ":" + edgeType
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	edges := []Edge{}
	run := func(query string) error {
		result, err := session.Run(ctx, query, map[string]any{"id": nodeID})
		if err != nil {
			return mapNeo4jErr(err)
		}
		for result.Next(ctx) {
			record := result.Record()
			source, _ := record.Get("source")
			target, _ := record.Get("target")
			relType, _ := record.Get("type")
			rawProps, _ := record.Get("props")
			edges = append(edges, recordToEdge(
				source.(string), target.(string), relType.(string), rawProps.(map[string]any)))
		}
		return mapNeo4jErr(result.Err())
	}

	if direction == DirectionOut || direction == DirectionBoth {
		if err := run(fmt.Sprintf(`
			MATCH (a {id: $id})-[r%s]->(b)
			RETURN a.id AS source, b.id AS target, type(r) AS type, properties(r) AS props
		`, typeFilter)); err != nil {
			return nil, err
		}
	}
	if direction == DirectionIn || direction == DirectionBoth {
		if err := run(fmt.Sprintf(`
			MATCH (a)-[r%s]->(b {id: $id})
			RETURN a.id AS source, b.id AS target, type(r) AS type, properties(r) AS props
		`, typeFilter)); err != nil {
			return nil, err
		}
	}
	if direction != DirectionIn && direction != DirectionOut && direction != DirectionBoth {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "unknown direction %q", direction)
	}
	return edges, nil
}

func (s *Neo4jStore) DeleteEdge(ctx context.Context, id string) (bool, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		"MATCH ()-[r {id: $id}]->() DELETE r RETURN count(r) AS deleted",
		map[string]any{"id": id})
	if err != nil {
		return false, mapNeo4jErr(err)
	}
	return singleCount(ctx, result, "deleted")
}

func (s *Neo4jStore) FindPath(ctx context.Context, sourceID, targetID string, maxDepth int) ([]Node, error) {
	if maxDepth <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "maxDepth must be positive, got %d", maxDepth)
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH path = shortestPath((a {id: $source})-[*..%d]->(b {id: $target}))
		RETURN [n IN nodes(path) | [n, labels(n)]] AS pairs
	`, maxDepth)
	result, err := session.Run(ctx, query, map[string]any{"source": sourceID, "target": targetID})
	if err != nil {
		return nil, mapNeo4jErr(err)
	}
	if !result.Next(ctx) {
		return nil, mapNeo4jErr(result.Err())
	}

	rawPairs, _ := result.Record().Get("pairs")
	pairs, _ := rawPairs.([]any)

	nodes := make([]Node, 0, len(pairs))
	for _, rawPair := range pairs {
		pair := rawPair.([]any)
		nodes = append(nodes, recordToNode(pair[0].(neo4j.Node), pair[1]))
	}
	return nodes, nil
}

func (s *Neo4jStore) GetNeighbors(ctx context.Context, nodeID string, depth int, edgeTypes []string) ([]Node, error) {
	if depth <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "depth must be positive, got %d", depth)
	}
	typeFilter := ""
	if len(edgeTypes) > 0 {
		for _, t := range edgeTypes {
			if !labelPattern.MatchString(t) {
				return nil, errors.Wrapf(errors.ErrInvalidParams, "invalid edge type %q", t)
			}
		}
		typeFilter = ":" + strings.Join(edgeTypes, "|")
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (a {id: $id})-[%s*1..%d]-(b)
		WHERE a <> b
		RETURN DISTINCT b, labels(b) AS labels
	`, typeFilter, depth)
	result, err := session.Run(ctx, query, map[string]any{"id": nodeID})
	if err != nil {
		return nil, mapNeo4jErr(err)
	}

	neighbors := []Node{}
	for result.Next(ctx) {
		record := result.Record()
		rawNode, _ := record.Get("b")
		rawLabels, _ := record.Get("labels")
		neighbors = append(neighbors, recordToNode(rawNode.(neo4j.Node), rawLabels))
	}
	return neighbors, mapNeo4jErr(result.Err())
}

// Query runs a raw Cypher statement. Results are whatever the statement
// returns; this surface is not portable to the embedded realization.
func (s *Neo4jStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, mapNeo4jErr(err)
	}

	records := []map[string]any{}
	for result.Next(ctx) {
		records = append(records, result.Record().AsMap())
	}
	return records, mapNeo4jErr(result.Err())
}

func (s *Neo4jStore) AddEpisode(ctx context.Context, id, content string, eventTime time.Time, source string, metadata map[string]any) (string, error) {
	properties := gog.Merge(metadata, map[string]any{
		"content":         content,
		"source":          source,
		PropEventTime:     eventTime.UTC().Format(time.RFC3339Nano),
		PropIngestionTime: time.Now().UTC().Format(time.RFC3339Nano),
	})

	return s.CreateNode(ctx, Node{
		ID:         id,
		Type:       NodeTypeEpisode,
		Properties: properties,
	})
}

func (s *Neo4jStore) ExtractEntities(ctx context.Context, episodeID string, entities []Node) error {
	episode, err := s.GetNode(ctx, episodeID)
	if err != nil {
		return err
	}
	if episode == nil {
		return errors.Wrapf(errors.ErrNotFound, "episode %q", episodeID)
	}

	for _, entity := range entities {
		entityID, err := s.CreateNode(ctx, entity)
		if err != nil {
			return err
		}

		session := s.session(ctx, neo4j.AccessModeWrite)
		query := fmt.Sprintf(`
			MATCH (e {id: $episode}), (n {id: $entity})
			MERGE (e)-[r:%s]->(n)
			ON CREATE SET r.id = $edgeID
		`, EdgeTypeMentions)
		_, err = session.Run(ctx, query, map[string]any{
			"episode": episodeID,
			"entity":  entityID,
			"edgeID":  uuid.NewString(),
		})
		session.Close(ctx)
		if err != nil {
			return mapNeo4jErr(err)
		}
	}
	return nil
}

func (s *Neo4jStore) SearchByTimeRange(ctx context.Context, start, end time.Time, types []string) ([]Node, error) {
	if end.Before(start) {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "end %s is before start %s", end, start)
	}
	for _, t := range types {
		if !labelPattern.MatchString(t) {
			return nil, errors.Wrapf(errors.ErrInvalidParams, "invalid node type %q", t)
		}
	}

	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n)
		WHERE n.event_time IS NOT NULL
		  AND datetime(n.event_time) >= datetime($start)
		  AND datetime(n.event_time) <= datetime($end)
		  AND (size($types) = 0 OR any(l IN labels(n) WHERE l IN $types))
		RETURN n, labels(n) AS labels
		ORDER BY datetime(n.event_time) DESC
	`, map[string]any{
		"start": start.UTC().Format(time.RFC3339Nano),
		"end":   end.UTC().Format(time.RFC3339Nano),
		"types": types,
	})
	if err != nil {
		return nil, mapNeo4jErr(err)
	}

	nodes := []Node{}
	for result.Next(ctx) {
		record := result.Record()
		rawNode, _ := record.Get("n")
		rawLabels, _ := record.Get("labels")
		nodes = append(nodes, recordToNode(rawNode.(neo4j.Node), rawLabels))
	}
	return nodes, mapNeo4jErr(result.Err())
}

func (s *Neo4jStore) Stats(ctx context.Context) (GraphStats, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n)
		OPTIONAL MATCH ()-[r]->()
		RETURN count(DISTINCT n) AS nodes, count(DISTINCT r) AS edges
	`, nil)
	if err != nil {
		return GraphStats{}, mapNeo4jErr(err)
	}
	if !result.Next(ctx) {
		return GraphStats{}, mapNeo4jErr(result.Err())
	}

	record := result.Record()
	rawNodes, _ := record.Get("nodes")
	rawEdges, _ := record.Get("edges")
	nodes, _ := rawNodes.(int64)
	edges, _ := rawEdges.(int64)
	return GraphStats{NodeCount: nodes, EdgeCount: edges}, nil
}

func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func recordToNode(node neo4j.Node, rawLabels any) Node {
	props := make(map[string]any, len(node.Props))
	for k, v := range node.Props {
		props[k] = v
	}

	id, _ := props["id"].(string)
	delete(props, "id")

	var embedding []float32
	if raw, ok := props["embedding"].([]any); ok {
		embedding = make([]float32, 0, len(raw))
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				embedding = append(embedding, float32(f))
			}
		}
		delete(props, "embedding")
	}

	nodeType := ""
	if labels, ok := rawLabels.([]any); ok && len(labels) > 0 {
		nodeType, _ = labels[0].(string)
	}

	return Node{
		ID:         id,
		Type:       nodeType,
		Properties: props,
		Embedding:  embedding,
	}
}

func recordToEdge(sourceID, targetID, edgeType string, rawProps map[string]any) Edge {
	props := make(map[string]any, len(rawProps))
	for k, v := range rawProps {
		props[k] = v
	}

	id, _ := props["id"].(string)
	delete(props, "id")

	edge := Edge{
		ID:         id,
		SourceID:   sourceID,
		TargetID:   targetID,
		Type:       edgeType,
		Properties: props,
	}
	if raw, ok := props["valid_from"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			edge.ValidFrom = &t
			delete(props, "valid_from")
		}
	}
	if raw, ok := props["valid_to"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			edge.ValidTo = &t
			delete(props, "valid_to")
		}
	}
	return edge
}

func singleCount(ctx context.Context, result neo4j.ResultWithContext, field string) (bool, error) {
	if !result.Next(ctx) {
		return false, mapNeo4jErr(result.Err())
	}
	raw, _ := result.Record().Get(field)
	count, _ := raw.(int64)
	return count > 0, nil
}

func float32sToAny(values []float32) []any {
	result := make([]any, 0, len(values))
	for _, v := range values {
		result = append(result, float64(v))
	}
	return result
}

func mapNeo4jErr(err error) error {
	if err == nil {
		return nil
	}
	if neo4j.IsConnectivityError(err) {
		return errors.Wrapf(errors.ErrUnavailable, "neo4j: %v", err)
	}
	return errors.WithStack(err)
}
