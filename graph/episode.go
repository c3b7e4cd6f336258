package graph

import (
	"context"
	"sort"
	"time"

	"github.com/axiomkit/knowstore/errors"
	"github.com/mokiat/gog"
)

// AddEpisode records a fact with the dual-temporal model: event_time is
// when the fact occurred, ingestion_time is when it reached the store.
func (s *LocalStore) AddEpisode(ctx context.Context, id, content string, eventTime time.Time, source string, metadata map[string]any) (string, error) {
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

// ExtractEntities upserts each entity node and links it to the episode
// with a MENTIONS edge.
func (s *LocalStore) ExtractEntities(ctx context.Context, episodeID string, entities []Node) error {
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

		// One MENTIONS edge per (episode, entity) pair.
		existing, err := s.GetEdges(ctx, episodeID, DirectionOut, EdgeTypeMentions)
		if err != nil {
			return err
		}
		mentioned := false
		for _, edge := range existing {
			if edge.TargetID == entityID {
				mentioned = true
				break
			}
		}
		if mentioned {
			continue
		}

		if _, err := s.CreateEdge(ctx, Edge{
			SourceID: episodeID,
			TargetID: entityID,
			Type:     EdgeTypeMentions,
		}); err != nil {
			return err
		}
	}
	return nil
}

// SearchByTimeRange returns nodes whose event_time lies in the closed
// interval [start, end], most recent first.
func (s *LocalStore) SearchByTimeRange(_ context.Context, start, end time.Time, types []string) ([]Node, error) {
	if end.Before(start) {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "end %s is before start %s", end, start)
	}

	allowed := map[string]struct{}{}
	for _, t := range types {
		allowed[t] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type timedNode struct {
		node      *Node
		eventTime time.Time
	}
	matches := []timedNode{}

	for _, node := range s.nodes {
		if len(allowed) > 0 {
			if _, ok := allowed[node.Type]; !ok {
				continue
			}
		}
		eventTime, ok := propTime(node.Properties, PropEventTime)
		if !ok {
			continue
		}
		if eventTime.Before(start) || eventTime.After(end) {
			continue
		}
		matches = append(matches, timedNode{node: node, eventTime: eventTime})
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].eventTime.Equal(matches[j].eventTime) {
			return matches[i].eventTime.After(matches[j].eventTime)
		}
		return matches[i].node.ID < matches[j].node.ID
	})

	nodes := make([]Node, 0, len(matches))
	for _, match := range matches {
		nodes = append(nodes, *copyNode(match.node))
	}
	return nodes, nil
}

// propTime reads a timestamp property, tolerating both time.Time values
// and their RFC3339 serialized form produced by a persistence round-trip.
func propTime(properties map[string]any, key string) (time.Time, bool) {
	switch v := properties[key].(type) {
	case time.Time:
		return v, true
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, true
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
