package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/axiomkit/knowstore/errors"
	"github.com/google/uuid"
	"github.com/mokiat/gog"
	"github.com/samber/lo"
)

// LocalStore is the embedded in-process realization. Events live in one
// append-ordered slice per (actor, session) and records in a per-actor
// slice. A store-level RWMutex serializes writers.
type LocalStore struct {
	mu        sync.RWMutex
	events    map[sessionKey][]Event
	records   map[string][]Record
	promotion PromotionPolicy
	logger    *slog.Logger
}

type sessionKey struct {
	actorID   string
	sessionID string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(promotion PromotionPolicy, logger *slog.Logger) *LocalStore {
	if promotion == nil {
		promotion = DefaultPromotionPolicy()
	}
	return &LocalStore{
		events:    make(map[sessionKey][]Event),
		records:   make(map[string][]Record),
		promotion: promotion,
		logger:    logger,
	}
}

func (s *LocalStore) CreateEvent(_ context.Context, events []Event) ([]string, error) {
	if err := validateEvents(events); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(events))
	for _, event := range events {
		event.ID = uuid.NewString()
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}

		key := sessionKey{actorID: event.ActorID, sessionID: event.SessionID}
		s.events[key] = append(s.events[key], event)
		ids = append(ids, event.ID)

		if record := s.promotion.Promote(event); record != nil {
			s.records[event.ActorID] = append(s.records[event.ActorID], *record)
			s.logger.Debug("promoted event to long-term record",
				"actor_id", event.ActorID, "record_id", record.ID, "memory_type", record.MemoryType)
		}
	}

	s.logger.Debug("created events", "count", len(events))
	return ids, nil
}

func (s *LocalStore) RetrieveRecords(_ context.Context, actorID, query string, limit int, memoryTypes []Type) ([]Record, error) {
	if limit <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "limit must be positive, got %d", limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	queryWords := lo.Uniq(strings.Fields(strings.ToLower(query)))
	allowed := make(map[Type]struct{}, len(memoryTypes))
	for _, t := range memoryTypes {
		allowed[t] = struct{}{}
	}

	results := []Record{}
	for _, record := range s.records[actorID] {
		if len(allowed) > 0 {
			if _, ok := allowed[record.MemoryType]; !ok {
				continue
			}
		}

		score := overlapScore(queryWords, record.Content)
		if score <= 0 {
			continue
		}

		record.Score = score
		if record.Metadata != nil {
			record.Metadata = gog.Merge(record.Metadata)
		}
		results = append(results, record)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *LocalStore) GetSessionHistory(_ context.Context, actorID, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "limit must be positive, got %d", limit)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.events[sessionKey{actorID: actorID, sessionID: sessionID}]
	if len(log) > limit {
		log = log[len(log)-limit:]
	}

	history := make([]Event, len(log))
	copy(history, log)
	for i := range history {
		if history[i].Metadata != nil {
			history[i].Metadata = gog.Merge(history[i].Metadata)
		}
	}
	return history, nil
}

func (s *LocalStore) DeleteActorMemory(_ context.Context, actorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.events {
		if key.actorID == actorID {
			delete(s.events, key)
		}
	}
	delete(s.records, actorID)

	s.logger.Info("deleted all memory for actor", "actor_id", actorID)
	return true, nil
}

func (s *LocalStore) Stats(_ context.Context) (EventStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats EventStats
	for _, log := range s.events {
		stats.EventCount += int64(len(log))
	}
	for _, records := range s.records {
		stats.RecordCount += int64(len(records))
	}
	return stats, nil
}

func (s *LocalStore) Close() error {
	return nil
}

// overlapScore is the share of query words present in content. Both sides
// are lowercased and whitespace-tokenized.
func overlapScore(queryWords []string, content string) float64 {
	if len(queryWords) == 0 {
		return 0
	}

	contentWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(content)) {
		contentWords[w] = struct{}{}
	}

	matched := lo.CountBy(queryWords, func(w string) bool {
		_, ok := contentWords[w]
		return ok
	})
	return float64(matched) / float64(len(queryWords))
}
