// Package memory implements the append-only event log and the derived
// long-term record store. Events are immutable once appended; records are
// produced as a side effect of ingestion by a promotion policy and can only
// be purged in bulk per actor.
package memory

import (
	"context"
	"time"

	"github.com/axiomkit/knowstore/errors"
)

type (
	Role string

	// Type classifies a long-term record by how it was derived.
	Type string

	// Event is one turn in a conversation log, ordered per (actor, session).
	Event struct {
		ID        string         `json:"id"`
		ActorID   string         `json:"actor_id"`
		SessionID string         `json:"session_id"`
		Role      Role           `json:"role"`
		Content   string         `json:"content"`
		Timestamp time.Time      `json:"timestamp"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}

	// Record is derived long-term memory. Callers never author one directly.
	Record struct {
		ID         string         `json:"id"`
		Content    string         `json:"content"`
		MemoryType Type           `json:"memory_type"`
		Timestamp  time.Time      `json:"timestamp"`
		Score      float64        `json:"score"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}

	Store interface {
		// CreateEvent appends events to the log for their (actor, session)
		// pair and returns one generated id per event, in input order.
		// Appended events are never mutated.
		CreateEvent(ctx context.Context, events []Event) ([]string, error)

		// RetrieveRecords matches query against long-term record content for
		// the actor, optionally restricted by memory type, ranked by
		// relevance score descending.
		RetrieveRecords(ctx context.Context, actorID, query string, limit int, memoryTypes []Type) ([]Record, error)

		// GetSessionHistory returns the most recent limit events of the
		// session in chronological order.
		GetSessionHistory(ctx context.Context, actorID, sessionID string, limit int) ([]Event, error)

		// DeleteActorMemory irreversibly purges the event log and every
		// derived record for the actor.
		DeleteActorMemory(ctx context.Context, actorID string) (bool, error)

		// Stats reports event and record counts for diagnostics.
		Stats(ctx context.Context) (EventStats, error)

		Close() error
	}

	EventStats struct {
		EventCount  int64 `json:"event_count"`
		RecordCount int64 `json:"record_count"`
	}
)

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
	RoleSystem    Role = "SYSTEM"
	RoleTool      Role = "TOOL"

	TypeEpisodic   Type = "episodic"
	TypeSemantic   Type = "semantic"
	TypeReflection Type = "reflection"
)

// validateEvents rejects a batch before anything is appended. Every
// realization calls it first, so a failed call leaves no partial state
// regardless of backend.
func validateEvents(events []Event) error {
	for _, event := range events {
		if event.ActorID == "" || event.SessionID == "" {
			return errors.Wrapf(errors.ErrInvalidParams, "event requires actor_id and session_id")
		}
	}
	return nil
}
