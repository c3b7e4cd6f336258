package memory

import (
	"time"

	"github.com/google/uuid"
	"github.com/mokiat/gog"
)

type (
	// PromotionPolicy decides, after each append, whether an event deserves
	// a derived long-term record. Implementations must be safe for
	// concurrent use; the append path calls Promote synchronously.
	PromotionPolicy interface {
		// Promote returns the record to derive from the event, or nil when
		// the event stays short-term only.
		Promote(event Event) *Record
	}

	// ContentLengthPolicy promotes events whose content exceeds a length
	// threshold into semantic records with a fixed relevance score.
	ContentLengthPolicy struct {
		Threshold int
		Score     float64
	}

	// NoPromotionPolicy never derives records.
	NoPromotionPolicy struct{}
)

func DefaultPromotionPolicy() PromotionPolicy {
	return ContentLengthPolicy{Threshold: 100, Score: 0.5}
}

func (p ContentLengthPolicy) Promote(event Event) *Record {
	if len(event.Content) <= p.Threshold {
		return nil
	}

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return &Record{
		ID:         uuid.NewString(),
		Content:    event.Content,
		MemoryType: TypeSemantic,
		Timestamp:  timestamp,
		Score:      p.Score,
		// Caller metadata is carried along, but the source-event keys
		// always win so the record stays traceable to its event.
		Metadata: gog.Merge(event.Metadata, map[string]any{
			"source":          "event",
			"source_event_id": event.ID,
			"session_id":      event.SessionID,
		}),
	}
}

func (NoPromotionPolicy) Promote(Event) *Record {
	return nil
}
