package memory_test

import (
	"strings"
	"testing"
	"time"

	"github.com/axiomkit/knowstore/internal/mylog"
	"github.com/axiomkit/knowstore/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentLengthPolicy(t *testing.T) {
	policy := memory.ContentLengthPolicy{Threshold: 10, Score: 0.5}

	assert.Nil(t, policy.Promote(memory.Event{Content: "short"}))
	assert.Nil(t, policy.Promote(memory.Event{Content: strings.Repeat("x", 10)}), "threshold is exclusive")

	event := memory.Event{
		ID:        "ev-1",
		ActorID:   "user-1",
		SessionID: "sess-1",
		Content:   strings.Repeat("x", 11),
		Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Metadata:  map[string]any{"topic": "infra"},
	}
	record := policy.Promote(event)
	require.NotNil(t, record)
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, event.Content, record.Content)
	assert.Equal(t, memory.TypeSemantic, record.MemoryType)
	assert.Equal(t, 0.5, record.Score)
	assert.True(t, record.Timestamp.Equal(event.Timestamp))
	assert.Equal(t, "event", record.Metadata["source"])
	assert.Equal(t, "ev-1", record.Metadata["source_event_id"])
	assert.Equal(t, "sess-1", record.Metadata["session_id"])
	assert.Equal(t, "infra", record.Metadata["topic"])
}

func TestPromotionKeepsSourceKeys(t *testing.T) {
	policy := memory.ContentLengthPolicy{Threshold: 10, Score: 0.5}

	record := policy.Promote(memory.Event{
		ID:        "ev-9",
		ActorID:   "user-1",
		SessionID: "sess-9",
		Content:   strings.Repeat("x", 11),
		Metadata: map[string]any{
			"topic":           "infra",
			"source_event_id": "spoofed",
			"session_id":      "spoofed",
		},
	})
	require.NotNil(t, record)

	assert.Equal(t, "infra", record.Metadata["topic"])
	assert.Equal(t, "ev-9", record.Metadata["source_event_id"], "caller metadata cannot break event traceability")
	assert.Equal(t, "sess-9", record.Metadata["session_id"])
	assert.Equal(t, "event", record.Metadata["source"])
}

func TestNoPromotionPolicy(t *testing.T) {
	policy := memory.NoPromotionPolicy{}
	assert.Nil(t, policy.Promote(memory.Event{Content: strings.Repeat("x", 1000)}))
}

// The append path must accept any policy without modification.
func TestCustomPolicyPluggedIntoStore(t *testing.T) {
	type keywordPolicy struct{ memory.NoPromotionPolicy }

	store := memory.NewLocalStore(keywordPolicy{}, mylog.NewLogger("error", "default"))
	ctx := t.Context()

	_, err := store.CreateEvent(ctx, []memory.Event{{
		ActorID:   "user-1",
		SessionID: "sess-1",
		Role:      memory.RoleUser,
		Content:   strings.Repeat("would normally be promoted ", 10),
	}})
	require.NoError(t, err)

	records, err := store.RetrieveRecords(ctx, "user-1", "promoted", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, records, "the policy decides, not the append path")
}
