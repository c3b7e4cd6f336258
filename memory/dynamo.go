package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/axiomkit/knowstore/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

type (
	// DynamoStore is the managed realization backed by DynamoDB, a keyed
	// store with explicit per-event expiry. Events hash on actor id and
	// range on a session-prefixed sequence key, so one query serves both
	// session history and whole-actor purges.
	DynamoStore struct {
		client       *dynamodb.Client
		eventsTable  string
		recordsTable string
		eventTTL     time.Duration
		promotion    PromotionPolicy
		logger       *slog.Logger
	}

	DynamoOptions struct {
		Region       string
		EventsTable  string
		RecordsTable string
		EventTTL     time.Duration
	}

	dynamoEvent struct {
		ActorID   string         `dynamodbav:"actor_id"`
		SortKey   string         `dynamodbav:"sk"`
		EventID   string         `dynamodbav:"event_id"`
		SessionID string         `dynamodbav:"session_id"`
		Role      string         `dynamodbav:"role"`
		Content   string         `dynamodbav:"content"`
		Timestamp string         `dynamodbav:"timestamp"`
		Metadata  map[string]any `dynamodbav:"metadata,omitempty"`
		ExpiresAt int64          `dynamodbav:"expires_at,omitempty"`
	}

	dynamoRecord struct {
		ActorID    string         `dynamodbav:"actor_id"`
		RecordID   string         `dynamodbav:"record_id"`
		Content    string         `dynamodbav:"content"`
		MemoryType string         `dynamodbav:"memory_type"`
		Timestamp  string         `dynamodbav:"timestamp"`
		Score      float64        `dynamodbav:"score"`
		Metadata   map[string]any `dynamodbav:"metadata,omitempty"`
	}
)

var _ Store = (*DynamoStore)(nil)

const dynamoBatchLimit = 25

func NewDynamoStore(ctx context.Context, options DynamoOptions, promotion PromotionPolicy, logger *slog.Logger) (*DynamoStore, error) {
	if options.EventsTable == "" || options.RecordsTable == "" {
		return nil, errors.Wrapf(errors.ErrInvalidConfig, "dynamo events and records table names are required")
	}
	if promotion == nil {
		promotion = DefaultPromotionPolicy()
	}

	var loadOptions []func(*awsconfig.LoadOptions) error
	if options.Region != "" {
		loadOptions = append(loadOptions, awsconfig.WithRegion(options.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "failed to load aws config: %v", err)
	}

	return &DynamoStore{
		client:       dynamodb.NewFromConfig(cfg),
		eventsTable:  options.EventsTable,
		recordsTable: options.RecordsTable,
		eventTTL:     options.EventTTL,
		promotion:    promotion,
		logger:       logger,
	}, nil
}

// sessionPrefix is the range-key prefix shared by all events of one session.
// The length prefix keeps sessions disjoint under begins_with even when a
// session id itself contains the separator.
func sessionPrefix(sessionID string) string {
	return fmt.Sprintf("%d#%s#", len(sessionID), sessionID)
}

// sortKey range-orders events within a session. The zero-padded sequence is
// nanoseconds plus the batch offset, so events appended in one call keep
// their input order even at identical wall-clock readings.
func sortKey(sessionID string, seq int64) string {
	return fmt.Sprintf("%s%020d", sessionPrefix(sessionID), seq)
}

func (s *DynamoStore) CreateEvent(ctx context.Context, events []Event) ([]string, error) {
	if err := validateEvents(events); err != nil {
		return nil, err
	}

	base := time.Now().UnixNano()
	ids := make([]string, 0, len(events))

	for i, event := range events {
		event.ID = uuid.NewString()
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now()
		}

		item := dynamoEvent{
			ActorID:   event.ActorID,
			SortKey:   sortKey(event.SessionID, base+int64(i)),
			EventID:   event.ID,
			SessionID: event.SessionID,
			Role:      string(event.Role),
			Content:   event.Content,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
			Metadata:  event.Metadata,
		}
		if s.eventTTL > 0 {
			item.ExpiresAt = time.Now().Add(s.eventTTL).Unix()
		}

		attrs, err := attributevalue.MarshalMap(item)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal event")
		}
		if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.eventsTable),
			Item:      attrs,
		}); err != nil {
			return nil, mapDynamoErr(err)
		}
		ids = append(ids, event.ID)

		if record := s.promotion.Promote(event); record != nil {
			if err := s.putRecord(ctx, event.ActorID, *record); err != nil {
				return nil, err
			}
			s.logger.Debug("promoted event to long-term record",
				"actor_id", event.ActorID, "record_id", record.ID, "memory_type", record.MemoryType)
		}
	}

	s.logger.Debug("created events", "count", len(events))
	return ids, nil
}

func (s *DynamoStore) putRecord(ctx context.Context, actorID string, record Record) error {
	attrs, err := attributevalue.MarshalMap(dynamoRecord{
		ActorID:    actorID,
		RecordID:   record.ID,
		Content:    record.Content,
		MemoryType: string(record.MemoryType),
		Timestamp:  record.Timestamp.UTC().Format(time.RFC3339Nano),
		Score:      record.Score,
		Metadata:   record.Metadata,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal record")
	}

	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.recordsTable),
		Item:      attrs,
	}); err != nil {
		return mapDynamoErr(err)
	}
	return nil
}

func (s *DynamoStore) RetrieveRecords(ctx context.Context, actorID, query string, limit int, memoryTypes []Type) ([]Record, error) {
	if limit <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "limit must be positive, got %d", limit)
	}

	allowed := make(map[Type]struct{}, len(memoryTypes))
	for _, t := range memoryTypes {
		allowed[t] = struct{}{}
	}
	queryWords := lo.Uniq(strings.Fields(strings.ToLower(query)))

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.recordsTable),
		KeyConditionExpression: aws.String("actor_id = :actor"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":actor": &types.AttributeValueMemberS{Value: actorID},
		},
	}

	results := []Record{}
	for {
		output, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, mapDynamoErr(err)
		}

		for _, item := range output.Items {
			var row dynamoRecord
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				return nil, errors.Wrapf(err, "failed to unmarshal record")
			}

			if len(allowed) > 0 {
				if _, ok := allowed[Type(row.MemoryType)]; !ok {
					continue
				}
			}
			score := overlapScore(queryWords, row.Content)
			if score <= 0 {
				continue
			}

			timestamp, _ := time.Parse(time.RFC3339Nano, row.Timestamp)
			results = append(results, Record{
				ID:         row.RecordID,
				Content:    row.Content,
				MemoryType: Type(row.MemoryType),
				Timestamp:  timestamp,
				Score:      score,
				Metadata:   row.Metadata,
			})
		}

		if output.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *DynamoStore) GetSessionHistory(ctx context.Context, actorID, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "limit must be positive, got %d", limit)
	}

	output, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.eventsTable),
		KeyConditionExpression: aws.String("actor_id = :actor AND begins_with(sk, :session)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":actor":   &types.AttributeValueMemberS{Value: actorID},
			":session": &types.AttributeValueMemberS{Value: sessionPrefix(sessionID)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, mapDynamoErr(err)
	}

	// Items arrive most-recent first; flip back to chronological order.
	events := make([]Event, len(output.Items))
	for i, item := range output.Items {
		var row dynamoEvent
		if err := attributevalue.UnmarshalMap(item, &row); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal event")
		}

		timestamp, _ := time.Parse(time.RFC3339Nano, row.Timestamp)
		events[len(output.Items)-1-i] = Event{
			ID:        row.EventID,
			ActorID:   row.ActorID,
			SessionID: row.SessionID,
			Role:      Role(row.Role),
			Content:   row.Content,
			Timestamp: timestamp,
			Metadata:  row.Metadata,
		}
	}
	return events, nil
}

func (s *DynamoStore) DeleteActorMemory(ctx context.Context, actorID string) (bool, error) {
	if err := s.purgeByActor(ctx, s.eventsTable, actorID, "sk"); err != nil {
		return false, err
	}
	if err := s.purgeByActor(ctx, s.recordsTable, actorID, "record_id"); err != nil {
		return false, err
	}

	s.logger.Info("deleted all memory for actor", "actor_id", actorID)
	return true, nil
}

// purgeByActor queries every item under the actor hash key and batch-deletes
// them in chunks of the BatchWriteItem limit.
func (s *DynamoStore) purgeByActor(ctx context.Context, table, actorID, rangeKey string) error {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("actor_id = :actor"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":actor": &types.AttributeValueMemberS{Value: actorID},
		},
		ProjectionExpression: aws.String("actor_id, " + rangeKey),
	}

	var keys []map[string]types.AttributeValue
	for {
		output, err := s.client.Query(ctx, input)
		if err != nil {
			return mapDynamoErr(err)
		}
		keys = append(keys, output.Items...)
		if output.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}

	for _, chunk := range lo.Chunk(keys, dynamoBatchLimit) {
		requests := lo.Map(chunk, func(key map[string]types.AttributeValue, _ int) types.WriteRequest {
			return types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}}
		})
		if _, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{table: requests},
		}); err != nil {
			return mapDynamoErr(err)
		}
	}
	return nil
}

func (s *DynamoStore) Stats(ctx context.Context) (EventStats, error) {
	var stats EventStats
	for _, target := range []struct {
		table string
		count *int64
	}{
		{s.eventsTable, &stats.EventCount},
		{s.recordsTable, &stats.RecordCount},
	} {
		describe, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(target.table),
		})
		if err != nil {
			return EventStats{}, mapDynamoErr(err)
		}
		*target.count = aws.ToInt64(describe.Table.ItemCount)
	}
	return stats, nil
}

func (s *DynamoStore) Close() error {
	return nil
}

func mapDynamoErr(err error) error {
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return errors.Wrapf(errors.ErrNotFound, "dynamodb: %v", err)
	}
	return errors.Wrapf(errors.ErrUnavailable, "dynamodb: %v", err)
}
