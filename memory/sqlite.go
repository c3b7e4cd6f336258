package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/axiomkit/knowstore/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type (
	// SqliteStore is the embedded single-file realization. The autoincrement
	// sequence column gives append order independent of timestamp precision.
	SqliteStore struct {
		db        *gorm.DB
		promotion PromotionPolicy
		logger    *slog.Logger
	}

	eventRow struct {
		Seq       int64  `gorm:"primaryKey;autoIncrement"`
		EventID   string `gorm:"uniqueIndex"`
		ActorID   string `gorm:"index"`
		SessionID string `gorm:"index"`
		Role      string
		Content   string
		Timestamp time.Time
		Metadata  datatypes.JSONType[map[string]any]
	}

	recordRow struct {
		ID         string `gorm:"primaryKey"`
		ActorID    string `gorm:"index"`
		Content    string
		MemoryType string `gorm:"index"`
		Timestamp  time.Time
		Score      float64
		Metadata   datatypes.JSONType[map[string]any]
	}
)

func (eventRow) TableName() string  { return "memory_events" }
func (recordRow) TableName() string { return "memory_records" }

var _ Store = (*SqliteStore)(nil)

func NewSqliteStore(dbPath string, promotion PromotionPolicy, log *slog.Logger) (*SqliteStore, error) {
	if promotion == nil {
		promotion = DefaultPromotionPolicy()
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sqlite database")
	}

	if err := db.AutoMigrate(&eventRow{}, &recordRow{}); err != nil {
		return nil, errors.Wrapf(err, "failed to migrate memory tables")
	}

	log.Info("memory store initialized with sqlite", "path", dbPath)
	return &SqliteStore{
		db:        db,
		promotion: promotion,
		logger:    log,
	}, nil
}

func (s *SqliteStore) CreateEvent(ctx context.Context, events []Event) ([]string, error) {
	if err := validateEvents(events); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(events))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, event := range events {
			event.ID = uuid.NewString()
			if event.Timestamp.IsZero() {
				event.Timestamp = time.Now()
			}

			row := eventRow{
				EventID:   event.ID,
				ActorID:   event.ActorID,
				SessionID: event.SessionID,
				Role:      string(event.Role),
				Content:   event.Content,
				Timestamp: event.Timestamp,
				Metadata:  datatypes.NewJSONType(event.Metadata),
			}
			if err := tx.Create(&row).Error; err != nil {
				return errors.Wrapf(err, "failed to append event")
			}
			ids = append(ids, event.ID)

			if record := s.promotion.Promote(event); record != nil {
				if err := tx.Create(&recordRow{
					ID:         record.ID,
					ActorID:    event.ActorID,
					Content:    record.Content,
					MemoryType: string(record.MemoryType),
					Timestamp:  record.Timestamp,
					Score:      record.Score,
					Metadata:   datatypes.NewJSONType(record.Metadata),
				}).Error; err != nil {
					return errors.Wrapf(err, "failed to save promoted record")
				}
				s.logger.Debug("promoted event to long-term record",
					"actor_id", event.ActorID, "record_id", record.ID, "memory_type", record.MemoryType)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("created events", "count", len(events))
	return ids, nil
}

func (s *SqliteStore) RetrieveRecords(ctx context.Context, actorID, query string, limit int, memoryTypes []Type) ([]Record, error) {
	if limit <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "limit must be positive, got %d", limit)
	}

	tx := s.db.WithContext(ctx).Where("actor_id = ?", actorID)
	if len(memoryTypes) > 0 {
		tx = tx.Where("memory_type IN ?", lo.Map(memoryTypes, func(t Type, _ int) string {
			return string(t)
		}))
	}

	var rows []recordRow
	if err := tx.Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to query records")
	}

	queryWords := lo.Uniq(strings.Fields(strings.ToLower(query)))
	results := []Record{}
	for _, row := range rows {
		score := overlapScore(queryWords, row.Content)
		if score <= 0 {
			continue
		}
		results = append(results, Record{
			ID:         row.ID,
			Content:    row.Content,
			MemoryType: Type(row.MemoryType),
			Timestamp:  row.Timestamp,
			Score:      score,
			Metadata:   row.Metadata.Data(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *SqliteStore) GetSessionHistory(ctx context.Context, actorID, sessionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, errors.Wrapf(errors.ErrInvalidParams, "limit must be positive, got %d", limit)
	}

	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("actor_id = ? AND session_id = ?", actorID, sessionID).
		Order("seq DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query session history")
	}

	// rows arrive most-recent first; flip back to chronological order.
	events := make([]Event, len(rows))
	for i, row := range rows {
		events[len(rows)-1-i] = Event{
			ID:        row.EventID,
			ActorID:   row.ActorID,
			SessionID: row.SessionID,
			Role:      Role(row.Role),
			Content:   row.Content,
			Timestamp: row.Timestamp,
			Metadata:  row.Metadata.Data(),
		}
	}
	return events, nil
}

func (s *SqliteStore) DeleteActorMemory(ctx context.Context, actorID string) (bool, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("actor_id = ?", actorID).Delete(&eventRow{}).Error; err != nil {
			return errors.Wrapf(err, "failed to delete events")
		}
		if err := tx.Where("actor_id = ?", actorID).Delete(&recordRow{}).Error; err != nil {
			return errors.Wrapf(err, "failed to delete records")
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.logger.Info("deleted all memory for actor", "actor_id", actorID)
	return true, nil
}

func (s *SqliteStore) Stats(ctx context.Context) (EventStats, error) {
	var stats EventStats
	if err := s.db.WithContext(ctx).Model(&eventRow{}).Count(&stats.EventCount).Error; err != nil {
		return EventStats{}, errors.WithStack(err)
	}
	if err := s.db.WithContext(ctx).Model(&recordRow{}).Count(&stats.RecordCount).Error; err != nil {
		return EventStats{}, errors.WithStack(err)
	}
	return stats, nil
}

func (s *SqliteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrapf(err, "failed to get db")
	}
	return errors.WithStack(sqlDB.Close())
}
