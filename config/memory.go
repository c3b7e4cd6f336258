package config

import "time"

type MemoryConfig struct {
	// Backend overrides the global deployment mode for the memory engine.
	Backend Mode `yaml:"backend,omitempty"`

	// Driver selects the embedded variant: "memory" (in-process log) or
	// "sqlite" (single-file database with secondary indexes).
	Driver string `yaml:"driver,omitempty"`

	// SqlitePath is the database file for the sqlite driver.
	// ":memory:" keeps it in process memory.
	SqlitePath string `yaml:"sqlitePath,omitempty"`

	// DynamoDB settings, used in managed mode.
	DynamoEventsTable  string        `yaml:"dynamoEventsTable,omitempty"`
	DynamoRecordsTable string        `yaml:"dynamoRecordsTable,omitempty"`
	DynamoRegion       string        `yaml:"dynamoRegion,omitempty"`
	EventTTL           time.Duration `yaml:"eventTtl,omitempty"`

	// PromotionThreshold is the content length above which an appended
	// event is promoted to a semantic record by the default policy.
	PromotionThreshold int `yaml:"promotionThreshold,omitempty"`
}

const (
	MemoryDriverInProcess = "memory"
	MemoryDriverSqlite    = "sqlite"
)

func NewMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Driver:             MemoryDriverInProcess,
		SqlitePath:         ":memory:",
		DynamoEventsTable:  "knowstore-events",
		DynamoRecordsTable: "knowstore-records",
		EventTTL:           24 * time.Hour,
		PromotionThreshold: 100,
	}
}
