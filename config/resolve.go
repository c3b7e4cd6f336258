package config

import (
	"os"
	"strings"

	"github.com/axiomkit/knowstore/errors"
	"github.com/mitchellh/mapstructure"
)

// envBindings maps environment variables onto dotted config paths. The
// paths use the same names as the yaml tags so one decoder serves both.
var envBindings = map[string]string{
	"KNOWSTORE_MODE": "mode",

	"LOG_LEVEL":   "log.level",
	"LOG_HANDLER": "log.handler",

	"VECTOR_BACKEND":     "vector.backend",
	"VECTOR_PERSIST_DIR": "vector.persistDir",
	"QDRANT_HOST":        "vector.qdrantHost",
	"QDRANT_PORT":        "vector.qdrantPort",
	"QDRANT_API_KEY":     "vector.qdrantApiKey",
	"QDRANT_USE_TLS":     "vector.qdrantUseTls",

	"GRAPH_BACKEND":      "graph.backend",
	"GRAPH_PERSIST_PATH": "graph.persistPath",
	"NEO4J_URI":          "graph.neo4jUri",
	"NEO4J_USER":         "graph.neo4jUser",
	"NEO4J_PASSWORD":     "graph.neo4jPassword",
	"NEO4J_DATABASE":     "graph.neo4jDatabase",

	"MEMORY_BACKEND":       "memory.backend",
	"MEMORY_DRIVER":        "memory.driver",
	"SQLITE_PATH":          "memory.sqlitePath",
	"DYNAMO_EVENTS_TABLE":  "memory.dynamoEventsTable",
	"DYNAMO_RECORDS_TABLE": "memory.dynamoRecordsTable",
	"DYNAMO_REGION":        "memory.dynamoRegion",
	"EVENT_TTL":            "memory.eventTtl",
	"PROMOTION_THRESHOLD":  "memory.promotionThreshold",
}

func overrideFromEnv(cfg *Config) error {
	raw := map[string]any{}
	for env, path := range envBindings {
		v, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		setPath(raw, path, v)
	}
	if len(raw) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return errors.WithStack(err)
	}
	if err := decoder.Decode(raw); err != nil {
		return errors.Wrapf(err, "failed to apply environment overrides")
	}
	return nil
}

func setPath(m map[string]any, path string, value string) {
	parts := strings.Split(path, ".")
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = value
}
