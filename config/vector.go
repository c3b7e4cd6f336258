package config

type VectorConfig struct {
	// Backend overrides the global deployment mode for the vector engine.
	Backend Mode `yaml:"backend,omitempty"`

	// PersistDir is where the embedded realization keeps one file per
	// index. Empty keeps all indices in memory only.
	PersistDir string `yaml:"persistDir,omitempty"`

	// Qdrant connection settings, used in managed mode.
	QdrantHost   string `yaml:"qdrantHost,omitempty"`
	QdrantPort   int    `yaml:"qdrantPort,omitempty"`
	QdrantAPIKey string `yaml:"qdrantApiKey,omitempty"`
	QdrantUseTLS bool   `yaml:"qdrantUseTls,omitempty"`
}

func NewVectorConfig() VectorConfig {
	return VectorConfig{
		QdrantHost: "localhost",
		QdrantPort: 6334,
	}
}
