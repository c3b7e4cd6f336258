package config

type GraphConfig struct {
	// Backend overrides the global deployment mode for the graph engine.
	Backend Mode `yaml:"backend,omitempty"`

	// PersistPath is the node-link document the embedded realization
	// writes after each mutation. Empty keeps the graph in memory only.
	PersistPath string `yaml:"persistPath,omitempty"`

	// Neo4j connection settings, used in managed mode.
	Neo4jURI      string `yaml:"neo4jUri,omitempty"`
	Neo4jUser     string `yaml:"neo4jUser,omitempty"`
	Neo4jPassword string `yaml:"neo4jPassword,omitempty"`
	Neo4jDatabase string `yaml:"neo4jDatabase,omitempty"`
}

func NewGraphConfig() GraphConfig {
	return GraphConfig{
		Neo4jURI:      "neo4j://localhost:7687",
		Neo4jUser:     "neo4j",
		Neo4jDatabase: "neo4j",
	}
}
