package config

import (
	"os"

	"github.com/axiomkit/knowstore/errors"
	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Mode selects which realization backs every engine contract. A per-engine
// Backend setting overrides the global mode for that engine only.
type Mode string

const (
	ModeEmbedded Mode = "embedded"
	ModeManaged  Mode = "managed"
)

type Config struct {
	// Mode is the deployment-mode flag: "embedded" or "managed".
	Mode Mode `yaml:"mode"`

	Log    LogConfig    `yaml:"log"`
	Vector VectorConfig `yaml:"vector"`
	Graph  GraphConfig  `yaml:"graph"`
	Memory MemoryConfig `yaml:"memory"`
}

func NewConfig() *Config {
	return &Config{
		Mode:   ModeEmbedded,
		Log:    NewLogConfig(),
		Vector: NewVectorConfig(),
		Graph:  NewGraphConfig(),
		Memory: NewMemoryConfig(),
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment variables, in that precedence order (later wins). A `.env`
// file in the working directory is honored before the environment is read.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, errors.Wrapf(err, "failed to load .env")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config file %s", path)
		}
	}

	if err := overrideFromEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeEmbedded, ModeManaged:
	default:
		return errors.Wrapf(errors.ErrInvalidConfig, "unknown mode %q", c.Mode)
	}
	return nil
}

// EngineMode resolves the effective mode for one engine, honoring the
// per-engine override when set.
func (c *Config) EngineMode(override Mode) Mode {
	if override != "" {
		return override
	}
	return c.Mode
}
