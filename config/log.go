package config

type LogConfig struct {
	LogLevel   string `yaml:"level"`
	LogHandler string `yaml:"handler"`
}

func NewLogConfig() LogConfig {
	return LogConfig{
		LogLevel:   "info",
		LogHandler: "default",
	}
}
