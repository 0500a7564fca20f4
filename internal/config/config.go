package config

import "time"

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Policy    PolicyConfig
	Optimizer OptimizerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port       int
	AdminToken string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	JudgeModel string
	EmbedModel string
}

type StorageConfig struct {
	DataDir  string
	Timezone string
}

type RetrievalConfig struct {
	TopK int
}

type PolicyConfig struct {
	ArtifactDir   string
	DownThreshold int
}

type OptimizerConfig struct {
	Enabled        bool
	Interval       string
	MinInterval    string
	MinNewFeedback int
	MaxSamples     int
	PositiveRatio  float64
	MaxDemos       int
	JudgeDelay     string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "qwen3:8b",
			JudgeModel: "qwen3:8b",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir:  dataDir,
			Timezone: "Local",
		},
		Retrieval: RetrievalConfig{
			TopK: 4,
		},
		Policy: PolicyConfig{
			ArtifactDir:   dataDir,
			DownThreshold: 5,
		},
		Optimizer: OptimizerConfig{
			Enabled:        true,
			Interval:       "1h",
			MinInterval:    "24h",
			MinNewFeedback: 10,
			MaxSamples:     16,
			PositiveRatio:  0.25,
			MaxDemos:       4,
			JudgeDelay:     "6s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/ragloop/config.json, then applies RAGLOOP_* environment
// overrides. Secrets (the admin token) come from the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	return cfg, nil
}

// Location resolves the configured counter timezone. "Local" and "" mean
// the process timezone.
func (c Config) Location() (*time.Location, error) {
	switch c.Storage.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	default:
		return time.LoadLocation(c.Storage.Timezone)
	}
}

// Duration parses one of the duration-typed keys, falling back to def when
// the value is empty or malformed.
func Duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
