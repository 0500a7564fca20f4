package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key    string
	typ    keyType
	env    string
	secret bool
	apply  func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RAGLOOP_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "server.admin_token", typ: kString, env: "RAGLOOP_ADMIN_TOKEN",
		secret: true,
		apply:  func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
	},
	{
		key: "ollama.base_url", typ: kString, env: "RAGLOOP_OLLAMA_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "RAGLOOP_OLLAMA_CHAT_MODEL",
		apply: func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
	},
	{
		key: "ollama.judge_model", typ: kString, env: "RAGLOOP_OLLAMA_JUDGE_MODEL",
		apply: func(cfg *Config, v any) { cfg.Ollama.JudgeModel = v.(string) },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "RAGLOOP_OLLAMA_EMBED_MODEL",
		apply: func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RAGLOOP_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "storage.timezone", typ: kString, env: "RAGLOOP_STORAGE_TIMEZONE",
		apply: func(cfg *Config, v any) { cfg.Storage.Timezone = v.(string) },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "RAGLOOP_RETRIEVAL_TOP_K",
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		key: "policy.artifact_dir", typ: kString, env: "RAGLOOP_POLICY_ARTIFACT_DIR",
		apply: func(cfg *Config, v any) { cfg.Policy.ArtifactDir = v.(string) },
	},
	{
		key: "policy.down_threshold", typ: kInt, env: "RAGLOOP_POLICY_DOWN_THRESHOLD",
		apply: func(cfg *Config, v any) { cfg.Policy.DownThreshold = v.(int) },
	},
	{
		key: "optimizer.enabled", typ: kBool, env: "RAGLOOP_OPTIMIZER_ENABLED",
		apply: func(cfg *Config, v any) { cfg.Optimizer.Enabled = v.(bool) },
	},
	{
		key: "optimizer.interval", typ: kString, env: "RAGLOOP_OPTIMIZER_INTERVAL",
		apply: func(cfg *Config, v any) { cfg.Optimizer.Interval = v.(string) },
	},
	{
		key: "optimizer.min_interval", typ: kString, env: "RAGLOOP_OPTIMIZER_MIN_INTERVAL",
		apply: func(cfg *Config, v any) { cfg.Optimizer.MinInterval = v.(string) },
	},
	{
		key: "optimizer.min_new_feedback", typ: kInt, env: "RAGLOOP_OPTIMIZER_MIN_NEW_FEEDBACK",
		apply: func(cfg *Config, v any) { cfg.Optimizer.MinNewFeedback = v.(int) },
	},
	{
		key: "optimizer.max_samples", typ: kInt, env: "RAGLOOP_OPTIMIZER_MAX_SAMPLES",
		apply: func(cfg *Config, v any) { cfg.Optimizer.MaxSamples = v.(int) },
	},
	{
		key: "optimizer.positive_ratio", typ: kFloat, env: "RAGLOOP_OPTIMIZER_POSITIVE_RATIO",
		apply: func(cfg *Config, v any) { cfg.Optimizer.PositiveRatio = v.(float64) },
	},
	{
		key: "optimizer.max_demos", typ: kInt, env: "RAGLOOP_OPTIMIZER_MAX_DEMOS",
		apply: func(cfg *Config, v any) { cfg.Optimizer.MaxDemos = v.(int) },
	},
	{
		key: "optimizer.judge_delay", typ: kString, env: "RAGLOOP_OPTIMIZER_JUDGE_DELAY",
		apply: func(cfg *Config, v any) { cfg.Optimizer.JudgeDelay = v.(string) },
	},
	{
		key: "log.level", typ: kString, env: "RAGLOOP_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
