package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	return v.(int), true, nil
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Policy.DownThreshold != 5 {
		t.Fatalf("down threshold = %d", cfg.Policy.DownThreshold)
	}
	if cfg.Optimizer.MinNewFeedback != 10 {
		t.Fatalf("min new feedback = %d", cfg.Optimizer.MinNewFeedback)
	}
	if cfg.Server.AdminToken != "" {
		t.Fatal("admin token must default to empty")
	}
}

func TestLoad_BackendOverridesDefaults(t *testing.T) {
	cfg, err := loadWith(mapBackend{
		"server.port":           9999,
		"ollama.chat_model":     "llama3:70b",
		"policy.down_threshold": 12,
	})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Ollama.ChatModel != "llama3:70b" {
		t.Fatalf("chat model = %q", cfg.Ollama.ChatModel)
	}
	if cfg.Policy.DownThreshold != 12 {
		t.Fatalf("down threshold = %d", cfg.Policy.DownThreshold)
	}
}

func TestLoad_EnvOverridesBackend(t *testing.T) {
	t.Setenv("RAGLOOP_SERVER_PORT", "4444")
	t.Setenv("RAGLOOP_ADMIN_TOKEN", "hunter2")
	t.Setenv("RAGLOOP_OPTIMIZER_POSITIVE_RATIO", "0.5")

	cfg, err := loadWith(mapBackend{"server.port": 9999})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4444 {
		t.Fatalf("port = %d, env must win over backend", cfg.Server.Port)
	}
	if cfg.Server.AdminToken != "hunter2" {
		t.Fatalf("admin token = %q", cfg.Server.AdminToken)
	}
	if cfg.Optimizer.PositiveRatio != 0.5 {
		t.Fatalf("positive ratio = %v", cfg.Optimizer.PositiveRatio)
	}
}

func TestLoad_BadEnvValueKeepsDefault(t *testing.T) {
	t.Setenv("RAGLOOP_RETRIEVAL_TOP_K", "four")

	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Fatalf("top_k = %d, want default 4", cfg.Retrieval.TopK)
	}
}

func TestFileBackend_ReadsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw, _ := json.Marshal(map[string]any{
		"server.port":      4500,
		"storage.timezone": "Europe/Berlin",
	})
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4500 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Storage.Timezone != "Europe/Berlin" {
		t.Fatalf("timezone = %q", cfg.Storage.Timezone)
	}
}

func TestFileBackend_MissingFileIsFine(t *testing.T) {
	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "absent.json")))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
}

func TestLocation(t *testing.T) {
	cfg := Config{Storage: StorageConfig{Timezone: "UTC"}}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("loc = %v, err = %v", loc, err)
	}

	cfg.Storage.Timezone = "not/a/zone"
	if _, err := cfg.Location(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestDuration(t *testing.T) {
	if d := Duration("90m", time.Hour); d != 90*time.Minute {
		t.Fatalf("d = %v", d)
	}
	if d := Duration("", time.Hour); d != time.Hour {
		t.Fatalf("d = %v", d)
	}
	if d := Duration("bogus", time.Hour); d != time.Hour {
		t.Fatalf("d = %v", d)
	}
}
