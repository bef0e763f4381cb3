package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/learnpod/internal/failure"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.TargetWordsMin != 2000 || cfg.Pipeline.TargetWordsMax != 3000 {
		t.Fatalf("expected default target range, got %d-%d", cfg.Pipeline.TargetWordsMin, cfg.Pipeline.TargetWordsMax)
	}
	if len(cfg.Speakers) != 2 || cfg.Speakers[0].Name != "Sakura" {
		t.Fatalf("expected default roster, got %+v", cfg.Speakers)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learnpod.yaml")
	data := []byte(`
pipeline:
  language: en
  target_words_min: 500
  target_words_max: 900
speakers:
  - id: S1
    name: Alex
    voice: Kore
  - id: S2
    name: Blair
    voice: Charon
  - id: S3
    name: Casey
    voice: Puck
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pipeline.Language != "en" || cfg.Pipeline.TargetWordsMax != 900 {
		t.Fatalf("pipeline not loaded: %+v", cfg.Pipeline)
	}
	if len(cfg.Speakers) != 3 || cfg.Speakers[2].Voice != "Puck" {
		t.Fatalf("speakers not loaded: %+v", cfg.Speakers)
	}
	if cfg.Pipeline.ChunkTokens != 800 {
		t.Fatalf("expected unset fields to keep defaults, got %d", cfg.Pipeline.ChunkTokens)
	}
}

func TestMissingFileIsConfigurationError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !errors.Is(err, failure.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEARNPOD_BUS_ENABLED", "true")
	t.Setenv("LEARNPOD_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LEARNPOD_BUS_USERNAME", "alice")
	t.Setenv("LEARNPOD_BUS_PASSWORD", "secret")
	t.Setenv("LEARNPOD_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LEARNPOD_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LEARNPOD_EVENT_STORE_MAX_RUNS", "123")
	t.Setenv("LEARNPOD_PIPELINE_CHUNK_TOKENS", "400")
	t.Setenv("LEARNPOD_PIPELINE_REQUESTS_PER_SECOND", "2.5")
	t.Setenv("LEARNPOD_LLM_MODE", "gemini")
	t.Setenv("GEMINI_API_KEY", "from-gemini-env")
	t.Setenv("LEARNPOD_NOTIFY_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" || cfg.EventStore.MaxRuns != 123 {
		t.Fatalf("expected event store override, got %+v", cfg.EventStore)
	}
	if cfg.Pipeline.ChunkTokens != 400 || cfg.Pipeline.RequestsPerSecond != 2.5 {
		t.Fatalf("expected pipeline override, got %+v", cfg.Pipeline)
	}
	if cfg.LLM.APIKey != "from-gemini-env" || cfg.TTS.APIKey != "from-gemini-env" {
		t.Fatalf("expected api keys from GEMINI_API_KEY")
	}
	if !cfg.Notify.Enabled {
		t.Fatalf("expected notify override")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"min above max", func(c *Config) { c.Pipeline.TargetWordsMin = 4000 }},
		{"empty roster", func(c *Config) { c.Speakers = nil }},
		{"missing voice", func(c *Config) { c.Speakers[1].Voice = "" }},
		{"duplicate speaker", func(c *Config) { c.Speakers[1].Name = "sakura" }},
		{"duplicate speaker spacing", func(c *Config) {
			c.Speakers[0].Name = "Dr. Sakura"
			c.Speakers[1].Name = "dr.  sakura"
		}},
		{"colon in name", func(c *Config) { c.Speakers[1].Name = "Taro: host" }},
		{"zero budget", func(c *Config) { c.Pipeline.ChunkTokens = 0 }},
		{"unknown llm mode", func(c *Config) { c.LLM.Mode = "carrier-pigeon" }},
		{"gemini without key", func(c *Config) { c.TTS.Mode = "gemini" }},
		{"notify without bus", func(c *Config) { c.Notify.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if failure.KindOf(err) != failure.KindConfiguration {
				t.Fatalf("expected configuration kind, got %s", failure.KindOf(err))
			}
		})
	}
}

func TestValidateAcceptsPunctuatedNames(t *testing.T) {
	cfg := Default()
	cfg.Speakers[0].Name = "Dr. Sakura"
	cfg.Speakers[1].Name = "Taro, Jr. (guest host from the Kyoto Institute of Technology)"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected punctuated names to be valid: %v", err)
	}
}

func TestApplySpeakerOverrides(t *testing.T) {
	cfg := Default()
	if err := ApplySpeakerOverrides(&cfg, "S1=Hana, S2=Ken", "S2=Charon"); err != nil {
		t.Fatalf("apply overrides: %v", err)
	}
	if cfg.Speakers[0].Name != "Hana" || cfg.Speakers[1].Name != "Ken" {
		t.Fatalf("names not applied: %+v", cfg.Speakers)
	}
	if cfg.Speakers[1].Voice != "Charon" || cfg.Speakers[0].Voice != "Zephyr" {
		t.Fatalf("voices not applied: %+v", cfg.Speakers)
	}

	cfg = Default()
	if err := ApplySpeakerOverrides(&cfg, "Speaker 1=Mio", "speaker 2=Kore"); err != nil {
		t.Fatalf("apply positional overrides: %v", err)
	}
	if cfg.Speakers[0].Name != "Mio" || cfg.Speakers[1].Voice != "Kore" {
		t.Fatalf("positional overrides not applied: %+v", cfg.Speakers)
	}

	cfg = Default()
	if err := ApplySpeakerOverrides(&cfg, "S3=Mio", ""); err == nil {
		t.Fatalf("expected error for new speaker without a voice")
	}
	cfg = Default()
	if err := ApplySpeakerOverrides(&cfg, "", "S9=Kore"); err == nil {
		t.Fatalf("expected error for voice on unknown speaker")
	}
	cfg = Default()
	if err := ApplySpeakerOverrides(&cfg, "broken", ""); err == nil {
		t.Fatalf("expected parse error")
	}
}
