package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/loqalabs/learnpod/internal/failure"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string  `yaml:"log_level"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	OTLPInsecure   bool    `yaml:"otlp_insecure"`
	PrometheusBind string  `yaml:"prometheus_bind"`
	Traces         bool    `yaml:"traces"`
	SampleRatio    float64 `yaml:"sample_ratio"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	LLM         LLMConfig        `yaml:"llm"`
	TTS         TTSConfig        `yaml:"tts"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	Speakers    []SpeakerConfig  `yaml:"speakers"`
	Retry       RetryConfig      `yaml:"retry"`
	Output      OutputConfig     `yaml:"output"`
	Notify      NotifyConfig     `yaml:"notify"`
	Watch       WatchConfig      `yaml:"watch"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type LLMConfig struct {
	Mode        string  `yaml:"mode"` // mock, ollama, exec, gemini
	Endpoint    string  `yaml:"endpoint"`
	Command     string  `yaml:"command"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	TimeoutMS   int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode       string `yaml:"mode"` // mock, exec, http, gemini
	Endpoint   string `yaml:"endpoint"`
	Command    string `yaml:"command"`
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type PipelineConfig struct {
	Language          string  `yaml:"language"`
	Audience          string  `yaml:"audience"`
	ChunkTokens       int     `yaml:"chunk_tokens"`
	TargetWordsMin    int     `yaml:"target_words_min"`
	TargetWordsMax    int     `yaml:"target_words_max"`
	MaxRefinements    int     `yaml:"max_refinements"`
	GrammarRetries    int     `yaml:"grammar_retries"`
	SummaryTurns      int     `yaml:"summary_turns"`
	QACount           int     `yaml:"qa_count"`
	GapMS             int     `yaml:"gap_ms"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// SpeakerConfig binds a roster slot to the label used in scripts and the voice used for audio.
type SpeakerConfig struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Voice string `yaml:"voice"`
}

type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	InitialMS   int     `yaml:"initial_ms"`
	MaxMS       int     `yaml:"max_ms"`
	Multiplier  float64 `yaml:"multiplier"`
}

type OutputConfig struct {
	Directory         string `yaml:"directory"`
	Docx              bool   `yaml:"docx"`
	KeepInput         bool   `yaml:"keep_input"`
	ObjectStoreBucket string `yaml:"object_store_bucket"`
}

type NotifyConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type WatchConfig struct {
	Inbox         string `yaml:"inbox"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	SettleMS      int    `yaml:"settle_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "learnpod",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
			SampleRatio:  1,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/learnpod-runs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRuns:       1000,
		},
		LLM: LLMConfig{
			Mode:        "mock",
			Endpoint:    "http://localhost:11434",
			Model:       "gemini-2.5-flash",
			MaxTokens:   8192,
			Temperature: 0.7,
			TimeoutMS:   120000,
		},
		TTS: TTSConfig{
			Mode:       "mock",
			Endpoint:   "http://localhost:8000",
			Model:      "gemini-2.5-flash-preview-tts",
			SampleRate: 24000,
			Channels:   1,
			TimeoutMS:  60000,
		},
		Pipeline: PipelineConfig{
			Language:       "ja",
			Audience:       "motivated beginners",
			ChunkTokens:    800,
			TargetWordsMin: 2000,
			TargetWordsMax: 3000,
			MaxRefinements: 3,
			GrammarRetries: 2,
			SummaryTurns:   8,
			QACount:        10,
			GapMS:          400,
			Concurrency:    4,
		},
		Speakers: []SpeakerConfig{
			{ID: "S1", Name: "Sakura", Voice: "Zephyr"},
			{ID: "S2", Name: "Taro", Voice: "Puck"},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			InitialMS:   1000,
			MaxMS:       10000,
			Multiplier:  2,
		},
		Output: OutputConfig{
			Directory: "outputs",
			Docx:      true,
			KeepInput: true,
		},
		Notify: NotifyConfig{
			Enabled:       false,
			SubjectPrefix: "learnpod.run",
		},
		Watch: WatchConfig{
			Inbox:         "./inbox",
			MaxConcurrent: 1,
			SettleMS:      500,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, failure.New(failure.KindConfiguration, "load config", fmt.Errorf("config file not found: %w", err))
			}
			return cfg, failure.New(failure.KindConfiguration, "load config", fmt.Errorf("failed to read config file: %w", err))
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, failure.New(failure.KindConfiguration, "load config", fmt.Errorf("failed to parse config file: %w", err))
		}
	}

	applyEnvOverrides(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every field the pipeline depends on before any external call is made.
func Validate(cfg Config) error {
	if err := validate(cfg); err != nil {
		return failure.New(failure.KindConfiguration, "validate config", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LEARNPOD_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LEARNPOD_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LEARNPOD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LEARNPOD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LEARNPOD_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LEARNPOD_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LEARNPOD_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LEARNPOD_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Telemetry.Traces, "LEARNPOD_TELEMETRY_TRACES")
	overrideFloat(&cfg.Telemetry.SampleRatio, "LEARNPOD_TELEMETRY_SAMPLE_RATIO")
	overrideBool(&cfg.Bus.Enabled, "LEARNPOD_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LEARNPOD_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LEARNPOD_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LEARNPOD_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LEARNPOD_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LEARNPOD_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LEARNPOD_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LEARNPOD_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LEARNPOD_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LEARNPOD_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LEARNPOD_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LEARNPOD_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LEARNPOD_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "LEARNPOD_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LEARNPOD_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.LLM.Mode, "LEARNPOD_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "LEARNPOD_LLM_ENDPOINT")
	overrideString(&cfg.LLM.Command, "LEARNPOD_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "LEARNPOD_LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.LLM.APIKey, "LEARNPOD_LLM_API_KEY")
	overrideInt(&cfg.LLM.MaxTokens, "LEARNPOD_LLM_MAX_TOKENS")
	overrideFloat(&cfg.LLM.Temperature, "LEARNPOD_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.TimeoutMS, "LEARNPOD_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "LEARNPOD_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "LEARNPOD_TTS_ENDPOINT")
	overrideString(&cfg.TTS.Command, "LEARNPOD_TTS_COMMAND")
	overrideString(&cfg.TTS.Model, "LEARNPOD_TTS_MODEL")
	overrideString(&cfg.TTS.APIKey, "GEMINI_API_KEY")
	overrideString(&cfg.TTS.APIKey, "LEARNPOD_TTS_API_KEY")
	overrideInt(&cfg.TTS.SampleRate, "LEARNPOD_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LEARNPOD_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TimeoutMS, "LEARNPOD_TTS_TIMEOUT_MS")
	overrideString(&cfg.Pipeline.Language, "LEARNPOD_PIPELINE_LANGUAGE")
	overrideString(&cfg.Pipeline.Audience, "LEARNPOD_PIPELINE_AUDIENCE")
	overrideInt(&cfg.Pipeline.ChunkTokens, "LEARNPOD_PIPELINE_CHUNK_TOKENS")
	overrideInt(&cfg.Pipeline.TargetWordsMin, "LEARNPOD_PIPELINE_TARGET_WORDS_MIN")
	overrideInt(&cfg.Pipeline.TargetWordsMax, "LEARNPOD_PIPELINE_TARGET_WORDS_MAX")
	overrideInt(&cfg.Pipeline.MaxRefinements, "LEARNPOD_PIPELINE_MAX_REFINEMENTS")
	overrideInt(&cfg.Pipeline.GrammarRetries, "LEARNPOD_PIPELINE_GRAMMAR_RETRIES")
	overrideInt(&cfg.Pipeline.QACount, "LEARNPOD_PIPELINE_QA_COUNT")
	overrideInt(&cfg.Pipeline.GapMS, "LEARNPOD_PIPELINE_GAP_MS")
	overrideInt(&cfg.Pipeline.Concurrency, "LEARNPOD_PIPELINE_CONCURRENCY")
	overrideFloat(&cfg.Pipeline.RequestsPerSecond, "LEARNPOD_PIPELINE_REQUESTS_PER_SECOND")
	overrideInt(&cfg.Retry.MaxAttempts, "LEARNPOD_RETRY_MAX_ATTEMPTS")
	overrideInt(&cfg.Retry.InitialMS, "LEARNPOD_RETRY_INITIAL_MS")
	overrideInt(&cfg.Retry.MaxMS, "LEARNPOD_RETRY_MAX_MS")
	overrideString(&cfg.Output.Directory, "LEARNPOD_OUTPUT_DIRECTORY")
	overrideBool(&cfg.Output.Docx, "LEARNPOD_OUTPUT_DOCX")
	overrideString(&cfg.Output.ObjectStoreBucket, "LEARNPOD_OUTPUT_OBJECT_STORE_BUCKET")
	overrideBool(&cfg.Notify.Enabled, "LEARNPOD_NOTIFY_ENABLED")
	overrideString(&cfg.Notify.SubjectPrefix, "LEARNPOD_NOTIFY_SUBJECT_PREFIX")
	overrideString(&cfg.Watch.Inbox, "LEARNPOD_WATCH_INBOX")
	overrideInt(&cfg.Watch.MaxConcurrent, "LEARNPOD_WATCH_MAX_CONCURRENT")
}

// ApplySpeakerOverrides applies "Speaker 1=Sakura,Speaker 2=Taro" (or "S1=Sakura") style name and voice lists on top of the roster.
// Unknown IDs are appended as new roster slots.
func ApplySpeakerOverrides(cfg *Config, names, voices string) error {
	nameMap, err := parsePairs(names)
	if err != nil {
		return failure.New(failure.KindConfiguration, "parse speakers", err)
	}
	voiceMap, err := parsePairs(voices)
	if err != nil {
		return failure.New(failure.KindConfiguration, "parse voices", err)
	}
	for _, kv := range nameMap {
		idx := speakerIndex(cfg.Speakers, kv[0])
		if idx < 0 {
			cfg.Speakers = append(cfg.Speakers, SpeakerConfig{ID: kv[0]})
			idx = len(cfg.Speakers) - 1
		}
		cfg.Speakers[idx].Name = kv[1]
	}
	for _, kv := range voiceMap {
		idx := speakerIndex(cfg.Speakers, kv[0])
		if idx < 0 {
			return failure.Newf(failure.KindConfiguration, "parse voices", "voice given for unknown speaker %q", kv[0])
		}
		cfg.Speakers[idx].Voice = kv[1]
	}
	return Validate(*cfg)
}

// speakerIndex matches a roster slot by ID, current name or "Speaker N"
// position, case-insensitively.
func speakerIndex(speakers []SpeakerConfig, key string) int {
	for i, s := range speakers {
		if strings.EqualFold(s.ID, key) || strings.EqualFold(s.Name, key) {
			return i
		}
	}
	fields := strings.Fields(key)
	if len(fields) == 2 && strings.EqualFold(fields[0], "speaker") {
		if n, err := strconv.Atoi(fields[1]); err == nil && n >= 1 && n <= len(speakers) {
			return n - 1
		}
	}
	return -1
}

func parsePairs(value string) ([][2]string, error) {
	var pairs [][2]string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, "=")
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if !ok || key == "" || val == "" {
			return nil, fmt.Errorf("expected key=value, got %q", part)
		}
		pairs = append(pairs, [2]string{key, val})
	}
	return pairs, nil
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if (cfg.Notify.Enabled || cfg.Output.ObjectStoreBucket != "") && !cfg.Bus.Enabled {
		return errors.New("bus.enabled must be true when notify or object store output is used")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry.sample_ratio must be between 0 and 1")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}

	switch cfg.LLM.Mode {
	case "mock", "ollama", "exec", "gemini":
	default:
		return errors.New("llm.mode must be one of mock|ollama|exec|gemini")
	}
	if cfg.LLM.Mode == "ollama" && cfg.LLM.Endpoint == "" {
		return errors.New("llm.endpoint must be set when mode=ollama")
	}
	if cfg.LLM.Mode == "exec" && cfg.LLM.Command == "" {
		return errors.New("llm.command must be set when mode=exec")
	}
	if cfg.LLM.Mode == "gemini" && cfg.LLM.APIKey == "" {
		return errors.New("llm.api_key (or GEMINI_API_KEY) must be set when mode=gemini")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}

	switch cfg.TTS.Mode {
	case "mock", "exec", "http", "gemini":
	default:
		return errors.New("tts.mode must be one of mock|exec|http|gemini")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.Mode == "http" && cfg.TTS.Endpoint == "" {
		return errors.New("tts.endpoint must be set when mode=http")
	}
	if cfg.TTS.Mode == "gemini" && cfg.TTS.APIKey == "" {
		return errors.New("tts.api_key (or GEMINI_API_KEY) must be set when mode=gemini")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 || cfg.TTS.Channels > 2 {
		return errors.New("tts.channels must be 1 or 2")
	}

	p := cfg.Pipeline
	if p.ChunkTokens <= 0 {
		return errors.New("pipeline.chunk_tokens must be positive")
	}
	if p.TargetWordsMin <= 0 {
		return errors.New("pipeline.target_words_min must be positive")
	}
	if p.TargetWordsMin > p.TargetWordsMax {
		return errors.New("pipeline.target_words_min must not exceed target_words_max")
	}
	if p.MaxRefinements < 0 || p.MaxRefinements > 5 {
		return errors.New("pipeline.max_refinements must be between 0 and 5")
	}
	if p.GrammarRetries < 0 {
		return errors.New("pipeline.grammar_retries must be >= 0")
	}
	if p.QACount <= 0 {
		return errors.New("pipeline.qa_count must be positive")
	}
	if p.GapMS < 0 {
		return errors.New("pipeline.gap_ms must be >= 0")
	}
	if p.Concurrency <= 0 {
		return errors.New("pipeline.concurrency must be >= 1")
	}
	if p.RequestsPerSecond < 0 {
		return errors.New("pipeline.requests_per_second must be >= 0")
	}

	if len(cfg.Speakers) == 0 {
		return errors.New("speakers must not be empty")
	}
	seen := make(map[string]bool, len(cfg.Speakers))
	for i, s := range cfg.Speakers {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("speakers[%d].name must not be empty", i)
		}
		if strings.ContainsAny(s.Name, ":：*") {
			return fmt.Errorf("speakers[%d].name must not contain ':', '：' or '*'", i)
		}
		key := strings.ToLower(strings.Join(strings.Fields(s.Name), " "))
		if seen[key] {
			return fmt.Errorf("speakers[%d].name %q is duplicated", i, s.Name)
		}
		seen[key] = true
		if strings.TrimSpace(s.Voice) == "" {
			return fmt.Errorf("speakers[%d].voice must not be empty", i)
		}
	}

	if cfg.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be >= 1")
	}
	if cfg.Retry.InitialMS <= 0 || cfg.Retry.MaxMS < cfg.Retry.InitialMS {
		return errors.New("retry.initial_ms must be positive and not exceed retry.max_ms")
	}
	if cfg.Output.Directory == "" {
		return errors.New("output.directory must not be empty")
	}
	return nil
}
