package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level" toml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure" toml:"otlp_insecure"`
	TraceStdout    bool   `yaml:"trace_stdout" toml:"trace_stdout"`
	PrometheusBind string `yaml:"prometheus_bind" toml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind" toml:"bind"`
	Port int    `yaml:"port" toml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name" toml:"runtime_name"`
	Environment string           `yaml:"environment" toml:"environment"`
	HTTP        HTTPConfig       `yaml:"http" toml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry" toml:"telemetry"`
	Bus         BusConfig        `yaml:"bus" toml:"bus"`
	Node        NodeConfig       `yaml:"node" toml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store" toml:"event_store"`
	Synthesis   SynthesisConfig  `yaml:"synthesis" toml:"synthesis"`
	Chunking    ChunkingConfig   `yaml:"chunking" toml:"chunking"`
	Assembly    AssemblyConfig   `yaml:"assembly" toml:"assembly"`
	Jobs        JobsConfig       `yaml:"jobs" toml:"jobs"`
	Preview     PreviewConfig    `yaml:"preview" toml:"preview"`
	Storage     StorageConfig    `yaml:"storage" toml:"storage"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	Embedded       bool     `yaml:"embedded" toml:"embedded"`
	Port           int      `yaml:"port" toml:"port"`
	StoreDir       string   `yaml:"store_dir" toml:"store_dir"`
	Servers        []string `yaml:"servers" toml:"servers"`
	Username       string   `yaml:"username" toml:"username"`
	Password       string   `yaml:"password" toml:"password"`
	Token          string   `yaml:"token" toml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure" toml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
}

// NodeConfig identifies this instance when it advertises itself on the bus.
type NodeConfig struct {
	ID                  string `yaml:"id" toml:"id"`
	HeartbeatIntervalMS int    `yaml:"heartbeat_interval_ms" toml:"heartbeat_interval_ms"`
	HeartbeatTimeoutMS  int    `yaml:"heartbeat_timeout_ms" toml:"heartbeat_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path" toml:"path"`
	RetentionMode string `yaml:"retention_mode" toml:"retention_mode"` // ephemeral, job, persistent
	RetentionDays int    `yaml:"retention_days" toml:"retention_days"`
	MaxJobs       int    `yaml:"max_jobs" toml:"max_jobs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" toml:"vacuum_on_start"`
}

// SynthesisConfig selects the speech engine and the default voice profile.
type SynthesisConfig struct {
	Mode             string  `yaml:"mode" toml:"mode"` // mock, piper, exec, http
	Command          string  `yaml:"command" toml:"command"`
	Endpoint         string  `yaml:"endpoint" toml:"endpoint"`
	VoicesDir        string  `yaml:"voices_dir" toml:"voices_dir"`
	Model            string  `yaml:"model" toml:"model"`
	SampleRate       int     `yaml:"sample_rate" toml:"sample_rate"`
	Channels         int     `yaml:"channels" toml:"channels"`
	LengthScale      float64 `yaml:"length_scale" toml:"length_scale"`
	NoiseScale       float64 `yaml:"noise_scale" toml:"noise_scale"`
	NoiseW           float64 `yaml:"noise_w" toml:"noise_w"`
	SentenceSilence  float64 `yaml:"sentence_silence" toml:"sentence_silence"`
	MaxRetries       int     `yaml:"max_retries" toml:"max_retries"`
	InitialBackoffMS int     `yaml:"initial_backoff_ms" toml:"initial_backoff_ms"`
	MaxBackoffMS     int     `yaml:"max_backoff_ms" toml:"max_backoff_ms"`
	AttemptTimeoutMS int     `yaml:"attempt_timeout_ms" toml:"attempt_timeout_ms"`
}

type ChunkingConfig struct {
	MaxChunkChars   int  `yaml:"max_chunk_chars" toml:"max_chunk_chars"`
	MergeParagraphs bool `yaml:"merge_paragraphs" toml:"merge_paragraphs"`
	Normalize       bool `yaml:"normalize" toml:"normalize"`
}

type AssemblyConfig struct {
	InterChunkSilence float64 `yaml:"inter_chunk_silence" toml:"inter_chunk_silence"`
	ChapterSilence    float64 `yaml:"chapter_silence" toml:"chapter_silence"`
}

type JobsConfig struct {
	Workers        int `yaml:"workers" toml:"workers"`
	QueueSize      int `yaml:"queue_size" toml:"queue_size"`
	ChunkTimeoutMS int `yaml:"chunk_timeout_ms" toml:"chunk_timeout_ms"`
	JobTimeoutMS   int `yaml:"job_timeout_ms" toml:"job_timeout_ms"` // 0 disables
}

type PreviewConfig struct {
	MaxChars  int `yaml:"max_chars" toml:"max_chars"`
	TimeoutMS int `yaml:"timeout_ms" toml:"timeout_ms"`
}

type StorageConfig struct {
	OutputDir string `yaml:"output_dir" toml:"output_dir"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-narrator",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
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
			Path:          "./data/narrator-events.db",
			RetentionMode: "job",
			RetentionDays: 30,
			MaxJobs:       10000,
		},
		Synthesis: SynthesisConfig{
			Mode:             "mock",
			Command:          "piper",
			Endpoint:         "http://localhost:5000",
			VoicesDir:        "./voices",
			Model:            "fr_FR-siwis-medium",
			SampleRate:       22050,
			Channels:         1,
			LengthScale:      1.0,
			NoiseScale:       0.667,
			NoiseW:           0.8,
			SentenceSilence:  0.35,
			MaxRetries:       2,
			InitialBackoffMS: 500,
			MaxBackoffMS:     5000,
			AttemptTimeoutMS: 120000,
		},
		Chunking: ChunkingConfig{
			MaxChunkChars: 1500,
			Normalize:     true,
		},
		Assembly: AssemblyConfig{
			InterChunkSilence: 0.35,
			ChapterSilence:    1.0,
		},
		Jobs: JobsConfig{
			Workers:        2,
			QueueSize:      64,
			ChunkTimeoutMS: 300000,
		},
		Preview: PreviewConfig{
			MaxChars:  500,
			TimeoutMS: 30000,
		},
		Node: NodeConfig{
			ID:                  "narrator-1",
			HeartbeatIntervalMS: 2000,
			HeartbeatTimeoutMS:  6000,
		},
		Storage: StorageConfig{
			OutputDir: "./data/audio",
		},
	}
}

// Load reads defaults, then the optional YAML or TOML file, then a .env file
// next to the working directory, then LOQA_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to read .env file: %w", err)
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.TraceStdout, "LOQA_TELEMETRY_TRACE_STDOUT")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxJobs, "LOQA_EVENT_STORE_MAX_JOBS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Synthesis.Mode, "LOQA_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Command, "LOQA_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Endpoint, "LOQA_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.VoicesDir, "LOQA_SYNTHESIS_VOICES_DIR")
	overrideString(&cfg.Synthesis.Model, "LOQA_SYNTHESIS_MODEL")
	overrideInt(&cfg.Synthesis.SampleRate, "LOQA_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "LOQA_SYNTHESIS_CHANNELS")
	overrideFloat(&cfg.Synthesis.LengthScale, "LOQA_SYNTHESIS_LENGTH_SCALE")
	overrideFloat(&cfg.Synthesis.NoiseScale, "LOQA_SYNTHESIS_NOISE_SCALE")
	overrideFloat(&cfg.Synthesis.NoiseW, "LOQA_SYNTHESIS_NOISE_W")
	overrideFloat(&cfg.Synthesis.SentenceSilence, "LOQA_SYNTHESIS_SENTENCE_SILENCE")
	overrideInt(&cfg.Synthesis.MaxRetries, "LOQA_SYNTHESIS_MAX_RETRIES")
	overrideInt(&cfg.Synthesis.InitialBackoffMS, "LOQA_SYNTHESIS_INITIAL_BACKOFF_MS")
	overrideInt(&cfg.Synthesis.MaxBackoffMS, "LOQA_SYNTHESIS_MAX_BACKOFF_MS")
	overrideInt(&cfg.Synthesis.AttemptTimeoutMS, "LOQA_SYNTHESIS_ATTEMPT_TIMEOUT_MS")
	overrideInt(&cfg.Chunking.MaxChunkChars, "LOQA_CHUNKING_MAX_CHUNK_CHARS")
	overrideBool(&cfg.Chunking.MergeParagraphs, "LOQA_CHUNKING_MERGE_PARAGRAPHS")
	overrideBool(&cfg.Chunking.Normalize, "LOQA_CHUNKING_NORMALIZE")
	overrideFloat(&cfg.Assembly.InterChunkSilence, "LOQA_ASSEMBLY_INTER_CHUNK_SILENCE")
	overrideFloat(&cfg.Assembly.ChapterSilence, "LOQA_ASSEMBLY_CHAPTER_SILENCE")
	overrideInt(&cfg.Jobs.Workers, "LOQA_JOBS_WORKERS")
	overrideInt(&cfg.Jobs.QueueSize, "LOQA_JOBS_QUEUE_SIZE")
	overrideInt(&cfg.Jobs.ChunkTimeoutMS, "LOQA_JOBS_CHUNK_TIMEOUT_MS")
	overrideInt(&cfg.Jobs.JobTimeoutMS, "LOQA_JOBS_JOB_TIMEOUT_MS")
	overrideInt(&cfg.Preview.MaxChars, "LOQA_PREVIEW_MAX_CHARS")
	overrideInt(&cfg.Preview.TimeoutMS, "LOQA_PREVIEW_TIMEOUT_MS")
	overrideString(&cfg.Storage.OutputDir, "LOQA_STORAGE_OUTPUT_DIR")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideInt(&cfg.Node.HeartbeatIntervalMS, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeoutMS, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
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
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "job", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|job|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if err := validateSynthesis(cfg.Synthesis); err != nil {
		return err
	}
	if cfg.Chunking.MaxChunkChars <= 0 {
		return errors.New("chunking.max_chunk_chars must be positive")
	}
	if cfg.Assembly.InterChunkSilence < 0 || cfg.Assembly.ChapterSilence < 0 {
		return errors.New("assembly silences must be >= 0")
	}
	if cfg.Jobs.Workers <= 0 {
		return errors.New("jobs.workers must be >= 1")
	}
	if cfg.Jobs.QueueSize <= 0 {
		return errors.New("jobs.queue_size must be >= 1")
	}
	if cfg.Jobs.ChunkTimeoutMS < 0 || cfg.Jobs.JobTimeoutMS < 0 {
		return errors.New("jobs timeouts must be >= 0")
	}
	if cfg.Preview.MaxChars <= 0 {
		return errors.New("preview.max_chars must be positive")
	}
	if cfg.Preview.TimeoutMS <= 0 {
		return errors.New("preview.timeout_ms must be positive")
	}
	if cfg.Storage.OutputDir == "" {
		return errors.New("storage.output_dir must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty when the bus is enabled")
		}
		if cfg.Node.HeartbeatIntervalMS <= 0 || cfg.Node.HeartbeatTimeoutMS <= cfg.Node.HeartbeatIntervalMS {
			return errors.New("node.heartbeat_timeout_ms must exceed a positive heartbeat_interval_ms")
		}
	}
	return nil
}

func validateSynthesis(cfg SynthesisConfig) error {
	switch cfg.Mode {
	case "mock", "piper", "exec", "http":
	default:
		return errors.New("synthesis.mode must be one of mock|piper|exec|http")
	}
	if (cfg.Mode == "piper" || cfg.Mode == "exec") && strings.TrimSpace(cfg.Command) == "" {
		return fmt.Errorf("synthesis.command must be set when mode=%s", cfg.Mode)
	}
	if cfg.Mode == "http" && cfg.Endpoint == "" {
		return errors.New("synthesis.endpoint must be set when mode=http")
	}
	if cfg.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Channels <= 0 {
		return errors.New("synthesis.channels must be positive")
	}
	if cfg.LengthScale <= 0 {
		return errors.New("synthesis.length_scale must be positive")
	}
	if cfg.NoiseScale < 0 || cfg.NoiseScale > 1 {
		return errors.New("synthesis.noise_scale must be within [0,1]")
	}
	if cfg.NoiseW < 0 || cfg.NoiseW > 1 {
		return errors.New("synthesis.noise_w must be within [0,1]")
	}
	if cfg.SentenceSilence < 0 {
		return errors.New("synthesis.sentence_silence must be >= 0")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("synthesis.max_retries must be >= 0")
	}
	return nil
}
