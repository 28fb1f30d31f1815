package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Chunking.MaxChunkChars != 1500 {
		t.Fatalf("expected default chunk size 1500, got %d", cfg.Chunking.MaxChunkChars)
	}
	if cfg.Synthesis.NoiseScale != 0.667 || cfg.Synthesis.NoiseW != 0.8 {
		t.Fatalf("unexpected voice defaults: %+v", cfg.Synthesis)
	}
	if cfg.Preview.MaxChars != 500 || cfg.Preview.TimeoutMS != 30000 {
		t.Fatalf("unexpected preview defaults: %+v", cfg.Preview)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_MAX_JOBS", "123")
	t.Setenv("LOQA_SYNTHESIS_MODE", "piper")
	t.Setenv("LOQA_SYNTHESIS_LENGTH_SCALE", "1.25")
	t.Setenv("LOQA_JOBS_WORKERS", "4")
	t.Setenv("LOQA_JOBS_JOB_TIMEOUT_MS", "60000")
	t.Setenv("LOQA_CHUNKING_MERGE_PARAGRAPHS", "true")
	t.Setenv("LOQA_NODE_ID", "narrator-7")
	t.Setenv("LOQA_TELEMETRY_TRACE_STDOUT", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Bus.Enabled {
		t.Fatal("expected bus enabled override")
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
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.MaxJobs != 123 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.Synthesis.Mode != "piper" || cfg.Synthesis.LengthScale != 1.25 {
		t.Fatalf("expected synthesis overrides, got %+v", cfg.Synthesis)
	}
	if cfg.Jobs.Workers != 4 || cfg.Jobs.JobTimeoutMS != 60000 {
		t.Fatalf("expected jobs overrides, got %+v", cfg.Jobs)
	}
	if !cfg.Chunking.MergeParagraphs {
		t.Fatal("expected merge paragraphs override")
	}
	if cfg.Node.ID != "narrator-7" || !cfg.Telemetry.TraceStdout {
		t.Fatalf("expected node and telemetry overrides, got %+v %+v", cfg.Node, cfg.Telemetry)
	}
}

func TestLoadYAMLAndTOML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yamlPath := filepath.Join(dir, "narrator.yaml")
	yamlDoc := "synthesis:\n  mode: http\n  endpoint: http://tts:5000\njobs:\n  workers: 3\n"
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if cfg.Synthesis.Mode != "http" || cfg.Synthesis.Endpoint != "http://tts:5000" || cfg.Jobs.Workers != 3 {
		t.Fatalf("yaml not applied: %+v %+v", cfg.Synthesis, cfg.Jobs)
	}
	if cfg.Synthesis.SampleRate != 22050 {
		t.Fatalf("expected defaults to survive partial yaml, got %d", cfg.Synthesis.SampleRate)
	}

	tomlPath := filepath.Join(dir, "narrator.toml")
	tomlDoc := "[assembly]\ninter_chunk_silence = 0.5\nchapter_silence = 2.0\n\n[preview]\nmax_chars = 200\n"
	if err := os.WriteFile(tomlPath, []byte(tomlDoc), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	cfg, err = Load(tomlPath)
	if err != nil {
		t.Fatalf("load toml: %v", err)
	}
	if cfg.Assembly.InterChunkSilence != 0.5 || cfg.Assembly.ChapterSilence != 2.0 || cfg.Preview.MaxChars != 200 {
		t.Fatalf("toml not applied: %+v %+v", cfg.Assembly, cfg.Preview)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("LOQA_STORAGE_OUTPUT_DIR=/srv/audio\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("LOQA_STORAGE_OUTPUT_DIR") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.OutputDir != "/srv/audio" {
		t.Fatalf("expected .env override, got %q", cfg.Storage.OutputDir)
	}
}

func TestValidateRejectsBadVoiceDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LOQA_SYNTHESIS_NOISE_SCALE", "1.5")
	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error for noise_scale outside [0,1]")
	}
}

func TestValidateRequiresCommandForPiper(t *testing.T) {
	cfg := Default()
	cfg.Synthesis.Mode = "piper"
	cfg.Synthesis.Command = " "
	if err := validate(cfg); err == nil {
		t.Fatal("expected error when piper command is empty")
	}
}

func TestValidateHeartbeatOnlyWithBus(t *testing.T) {
	cfg := Default()
	cfg.Node.HeartbeatTimeoutMS = cfg.Node.HeartbeatIntervalMS
	if err := validate(cfg); err != nil {
		t.Fatalf("node settings should be ignored without a bus: %v", err)
	}
	cfg.Bus.Enabled = true
	if err := validate(cfg); err == nil {
		t.Fatal("expected error when heartbeat timeout does not exceed the interval")
	}
}
