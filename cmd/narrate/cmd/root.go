package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-narrator/internal/config"
	"github.com/loqalabs/loqa-narrator/internal/tts"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	voice   voiceFlags
)

var rootCmd = &cobra.Command{
	Use:   "narrate",
	Short: "Convert long-form text into narrated audio",
	Long: `narrate runs the conversion pipeline locally: text is split into
sentence-aligned chunks, each chunk is synthesized by the configured
speech engine, and the segments are joined into a single WAV file.

Configuration is read from --config (YAML or TOML), .env and LOQA_*
environment variables, the same way the narratord daemon does.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML or TOML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log pipeline activity to stderr")
}

// voiceFlags holds the voice overrides shared by convert and preview.
type voiceFlags struct {
	preset          string
	model           string
	lengthScale     float64
	noiseScale      float64
	noiseW          float64
	sentenceSilence float64
}

func addVoiceFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringVar(&voice.preset, "preset", "", "voice preset applied before the other voice flags (see presets)")
	f.StringVar(&voice.model, "model", "", "voice model id (default from config)")
	f.Float64Var(&voice.lengthScale, "length-scale", 0, "speaking rate, >1 is slower")
	f.Float64Var(&voice.noiseScale, "noise-scale", 0, "phoneme noise in [0,1]")
	f.Float64Var(&voice.noiseW, "noise-w", 0, "phoneme width noise in [0,1]")
	f.Float64Var(&voice.sentenceSilence, "sentence-silence", 0, "seconds of silence after each sentence")
}

// overrides turns the flags the user actually set into voice overrides.
func (v voiceFlags) overrides(c *cobra.Command) tts.VoiceOverrides {
	o := tts.VoiceOverrides{Preset: v.preset, ModelID: v.model}
	set := func(name string, val float64) *float64 {
		if c.Flags().Changed(name) {
			return &val
		}
		return nil
	}
	o.LengthScale = set("length-scale", v.lengthScale)
	o.NoiseScale = set("noise-scale", v.noiseScale)
	o.NoiseW = set("noise-w", v.noiseW)
	o.SentenceSilence = set("sentence-silence", v.sentenceSilence)
	return o
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	// the CLI runs one conversion in-process
	cfg.Bus.Enabled = false
	cfg.EventStore.RetentionMode = "ephemeral"
	return cfg, nil
}

func newLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func readInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
