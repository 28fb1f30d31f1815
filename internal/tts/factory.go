package tts

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-narrator/internal/config"
)

// NewSynthesizer builds the configured engine wrapped with retry.
func NewSynthesizer(cfg config.SynthesisConfig, logger *slog.Logger) (Synthesizer, error) {
	var (
		engine Synthesizer
		err    error
	)
	switch cfg.Mode {
	case "mock", "":
		engine = NewMockSynth(cfg.SampleRate, cfg.Channels)
	case "piper":
		engine, err = NewPiperSynth(cfg.Command, cfg.VoicesDir, cfg.SampleRate, logger)
	case "exec":
		engine, err = NewExecSynth(cfg.Command, cfg.SampleRate, cfg.Channels)
	case "http":
		engine = NewHTTPSynth(cfg.Endpoint, nil)
	default:
		return nil, fmt.Errorf("unknown synthesis mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("synthesis engine configured",
		slog.String("mode", cfg.Mode),
		slog.String("model", cfg.Model),
		slog.Int("max_retries", cfg.MaxRetries))
	return WithRetry(engine, PolicyFromConfig(cfg), logger), nil
}
