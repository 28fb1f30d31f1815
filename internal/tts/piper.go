package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-narrator/internal/audio"
	"github.com/mattn/go-shellwords"
)

// piperSynth runs the Piper CLI once per chunk, feeding text on stdin and
// reading raw s16le PCM from stdout.
type piperSynth struct {
	cmd         []string
	voicesDir   string
	defaultRate int
	logger      *slog.Logger

	mu    sync.Mutex
	rates map[string]int
}

type piperModelConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
}

func NewPiperSynth(command, voicesDir string, defaultRate int, logger *slog.Logger) (Synthesizer, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, err
	}
	return &piperSynth{
		cmd:         args,
		voicesDir:   voicesDir,
		defaultRate: defaultRate,
		logger:      logger.With(slog.String("component", "tts-piper")),
		rates:       make(map[string]int),
	}, nil
}

func parseCommand(command string) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return args, nil
}

func (p *piperSynth) Synthesize(ctx context.Context, req Request) (audio.Segment, error) {
	if err := req.Voice.Validate(); err != nil {
		return audio.Segment{}, err
	}
	model := p.modelPath(req.Voice.ModelID)
	if _, err := os.Stat(model); err != nil {
		return audio.Segment{}, &SynthesisError{
			Kind:    KindInvalidVoice,
			Message: fmt.Sprintf("voice model %q not found", req.Voice.ModelID),
			Err:     err,
		}
	}
	rate := p.sampleRate(model)

	args := append([]string{}, p.cmd[1:]...)
	args = append(args,
		"--model", model,
		"--output_raw",
		"--length_scale", formatFloat(req.Voice.LengthScale),
		"--noise_scale", formatFloat(req.Voice.NoiseScale),
		"--noise_w", formatFloat(req.Voice.NoiseW),
		"--sentence_silence", formatFloat(req.Voice.SentenceSilence),
	)
	command := exec.CommandContext(ctx, p.cmd[0], args...)
	command.Stdin = strings.NewReader(req.Text)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return audio.Segment{}, commandError(ctx, err, stderr.String())
	}
	pcm := stdout.Bytes()
	if len(pcm) == 0 {
		return audio.Segment{}, &SynthesisError{
			Kind:    KindInternal,
			Message: "speech engine produced no audio",
			Err:     errors.New(strings.TrimSpace(stderr.String())),
		}
	}
	// Piper writes whole samples, a trailing odd byte means a truncated stream.
	pcm = pcm[:len(pcm)-len(pcm)%2]
	seg, err := audio.NewSegment(req.ChunkIndex, rate, 1, pcm)
	if err != nil {
		return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "speech engine returned malformed audio", Err: err}
	}
	return seg, nil
}

func (p *piperSynth) modelPath(modelID string) string {
	if filepath.IsAbs(modelID) || strings.HasSuffix(modelID, ".onnx") {
		return modelID
	}
	return filepath.Join(p.voicesDir, modelID+".onnx")
}

// sampleRate reads the model's .onnx.json sidecar once per model.
func (p *piperSynth) sampleRate(model string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rate, ok := p.rates[model]; ok {
		return rate
	}
	rate := p.defaultRate
	data, err := os.ReadFile(model + ".json")
	if err == nil {
		var cfg piperModelConfig
		if err := json.Unmarshal(data, &cfg); err == nil && cfg.Audio.SampleRate > 0 {
			rate = cfg.Audio.SampleRate
		} else if err != nil {
			p.logger.Warn("invalid voice model config", slog.String("model", model), slogError(err))
		}
	}
	p.rates[model] = rate
	return rate
}

// commandError maps a failed engine process onto the synthesis taxonomy.
func commandError(ctx context.Context, err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &SynthesisError{Kind: KindTimeout, Message: "speech synthesis timed out", Err: err}
	case ctx.Err() != nil:
		return &SynthesisError{Kind: KindTimeout, Message: "speech synthesis was interrupted", Err: ctx.Err()}
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return &SynthesisError{Kind: KindEngineUnavailable, Message: "speech engine is not available", Err: err}
	}
	if stderr != "" {
		err = fmt.Errorf("%w: %s", err, stderr)
	}
	return &SynthesisError{Kind: KindInternal, Message: "speech engine failed", Err: err}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
