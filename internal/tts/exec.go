package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-narrator/internal/audio"
)

// execSynth speaks a JSON-lines protocol with an arbitrary engine wrapper:
// one request object on stdin, PCM frames as base64 on stdout.
type execSynth struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text            string  `json:"text"`
	Voice           string  `json:"voice"`
	LengthScale     float64 `json:"length_scale"`
	NoiseScale      float64 `json:"noise_scale"`
	NoiseW          float64 `json:"noise_w"`
	SentenceSilence float64 `json:"sentence_silence"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
}

type execResponse struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Final      bool   `json:"final"`
	Error      string `json:"error,omitempty"`
}

func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	args, err := parseCommand(command)
	if err != nil {
		return nil, err
	}
	return &execSynth{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req Request) (audio.Segment, error) {
	if err := req.Voice.Validate(); err != nil {
		return audio.Segment{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(execRequest{
		Text:            req.Text,
		Voice:           req.Voice.ModelID,
		LengthScale:     req.Voice.LengthScale,
		NoiseScale:      req.Voice.NoiseScale,
		NoiseW:          req.Voice.NoiseW,
		SentenceSilence: req.Voice.SentenceSilence,
		SampleRate:      e.sampleRate,
		Channels:        e.channels,
	})
	if err != nil {
		return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "encode synthesis request", Err: err}
	}

	command := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	command.Stdin = bytes.NewReader(append(data, '\n'))
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return audio.Segment{}, commandError(ctx, err, stderr.String())
	}

	rate := e.sampleRate
	var pcm []byte
	scanner := bufio.NewScanner(&stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "speech engine returned malformed output", Err: err}
		}
		if resp.Error != "" {
			return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "speech engine failed", Err: fmt.Errorf("%s", resp.Error)}
		}
		frame, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "speech engine returned malformed audio", Err: err}
		}
		if resp.SampleRate > 0 {
			rate = resp.SampleRate
		}
		pcm = append(pcm, frame...)
		if resp.Final {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "read speech engine output", Err: err}
	}
	if len(pcm) == 0 {
		return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "speech engine produced no audio"}
	}
	seg, err := audio.NewSegment(req.ChunkIndex, rate, e.channels, pcm)
	if err != nil {
		return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "speech engine returned malformed audio", Err: err}
	}
	return seg, nil
}
