package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-narrator/internal/audio"
)

// httpSynth calls a remote engine that answers POST /synthesize with a WAV body.
type httpSynth struct {
	endpoint string
	client   *http.Client
}

type httpRequest struct {
	Text            string  `json:"text"`
	Model           string  `json:"model"`
	LengthScale     float64 `json:"length_scale"`
	NoiseScale      float64 `json:"noise_scale"`
	NoiseW          float64 `json:"noise_w"`
	SentenceSilence float64 `json:"sentence_silence"`
}

func NewHTTPSynth(endpoint string, client *http.Client) Synthesizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpSynth{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (h *httpSynth) Synthesize(ctx context.Context, req Request) (audio.Segment, error) {
	if err := req.Voice.Validate(); err != nil {
		return audio.Segment{}, err
	}
	body, err := json.Marshal(httpRequest{
		Text:            req.Text,
		Model:           req.Voice.ModelID,
		LengthScale:     req.Voice.LengthScale,
		NoiseScale:      req.Voice.NoiseScale,
		NoiseW:          req.Voice.NoiseW,
		SentenceSilence: req.Voice.SentenceSilence,
	})
	if err != nil {
		return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "encode synthesis request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "build synthesis request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return audio.Segment{}, &SynthesisError{Kind: KindTimeout, Message: "speech synthesis timed out", Err: err}
		}
		if ctx.Err() != nil {
			return audio.Segment{}, &SynthesisError{Kind: KindTimeout, Message: "speech synthesis was interrupted", Err: err}
		}
		return audio.Segment{}, &SynthesisError{Kind: KindEngineUnavailable, Message: "speech engine is not reachable", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Segment{}, Classify(fmt.Errorf("read synthesis response: %w", err))
	}
	if resp.StatusCode >= 300 {
		return audio.Segment{}, statusError(resp.StatusCode, resp.Status, payload)
	}
	seg, err := audio.DecodeWAV(payload, req.ChunkIndex)
	if err != nil {
		return audio.Segment{}, &SynthesisError{Kind: KindInternal, Message: "speech engine returned malformed audio", Err: err}
	}
	return seg, nil
}

func statusError(code int, status string, body []byte) *SynthesisError {
	err := fmt.Errorf("engine returned status %s: %s", status, strings.TrimSpace(string(body)))
	switch code {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &SynthesisError{Kind: KindEngineUnavailable, Message: "speech engine is not available", Err: err}
	case http.StatusRequestTimeout:
		return &SynthesisError{Kind: KindTimeout, Message: "speech synthesis timed out", Err: err}
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return &SynthesisError{Kind: KindInvalidVoice, Message: "speech engine rejected the voice", Err: err}
	}
	return &SynthesisError{Kind: KindInternal, Message: "speech engine failed", Err: err}
}
