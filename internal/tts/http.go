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
	"time"

	"github.com/loqalabs/learnpod/internal/failure"
)

const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
	contentTypeWAV    = "audio/wav"
)

// HTTPSynth talks to a standalone speech service that answers with WAV audio.
type HTTPSynth struct {
	baseURL    string
	httpClient *http.Client
}

type speechRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice"`
	Language string `json:"language,omitempty"`
}

type speechErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

func NewHTTPSynth(baseURL string, timeout time.Duration) *HTTPSynth {
	return &HTTPSynth{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (h *HTTPSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		audio, err := h.generate(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		chunks <- SynthChunk{
			RunID:      req.RunID,
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
			PCM:        audio.PCM,
			Final:      true,
		}
	}()
	return chunks, errs
}

func (h *HTTPSynth) generate(ctx context.Context, req SynthRequest) (Audio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Audio{}, errors.New("text cannot be empty")
	}
	body, err := json.Marshal(speechRequest{Text: req.Text, Voice: req.Voice, Language: req.Language})
	if err != nil {
		return Audio{}, fmt.Errorf("marshal speech request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+apiGenerateSpeech, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("create speech request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", contentTypeWAV)

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return Audio{}, fmt.Errorf("send speech request to %s: %w", h.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Audio{}, parseErrorResponse(resp)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, contentTypeWAV) {
		return Audio{}, fmt.Errorf("unexpected content type: expected %s, got %s", contentTypeWAV, ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("read audio data: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, errors.New("received empty audio data")
	}
	return DecodeWAV(data)
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed speechErrorResponse
	detail := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Detail != "" {
		detail = parsed.Detail
		if parsed.ErrorCode != "" {
			detail += " (code: " + parsed.ErrorCode + ")"
		}
	}
	return &failure.StatusError{Code: resp.StatusCode, Status: resp.Status, Body: detail}
}

// Health checks the speech service's health endpoint.
func (h *HTTPSynth) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+apiHealth, nil)
	if err != nil {
		return fmt.Errorf("create health request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("speech service health check: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &failure.StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return nil
}
