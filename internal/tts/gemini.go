package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiSynth struct {
	client     *genai.Client
	model      string
	sampleRate int
}

// NewGeminiSynth creates a Gemini API backed synthesizer. Gemini returns raw
// L16 PCM; sampleRate is used when the response omits its rate.
func NewGeminiSynth(ctx context.Context, apiKey, model string, sampleRate int) (Synthesizer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiSynth{client: client, model: model, sampleRate: sampleRate}, nil
}

func (g *geminiSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		audio, err := g.generate(ctx, req)
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

func (g *geminiSynth) generate(ctx context.Context, req SynthRequest) (Audio, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: req.Voice},
			},
		},
	}
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(req.Text), cfg)
	if err != nil {
		return Audio{}, fmt.Errorf("generate speech: %w", err)
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return Audio{}, errors.New("empty response from Gemini")
	}

	var (
		out  Audio
		data []byte
	)
	for _, part := range result.Candidates[0].Content.Parts {
		blob := part.InlineData
		if blob == nil || len(blob.Data) == 0 {
			continue
		}
		if strings.HasPrefix(strings.ToLower(blob.MIMEType), "audio/wav") {
			return DecodeWAV(blob.Data)
		}
		rate, err := parsePCMMime(blob.MIMEType, g.sampleRate)
		if err != nil {
			return Audio{}, err
		}
		if out.SampleRate != 0 && out.SampleRate != rate {
			return Audio{}, fmt.Errorf("gemini returned mixed sample rates %d and %d", out.SampleRate, rate)
		}
		out.SampleRate = rate
		out.Channels = 1
		data = append(data, blob.Data...)
	}
	if len(data) == 0 {
		return Audio{}, errors.New("gemini response carried no audio")
	}
	out.PCM = data
	return out, nil
}
