package tts

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
	"time"
)

const (
	mockWordDuration = 80 * time.Millisecond
	mockMinDuration  = 200 * time.Millisecond
)

type mockSynth struct {
	sampleRate int
	channels   int
}

// NewMockSynth returns an offline synthesizer that renders a quiet tone whose
// pitch depends on the voice and whose length grows with the word count.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels}
}

// MockDuration reports how long the mock clip for text will be.
func MockDuration(text string) time.Duration {
	d := time.Duration(len(strings.Fields(text))) * mockWordDuration
	if d < mockMinDuration {
		d = mockMinDuration
	}
	return d
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		default:
		}
		chunks <- SynthChunk{
			RunID:      req.RunID,
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        m.tone(req.Voice, MockDuration(req.Text)),
			Final:      true,
		}
	}()
	return chunks, errs
}

func (m *mockSynth) tone(voice string, d time.Duration) []byte {
	h := fnv.New32a()
	_, _ = h.Write([]byte(voice))
	freq := 180 + float64(h.Sum32()%220)

	frames := int(d.Seconds() * float64(m.sampleRate))
	pcm := make([]byte, frames*m.channels*2)
	for i := 0; i < frames; i++ {
		v := int16(2000 * math.Sin(2*math.Pi*freq*float64(i)/float64(m.sampleRate)))
		for c := 0; c < m.channels; c++ {
			binary.LittleEndian.PutUint16(pcm[(i*m.channels+c)*2:], uint16(v))
		}
	}
	return pcm
}
