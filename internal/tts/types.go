package tts

import "context"

// SynthRequest contains parameters to synthesize one utterance.
type SynthRequest struct {
	RunID    string
	TurnSeq  int
	Text     string
	Voice    string
	Language string
}

// SynthChunk contains 16-bit little-endian PCM data.
type SynthChunk struct {
	RunID      string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// Audio is a fully collected clip in its source format.
type Audio struct {
	SampleRate int
	Channels   int
	PCM        []byte
}
