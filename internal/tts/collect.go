package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

// Collect drains one Synthesize call into a single clip. Chunks must agree on
// sample rate and channel count.
func Collect(ctx context.Context, synth Synthesizer, req SynthRequest) (Audio, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var (
		out Audio
		buf bytes.Buffer
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if out.SampleRate == 0 {
				out.SampleRate = chunk.SampleRate
				out.Channels = chunk.Channels
			} else if chunk.SampleRate != out.SampleRate || chunk.Channels != out.Channels {
				return Audio{}, fmt.Errorf("chunk %d changes format from %d Hz/%d ch to %d Hz/%d ch",
					chunk.Sequence, out.SampleRate, out.Channels, chunk.SampleRate, chunk.Channels)
			}
			buf.Write(chunk.PCM)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return Audio{}, err
			}
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		}
	}
	if out.SampleRate <= 0 || out.Channels <= 0 {
		return Audio{}, errors.New("synthesizer returned no audio format")
	}
	if buf.Len()%(2*out.Channels) != 0 {
		return Audio{}, fmt.Errorf("pcm payload of %d bytes is not aligned to %d channel frames", buf.Len(), out.Channels)
	}
	out.PCM = buf.Bytes()
	return out, nil
}
