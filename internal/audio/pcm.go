package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Format describes interleaved 16-bit PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) Valid() bool { return f.SampleRate > 0 && f.Channels > 0 }

func (f Format) String() string { return fmt.Sprintf("%d Hz/%d ch", f.SampleRate, f.Channels) }

// Duration of frames at this format's sample rate.
func (f Format) Duration(frames int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Frames returns the number of frames needed to cover d, rounded to the nearest frame.
func (f Format) Frames(d time.Duration) int {
	return int((d*time.Duration(f.SampleRate) + time.Second/2) / time.Second)
}

func decodePCM(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func encodePCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// convert maps interleaved samples from src to dst: channels are mixed first,
// then every channel is resampled linearly.
func convert(samples []int16, src, dst Format) []int16 {
	mixed := mixChannels(samples, src.Channels, dst.Channels)
	if src.SampleRate == dst.SampleRate {
		return mixed
	}
	return resample(mixed, dst.Channels, src.SampleRate, dst.SampleRate)
}

func mixChannels(samples []int16, from, to int) []int16 {
	if from == to {
		return samples
	}
	frames := len(samples) / from
	out := make([]int16, frames*to)
	for i := 0; i < frames; i++ {
		frame := samples[i*from : (i+1)*from]
		if to == 1 {
			sum := 0
			for _, s := range frame {
				sum += int(s)
			}
			out[i] = int16(sum / from)
			continue
		}
		for c := 0; c < to; c++ {
			out[i*to+c] = frame[c%from]
		}
	}
	return out
}

func resample(samples []int16, channels, from, to int) []int16 {
	inFrames := len(samples) / channels
	if inFrames == 0 {
		return nil
	}
	outFrames := int((int64(inFrames)*int64(to) + int64(from)/2) / int64(from))
	out := make([]int16, outFrames*channels)
	ratio := float64(from) / float64(to)
	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		next := j + 1
		if next >= inFrames {
			next = inFrames - 1
		}
		if j >= inFrames {
			j = inFrames - 1
		}
		for c := 0; c < channels; c++ {
			a := float64(samples[j*channels+c])
			b := float64(samples[next*channels+c])
			out[i*channels+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}
