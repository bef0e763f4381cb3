package audio

import (
	"time"

	"github.com/loqalabs/learnpod/internal/tts"
)

// Clip is one synthesized turn in the timeline format.
type Clip struct {
	TurnSeq  int
	Speaker  string
	Voice    string
	Format   Format
	Samples  []int16
	Duration time.Duration
}

// Timeline is the ordered clip list of one run. Clips are sorted by TurnSeq and
// TotalDuration is the sum of clip durations plus one Gap between neighbours.
type Timeline struct {
	Clips         []Clip
	Gap           time.Duration
	Format        Format
	TotalDuration time.Duration
}

func newTimeline(clips []Clip, gap time.Duration, format Format) Timeline {
	t := Timeline{Clips: clips, Gap: gap, Format: format}
	for _, c := range clips {
		t.TotalDuration += c.Duration
	}
	if len(clips) > 1 {
		t.TotalDuration += time.Duration(len(clips)-1) * gap
	}
	return t
}

// TotalFrames counts the frames PCM will produce, gaps included.
func (t Timeline) TotalFrames() int {
	if !t.Format.Valid() {
		return 0
	}
	frames := 0
	for i, c := range t.Clips {
		frames += len(c.Samples) / t.Format.Channels
		if i > 0 {
			frames += t.Format.Frames(t.Gap)
		}
	}
	return frames
}

// PCM concatenates the clips with silence between them.
func (t Timeline) PCM() []byte {
	gap := make([]int16, t.Format.Frames(t.Gap)*t.Format.Channels)
	total := 0
	for i, c := range t.Clips {
		total += len(c.Samples)
		if i > 0 {
			total += len(gap)
		}
	}
	samples := make([]int16, 0, total)
	for i, c := range t.Clips {
		if i > 0 {
			samples = append(samples, gap...)
		}
		samples = append(samples, c.Samples...)
	}
	return encodePCM(samples)
}

// WAV renders the timeline as a 16-bit RIFF/WAVE file.
func (t Timeline) WAV() ([]byte, error) {
	return tts.EncodeWAV(tts.Audio{
		SampleRate: t.Format.SampleRate,
		Channels:   t.Format.Channels,
		PCM:        t.PCM(),
	})
}
