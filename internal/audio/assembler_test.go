package audio

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/learnpod/internal/dialogue"
	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/retry"
	"github.com/loqalabs/learnpod/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSynth answers with a clip whose length in frames equals the number of
// words times 10 and whose samples all carry the value encoded in the text.
type fakeSynth struct {
	format  Format
	jitter  bool
	fail    string
	calls   atomic.Int32
	mu      sync.Mutex
	voices  []string
	maxBusy atomic.Int32
	busy    atomic.Int32
}

func (f *fakeSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	chunks := make(chan tts.SynthChunk, 1)
	errs := make(chan error, 1)
	f.calls.Add(1)
	f.mu.Lock()
	f.voices = append(f.voices, req.Voice)
	f.mu.Unlock()
	go func() {
		defer close(chunks)
		defer close(errs)
		n := f.busy.Add(1)
		defer f.busy.Add(-1)
		for {
			peak := f.maxBusy.Load()
			if n <= peak || f.maxBusy.CompareAndSwap(peak, n) {
				break
			}
		}
		if f.jitter {
			time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		}
		if f.fail != "" && strings.Contains(req.Text, f.fail) {
			errs <- errors.New("voice model crashed")
			return
		}
		value := int16(len(req.Text))
		frames := len(strings.Fields(req.Text)) * 10
		samples := make([]int16, frames*f.format.Channels)
		for i := range samples {
			samples[i] = value
		}
		chunks <- tts.SynthChunk{
			RunID:      req.RunID,
			SampleRate: f.format.SampleRate,
			Channels:   f.format.Channels,
			PCM:        encodePCM(samples),
			Final:      true,
		}
	}()
	return chunks, errs
}

func testOptions() Options {
	return Options{
		Format:      Format{SampleRate: 1000, Channels: 1},
		Gap:         50 * time.Millisecond,
		Concurrency: 3,
		Retry:       retry.Policy{MaxTries: 1},
	}
}

func makeTurns(n int) []dialogue.Turn {
	turns := make([]dialogue.Turn, n)
	speakers := []string{"Sakura", "Taro"}
	for i := range turns {
		turns[i] = dialogue.Turn{
			Seq:       i + 1,
			Speaker:   speakers[i%2],
			Utterance: strings.Repeat("word ", i%4+1) + strings.Repeat("x", i),
		}
	}
	return turns
}

var voices = map[string]string{"Sakura": "Zephyr", "Taro": "Puck"}

func TestAssembleKeepsTurnOrderUnderJitter(t *testing.T) {
	synth := &fakeSynth{format: Format{SampleRate: 1000, Channels: 1}, jitter: true}
	asm := NewAssembler(synth, testOptions(), newLogger())
	turns := makeTurns(24)

	timeline, err := asm.Assemble(context.Background(), "run-1", turns, voices)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(timeline.Clips) != len(turns) {
		t.Fatalf("expected %d clips, got %d", len(turns), len(timeline.Clips))
	}
	for i, clip := range timeline.Clips {
		if clip.TurnSeq != turns[i].Seq || clip.Speaker != turns[i].Speaker {
			t.Fatalf("clip %d out of order: %+v", i, clip.TurnSeq)
		}
		if clip.Samples[0] != int16(len(turns[i].Utterance)) {
			t.Fatalf("clip %d carries audio of another turn", i)
		}
	}
	if got := synth.maxBusy.Load(); got > 3 {
		t.Fatalf("concurrency limit exceeded: %d", got)
	}
}

func TestAssembleDurationIncludesGaps(t *testing.T) {
	synth := &fakeSynth{format: Format{SampleRate: 1000, Channels: 1}}
	asm := NewAssembler(synth, testOptions(), newLogger())
	turns := makeTurns(4)

	timeline, err := asm.Assemble(context.Background(), "run-1", turns, voices)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	var sum time.Duration
	for _, c := range timeline.Clips {
		sum += c.Duration
	}
	if want := sum + 3*timeline.Gap; timeline.TotalDuration != want {
		t.Fatalf("expected %s, got %s", want, timeline.TotalDuration)
	}
	// 1+3+4+5 fields at 10 frames each plus 3 gaps of 50 frames
	if frames := timeline.TotalFrames(); frames != 130+150 {
		t.Fatalf("expected 280 frames, got %d", frames)
	}
	if timeline.TotalDuration != 280*time.Millisecond {
		t.Fatalf("expected 280ms, got %s", timeline.TotalDuration)
	}
	if got := len(timeline.PCM()); got != 280*2 {
		t.Fatalf("expected 560 pcm bytes, got %d", got)
	}
	wav, err := timeline.WAV()
	if err != nil {
		t.Fatalf("wav: %v", err)
	}
	back, err := tts.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.SampleRate != 1000 || len(back.PCM) != 560 {
		t.Fatalf("unexpected wav %d Hz %d bytes", back.SampleRate, len(back.PCM))
	}
}

func TestAssembleUnknownSpeakerBeforeSynthesis(t *testing.T) {
	synth := &fakeSynth{format: Format{SampleRate: 1000, Channels: 1}}
	asm := NewAssembler(synth, testOptions(), newLogger())
	turns := makeTurns(3)
	turns[2].Speaker = "Kenji"

	_, err := asm.Assemble(context.Background(), "run-1", turns, voices)
	if !errors.Is(err, failure.ErrUnknownSpeaker) {
		t.Fatalf("expected unknown speaker, got %v", err)
	}
	if synth.calls.Load() != 0 {
		t.Fatalf("expected no synthesis calls, got %d", synth.calls.Load())
	}
}

func TestAssembleFailedClipReturnsNoAudio(t *testing.T) {
	synth := &fakeSynth{format: Format{SampleRate: 1000, Channels: 1}, fail: "xxxxx"}
	asm := NewAssembler(synth, testOptions(), newLogger())

	timeline, err := asm.Assemble(context.Background(), "run-1", makeTurns(8), voices)
	if !errors.Is(err, failure.ErrAudioSynthesis) {
		t.Fatalf("expected audio synthesis failure, got %v", err)
	}
	if len(timeline.Clips) != 0 || timeline.TotalDuration != 0 {
		t.Fatalf("expected no partial timeline, got %d clips", len(timeline.Clips))
	}
}

func TestAssembleSynthesizesRepeatedLinesOnce(t *testing.T) {
	synth := &fakeSynth{format: Format{SampleRate: 1000, Channels: 1}}
	asm := NewAssembler(synth, testOptions(), newLogger())
	turns := []dialogue.Turn{
		{Seq: 1, Speaker: "Sakura", Utterance: "Right."},
		{Seq: 2, Speaker: "Taro", Utterance: "Right."},
		{Seq: 3, Speaker: "Sakura", Utterance: "Right."},
	}

	timeline, err := asm.Assemble(context.Background(), "run-1", turns, voices)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if synth.calls.Load() != 2 {
		t.Fatalf("expected 2 calls for 2 distinct voice/text pairs, got %d", synth.calls.Load())
	}
	if timeline.Clips[2].TurnSeq != 3 || timeline.Clips[2].Voice != "Zephyr" {
		t.Fatalf("unexpected shared clip %+v", timeline.Clips[2])
	}
}

func TestAssembleNormalizesFormat(t *testing.T) {
	synth := &fakeSynth{format: Format{SampleRate: 500, Channels: 2}}
	asm := NewAssembler(synth, testOptions(), newLogger())

	timeline, err := asm.Assemble(context.Background(), "run-1", makeTurns(2), voices)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	// 10 stereo frames at 500 Hz become 20 mono frames at 1000 Hz
	if got := len(timeline.Clips[0].Samples); got != 20 {
		t.Fatalf("expected 20 samples, got %d", got)
	}
	if timeline.Clips[0].Duration != 20*time.Millisecond {
		t.Fatalf("expected 20ms, got %s", timeline.Clips[0].Duration)
	}
}

func TestAssembleRetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int32
	synth := synthFunc(func(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
		chunks := make(chan tts.SynthChunk, 1)
		errs := make(chan error, 1)
		if attempts.Add(1) == 1 {
			errs <- &failure.StatusError{Code: 503, Status: "503 Service Unavailable"}
		} else {
			chunks <- tts.SynthChunk{SampleRate: 1000, Channels: 1, PCM: make([]byte, 20)}
		}
		close(chunks)
		close(errs)
		return chunks, errs
	})
	opts := testOptions()
	opts.Retry = retry.Policy{MaxTries: 3, Initial: time.Millisecond, Max: time.Millisecond}
	asm := NewAssembler(synth, opts, newLogger())

	turns := []dialogue.Turn{{Seq: 1, Speaker: "Sakura", Utterance: "hello"}}
	if _, err := asm.Assemble(context.Background(), "run-1", turns, voices); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestAssembleHonoursCancellation(t *testing.T) {
	synth := &fakeSynth{format: Format{SampleRate: 1000, Channels: 1}}
	asm := NewAssembler(synth, testOptions(), newLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := asm.Assemble(ctx, "run-1", makeTurns(4), voices); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

type synthFunc func(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error)

func (f synthFunc) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	return f(ctx, req)
}

func TestConvertMixesAndResamples(t *testing.T) {
	stereo := []int16{100, 300, 200, 400}
	mono := convert(stereo, Format{SampleRate: 8000, Channels: 2}, Format{SampleRate: 8000, Channels: 1})
	if len(mono) != 2 || mono[0] != 200 || mono[1] != 300 {
		t.Fatalf("unexpected downmix %v", mono)
	}
	up := convert([]int16{0, 100}, Format{SampleRate: 1, Channels: 1}, Format{SampleRate: 2, Channels: 2})
	if len(up) != 8 || up[0] != 0 || up[2] != 50 || up[3] != 50 || up[4] != 100 {
		t.Fatalf("unexpected upmix/resample %v", up)
	}
}
