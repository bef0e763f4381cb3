// Package audio turns parsed dialogue turns into one continuous timeline.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/loqalabs/learnpod/internal/dialogue"
	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/retry"
	"github.com/loqalabs/learnpod/internal/tts"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Options struct {
	Format            Format
	Gap               time.Duration
	Concurrency       int
	RequestsPerSecond float64
	Language          string
	Retry             retry.Policy
}

type Assembler struct {
	synth   tts.Synthesizer
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewAssembler(synth tts.Synthesizer, opts Options, logger *slog.Logger) *Assembler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Assembler{
		synth:  synth,
		opts:   opts,
		logger: logger.With(slog.String("component", "audio")),
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Concurrency
		a.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return a
}

// job is one distinct (voice, utterance) pair and the turn positions that share it.
type job struct {
	voice     string
	text      string
	positions []int
}

// Assemble synthesizes every turn and lays the clips out in turn order. Voices
// are resolved for all turns before the first synthesis call. A clip that still
// fails after retries aborts the whole timeline.
func (a *Assembler) Assemble(ctx context.Context, runID string, turns []dialogue.Turn, voices map[string]string) (Timeline, error) {
	if !a.opts.Format.Valid() {
		return Timeline{}, failure.Newf(failure.KindConfiguration, "assemble audio", "invalid target format %s", a.opts.Format)
	}
	if len(turns) == 0 {
		return Timeline{}, failure.Newf(failure.KindEmptyScript, "assemble audio", "no turns to synthesize")
	}

	jobs, err := planJobs(turns, voices)
	if err != nil {
		return Timeline{}, err
	}
	if err := ctx.Err(); err != nil {
		return Timeline{}, err
	}

	started := time.Now()
	clips := make([]Clip, len(turns))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			first := turns[j.positions[0]]
			samples, err := a.synthesize(gctx, runID, first.Seq, j)
			if err != nil {
				return err
			}
			frames := len(samples) / a.opts.Format.Channels
			for _, pos := range j.positions {
				clips[pos] = Clip{
					TurnSeq:  turns[pos].Seq,
					Speaker:  turns[pos].Speaker,
					Voice:    j.voice,
					Format:   a.opts.Format,
					Samples:  samples,
					Duration: a.opts.Format.Duration(frames),
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Timeline{}, err
	}

	timeline := newTimeline(clips, a.opts.Gap, a.opts.Format)
	a.logger.Info("timeline assembled",
		slog.String("run_id", runID),
		slog.Int("turns", len(turns)),
		slog.Int("synth_calls", len(jobs)),
		slog.Duration("duration", timeline.TotalDuration),
		slog.String("pcm_size", humanize.Bytes(uint64(timeline.TotalFrames()*a.opts.Format.Channels*2))),
		slog.Duration("elapsed", time.Since(started)))
	return timeline, nil
}

func planJobs(turns []dialogue.Turn, voices map[string]string) ([]*job, error) {
	var (
		jobs  []*job
		byKey = make(map[[2]string]*job)
	)
	for i, turn := range turns {
		voice, ok := voices[turn.Speaker]
		if !ok || voice == "" {
			return nil, failure.Newf(failure.KindUnknownSpeaker, "assemble audio",
				"turn %d: no voice assigned to speaker %q", turn.Seq, turn.Speaker)
		}
		key := [2]string{voice, turn.Utterance}
		if j, ok := byKey[key]; ok {
			j.positions = append(j.positions, i)
			continue
		}
		j := &job{voice: voice, text: turn.Utterance, positions: []int{i}}
		byKey[key] = j
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (a *Assembler) synthesize(ctx context.Context, runID string, seq int, j *job) ([]int16, error) {
	req := tts.SynthRequest{
		RunID:    runID,
		TurnSeq:  seq,
		Text:     j.text,
		Voice:    j.voice,
		Language: a.opts.Language,
	}
	clip, err := retry.Do(ctx, a.opts.Retry, a.logger, "synthesize turn", func(callCtx context.Context) (tts.Audio, error) {
		if a.limiter != nil {
			if err := a.limiter.Wait(callCtx); err != nil {
				return tts.Audio{}, err
			}
		}
		return tts.Collect(callCtx, a.synth, req)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		a.logger.Error("turn synthesis failed",
			slog.String("run_id", runID),
			slog.Int("turn", seq),
			slog.String("voice", j.voice),
			slog.String("error", err.Error()))
		return nil, failure.New(failure.KindAudioSynthesis, fmt.Sprintf("synthesize turn %d", seq), err)
	}

	src := Format{SampleRate: clip.SampleRate, Channels: clip.Channels}
	samples := convert(decodePCM(clip.PCM), src, a.opts.Format)
	if src != a.opts.Format {
		a.logger.Debug("clip normalized",
			slog.Int("turn", seq),
			slog.String("from", src.String()),
			slog.String("to", a.opts.Format.String()))
	}
	return samples, nil
}
