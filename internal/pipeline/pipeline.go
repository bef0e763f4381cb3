// Package pipeline drives one document through chunking, script composition,
// turn parsing, audio assembly and study material derivation, and hands the
// artifacts to storage and the notifier.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/loqalabs/learnpod/internal/audio"
	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/dialogue"
	"github.com/loqalabs/learnpod/internal/document"
	"github.com/loqalabs/learnpod/internal/eventstore"
	"github.com/loqalabs/learnpod/internal/export"
	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/llm"
	"github.com/loqalabs/learnpod/internal/protocol"
	"github.com/loqalabs/learnpod/internal/retry"
	"github.com/loqalabs/learnpod/internal/script"
	"github.com/loqalabs/learnpod/internal/storage"
	"github.com/loqalabs/learnpod/internal/study"
	"github.com/loqalabs/learnpod/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const partialSaveTimeout = 30 * time.Second

// Asker is the generation client shared by every text stage. *llm.Client satisfies it.
type Asker interface {
	Ask(ctx context.Context, req llm.Request) (string, error)
}

// Notifier receives the outcome of every run. *notify.Publisher satisfies it.
type Notifier interface {
	Completed(ctx context.Context, msg protocol.RunCompleted) error
	Failed(ctx context.Context, msg protocol.RunFailed) error
}

// Ledger records runs and their stage transitions. *eventstore.Store satisfies it.
type Ledger interface {
	AppendRun(ctx context.Context, runID, source, title string) error
	UpdateRun(ctx context.Context, runID, status, stage, location, errText string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// Deps are the external collaborators of a pipeline. Notifier and Ledger are optional.
type Deps struct {
	Asker    Asker
	Synth    tts.Synthesizer
	Store    storage.Store
	Notifier Notifier
	Ledger   Ledger
}

// Input is one document to process.
type Input struct {
	Name string
	Raw  []byte
}

// Result holds everything a run produced. On failure only the fields of the
// stages that completed are set.
type Result struct {
	RunID       string
	Title       string
	Location    string
	Chunks      []document.Chunk
	Draft       script.Draft
	Turns       []dialogue.Turn
	Timeline    audio.Timeline
	Study       study.Set
	Explanation string
	Artifacts   []export.Artifact
	Elapsed     time.Duration
}

type Pipeline struct {
	cfg       config.Config
	deps      Deps
	roster    dialogue.Roster
	voices    map[string]string
	composer  *script.Composer
	assembler *audio.Assembler
	instr     *instruments
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time
}

// New validates cfg and wires the stage components. No external call is made.
func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Pipeline, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if deps.Asker == nil || deps.Synth == nil || deps.Store == nil {
		return nil, failure.Newf(failure.KindConfiguration, "build pipeline", "generation client, synthesizer and store are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "pipeline"))

	roster, voices := Roster(cfg.Speakers)
	pc := cfg.Pipeline
	composer := script.NewComposer(deps.Asker, script.Options{
		Roster:         roster,
		Target:         script.Target{Min: pc.TargetWordsMin, Max: pc.TargetWordsMax},
		MaxRefinements: pc.MaxRefinements,
		GrammarRetries: pc.GrammarRetries,
		SummaryTurns:   pc.SummaryTurns,
		Language:       pc.Language,
		Audience:       pc.Audience,
	}, logger)
	assembler := audio.NewAssembler(deps.Synth, audio.Options{
		Format:            audio.Format{SampleRate: cfg.TTS.SampleRate, Channels: cfg.TTS.Channels},
		Gap:               time.Duration(pc.GapMS) * time.Millisecond,
		Concurrency:       pc.Concurrency,
		RequestsPerSecond: pc.RequestsPerSecond,
		Language:          pc.Language,
		Retry:             retry.FromConfig(cfg.Retry, cfg.TTS.TimeoutMS),
	}, logger)

	instr, err := newInstruments()
	if err != nil {
		logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	return &Pipeline{
		cfg:       cfg,
		deps:      deps,
		roster:    roster,
		voices:    voices,
		composer:  composer,
		assembler: assembler,
		instr:     instr,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
	}, nil
}

// NewFromConfig builds the generation and speech backends selected in cfg and
// wires a pipeline around them.
func NewFromConfig(ctx context.Context, cfg config.Config, store storage.Store, notifier Notifier, ledger Ledger, logger *slog.Logger) (*Pipeline, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	gen, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return nil, failure.New(failure.KindConfiguration, "build generator", err)
	}
	synth, err := tts.New(ctx, cfg.TTS)
	if err != nil {
		return nil, failure.New(failure.KindConfiguration, "build synthesizer", err)
	}
	client := llm.NewClient(gen, cfg.LLM, retry.FromConfig(cfg.Retry, cfg.LLM.TimeoutMS), logger)
	return New(cfg, Deps{Asker: client, Synth: synth, Store: store, Notifier: notifier, Ledger: ledger}, logger)
}

// Roster builds the dialogue roster and the label to voice map from the
// configured speakers. Slot IDs and "Speaker N" style names resolve to the
// speaker's display name.
func Roster(speakers []config.SpeakerConfig) (dialogue.Roster, map[string]string) {
	entries := make([]dialogue.Speaker, 0, len(speakers))
	voices := make(map[string]string, len(speakers))
	for i, s := range speakers {
		entries = append(entries, dialogue.Speaker{Label: s.Name, Aliases: dialogue.SlotAliases(s.ID, i+1)})
		voices[s.Name] = s.Voice
	}
	return dialogue.NewRoster(entries...), voices
}

// Run processes one document. A run that does not complete returns a *Failure
// together with the partial Result.
func (p *Pipeline) Run(ctx context.Context, in Input) (Result, error) {
	r := &run{
		p:      p,
		id:     p.newID(),
		source: in.Name,
		start:  p.now(),
	}
	r.logger = p.logger.With(slog.String("run_id", r.id))
	r.result.RunID = r.id

	ctx, span := p.tracer().Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", r.id),
		attribute.String("source", in.Name)))
	defer span.End()
	r.traceID = span.SpanContext().TraceID()

	if err := r.execute(ctx, in); err != nil {
		f := r.fail(ctx, err)
		span.RecordError(f)
		span.SetStatus(codes.Error, f.Kind.String())
		r.result.Elapsed = p.now().Sub(r.start)
		return r.result, f
	}
	r.result.Elapsed = p.now().Sub(r.start)
	return r.result, nil
}

func (p *Pipeline) tracer() trace.Tracer { return p.instr.tracer }

// run is the mutable state of one execution.
type run struct {
	p       *Pipeline
	id      string
	source  string
	title   string
	start   time.Time
	logger  *slog.Logger
	traceID trace.TraceID

	stage     Stage
	target    Stage
	lastStage time.Time
	objects   []storage.Object
	stored    bool
	result    Result
}

func (r *run) execute(ctx context.Context, in Input) error {
	p := r.p
	r.lastStage = r.start
	r.ledger(func(l Ledger) error { return l.AppendRun(ctx, r.id, r.source, "") })
	r.logger.Info("run started", slog.String("source", in.Name), slog.String("size", humanize.Bytes(uint64(len(in.Raw)))))

	var doc document.Document
	if err := r.step(ctx, StageIngested, func(ctx context.Context) error {
		var err error
		doc, err = document.Parse(in.Name, in.Raw)
		return err
	}); err != nil {
		return err
	}
	r.title = doc.Title
	r.result.Title = doc.Title
	r.ledger(func(l Ledger) error { return l.AppendRun(ctx, r.id, r.source, r.title) })
	if p.cfg.Output.KeepInput {
		r.keep(export.Input(in.Raw))
	}
	r.advance(ctx, StageIngested, map[string]any{"title": doc.Title, "words": document.CountWords(doc.Body)})

	if err := r.step(ctx, StageChunked, func(ctx context.Context) error {
		var err error
		r.result.Chunks, err = document.Split(doc, p.cfg.Pipeline.ChunkTokens)
		return err
	}); err != nil {
		return err
	}
	oversized := 0
	for _, c := range r.result.Chunks {
		if c.Oversized {
			oversized++
		}
	}
	r.advance(ctx, StageChunked, map[string]any{"chunks": len(r.result.Chunks), "oversized": oversized})

	if err := r.step(ctx, StageScriptFinal, func(ctx context.Context) error {
		var err error
		r.result.Draft, err = p.composer.Compose(ctx, r.id, doc.Title, r.result.Chunks)
		return err
	}); err != nil {
		return err
	}
	draft := r.result.Draft
	r.keep(export.Script(doc.Title, draft))
	p.instr.recordScript(ctx, draft.WordCount, draft.WordCountOutOfRange)
	r.advance(ctx, StageScriptFinal, map[string]any{
		"words":        draft.WordCount,
		"attempts":     draft.Attempts,
		"out_of_range": draft.WordCountOutOfRange,
	})

	var check dialogue.Result
	if err := r.step(ctx, StageTurnsParsed, func(ctx context.Context) error {
		var err error
		r.result.Turns, check, err = dialogue.Parse(draft.Text, p.roster)
		return err
	}); err != nil {
		return err
	}
	if len(check.Rejected) > 0 {
		r.logger.Warn("script lines rejected", slog.Int("rejected", len(check.Rejected)))
	}
	r.advance(ctx, StageTurnsParsed, map[string]any{"turns": len(r.result.Turns), "rejected": len(check.Rejected)})

	if err := r.step(ctx, StageAudioAssembled, func(ctx context.Context) error {
		var err error
		r.result.Timeline, err = p.assembler.Assemble(ctx, r.id, r.result.Turns, p.voices)
		if err != nil {
			return err
		}
		podcast, err := export.Podcast(r.result.Timeline)
		if err != nil {
			return failure.New(failure.KindAudioSynthesis, "encode podcast", err)
		}
		r.keep(podcast)
		return nil
	}); err != nil {
		return err
	}
	p.instr.recordAudio(ctx, r.result.Timeline.TotalDuration)
	r.advance(ctx, StageAudioAssembled, map[string]any{
		"clips":    len(r.result.Timeline.Clips),
		"duration": r.result.Timeline.TotalDuration.String(),
	})

	if err := r.step(ctx, StageQADerived, r.deriveStudy); err != nil {
		return err
	}
	r.advance(ctx, StageQADerived, map[string]any{
		"qa_items":   len(r.result.Study.Items),
		"flashcards": len(r.result.Study.Flashcards),
	})

	return r.step(ctx, StageComplete, r.complete)
}

// deriveStudy writes the explanation and the Q&A set, both from the final script.
func (r *run) deriveStudy(ctx context.Context) error {
	p := r.p
	pc := p.cfg.Pipeline
	text := r.result.Draft.Text

	explanation, err := study.NewExplainer(p.deps.Asker, pc.Language, r.title, r.logger).Explain(ctx, r.id, text)
	if err != nil {
		return err
	}
	r.result.Explanation = explanation
	r.keep(export.Explanation(explanation))
	if p.cfg.Output.Docx {
		obj, err := export.ExplanationDocx(explanation)
		if err != nil {
			r.logger.Warn("explanation docx skipped", slog.String("error", err.Error()))
		} else {
			r.keep(obj)
		}
	}

	deriver := study.NewDeriver(p.deps.Asker, study.Options{
		Count:          pc.QACount,
		GrammarRetries: pc.GrammarRetries,
		Language:       pc.Language,
		Topic:          r.title,
	}, r.logger)
	set, err := deriver.Derive(ctx, r.id, text)
	if err != nil {
		return err
	}
	r.result.Study = set
	r.keep(export.Questions(r.title, set))
	questions, err := export.QuestionsYAML(set)
	if err != nil {
		return err
	}
	r.keep(questions)
	cards, err := export.Flashcards(set)
	if err != nil {
		return err
	}
	r.keep(cards)
	return nil
}

// complete stores every artifact with a manifest, then announces the run.
func (r *run) complete(ctx context.Context) error {
	p := r.p
	manifest, err := r.manifest(eventstore.StatusComplete, nil).Object(r.objects)
	if err != nil {
		return err
	}
	objects := append(append([]storage.Object(nil), r.objects...), manifest)
	location, err := p.deps.Store.Save(ctx, r.id, objects)
	var mirrorErr *storage.MirrorError
	switch {
	case errors.As(err, &mirrorErr):
		r.logger.Warn("mirroring artifacts failed", slog.String("error", mirrorErr.Error()))
	case err != nil:
		return fmt.Errorf("store artifacts: %w", err)
	}
	r.stored = true
	r.result.Location = location
	r.result.Artifacts = export.Describe(objects)
	r.advance(ctx, StageComplete, map[string]any{"location": location, "artifacts": len(objects)})
	r.ledger(func(l Ledger) error {
		return l.UpdateRun(ctx, r.id, eventstore.StatusComplete, StageComplete.String(), location, "")
	})
	p.instr.recordRun(ctx, eventstore.StatusComplete)

	summary := r.summary(location, objects)
	if p.deps.Notifier != nil {
		if err := p.deps.Notifier.Completed(ctx, summary); err != nil {
			r.logger.Warn("completion notification failed", slog.String("error", err.Error()))
		}
	}
	r.logger.Info("run complete",
		slog.String("title", r.title),
		slog.String("location", location),
		slog.Int("words", r.result.Draft.WordCount),
		slog.String("audio", summary.AudioDuration),
		slog.String("size", humanize.Bytes(totalBytes(objects))),
		slog.String("elapsed", summary.Elapsed))
	return nil
}

// step runs one transition after a cancellation check, inside its own span.
func (r *run) step(ctx context.Context, to Stage, fn func(context.Context) error) error {
	r.target = to
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := r.p.tracer().Start(ctx, "pipeline."+to.String())
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, failure.KindOf(err).String())
		return err
	}
	return nil
}

func (r *run) advance(ctx context.Context, to Stage, details map[string]any) {
	now := r.p.now()
	r.p.instr.recordStage(ctx, to, now.Sub(r.lastStage))
	r.lastStage = now
	r.stage = to
	r.event(ctx, to, "transition", details)
	r.ledger(func(l Ledger) error {
		return l.UpdateRun(ctx, r.id, eventstore.StatusRunning, to.String(), "", "")
	})
	r.logger.Debug("stage reached", slog.String("stage", to.String()))
}

// fail keeps the partial artifacts, records the failure and notifies.
func (r *run) fail(ctx context.Context, err error) *Failure {
	p := r.p
	f := &Failure{RunID: r.id, Stage: r.target, Kind: failure.KindOf(err), Err: err}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.Warn("run cancelled", slog.String("stage", r.target.String()))
	}

	// The caller's context may already be done; the partial save gets its own deadline.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), partialSaveTimeout)
	defer cancel()

	if len(r.objects) > 0 && !r.stored {
		manifest, merr := r.manifest(eventstore.StatusFailed, err).Object(r.objects)
		objects := append([]storage.Object(nil), r.objects...)
		if merr == nil {
			objects = append(objects, manifest)
		}
		location, serr := p.deps.Store.Save(saveCtx, r.id, objects)
		var mirrorErr *storage.MirrorError
		if errors.As(serr, &mirrorErr) {
			r.logger.Warn("mirroring partial artifacts failed", slog.String("error", mirrorErr.Error()))
			serr = nil
		}
		if serr != nil {
			r.logger.Error("saving partial artifacts failed", slog.String("error", serr.Error()))
		} else {
			f.Location = location
			r.result.Location = location
			r.result.Artifacts = export.Describe(objects)
			for _, o := range r.objects {
				f.Partial = append(f.Partial, o.Name)
			}
		}
	}

	r.event(saveCtx, StageFailed, "failure", map[string]any{
		"stage": r.target.String(),
		"kind":  f.Kind.String(),
		"error": err.Error(),
	})
	r.ledger(func(l Ledger) error {
		return l.UpdateRun(saveCtx, r.id, eventstore.StatusFailed, r.target.String(), f.Location, err.Error())
	})
	p.instr.recordRun(saveCtx, eventstore.StatusFailed)
	if p.deps.Notifier != nil {
		var partial []protocol.Artifact
		if len(f.Partial) > 0 {
			partial = artifactsOf(r.objects)
		}
		msg := protocol.RunFailed{
			RunID:     r.id,
			Title:     r.title,
			Source:    r.source,
			Stage:     r.target.String(),
			Kind:      f.Kind.String(),
			Error:     err.Error(),
			Location:  f.Location,
			Partial:   partial,
			Timestamp: p.now().UTC(),
		}
		if nerr := p.deps.Notifier.Failed(saveCtx, msg); nerr != nil {
			r.logger.Warn("failure notification failed", slog.String("error", nerr.Error()))
		}
	}
	r.logger.Error("run failed",
		slog.String("stage", r.target.String()),
		slog.String("kind", f.Kind.String()),
		slog.Int("partial", len(f.Partial)),
		slog.String("error", err.Error()))
	return f
}

func (r *run) keep(obj storage.Object) {
	r.objects = append(r.objects, obj)
}

func (r *run) event(ctx context.Context, stage Stage, typ string, details map[string]any) {
	payload, err := json.Marshal(details)
	if err != nil {
		payload = nil
	}
	evt := eventstore.Event{RunID: r.id, Stage: stage.String(), Type: typ, Payload: payload}
	if r.traceID.IsValid() {
		evt.TraceID = r.traceID.String()
	}
	r.ledger(func(l Ledger) error { return l.AppendEvent(ctx, evt) })
}

// ledger writes are best effort; a broken ledger never fails a run.
func (r *run) ledger(write func(Ledger) error) {
	if r.p.deps.Ledger == nil {
		return
	}
	if err := write(r.p.deps.Ledger); err != nil {
		r.logger.Warn("ledger write failed", slog.String("error", err.Error()))
	}
}

func (r *run) manifest(status string, runErr error) export.Manifest {
	m := export.Manifest{
		RunID:               r.id,
		Title:               r.title,
		Source:              r.source,
		CreatedAt:           r.start.UTC(),
		Status:              status,
		Stage:               r.stage.String(),
		WordCount:           r.result.Draft.WordCount,
		WordCountOutOfRange: r.result.Draft.WordCountOutOfRange,
		Refinements:         r.result.Draft.Attempts,
		Turns:               len(r.result.Turns),
		AudioSeconds:        r.result.Timeline.TotalDuration.Seconds(),
		QAItems:             len(r.result.Study.Items),
		Flashcards:          len(r.result.Study.Flashcards),
	}
	if runErr != nil {
		m.Stage = r.target.String()
		m.Error = runErr.Error()
	}
	return m
}

func (r *run) summary(location string, objects []storage.Object) protocol.RunCompleted {
	return protocol.RunCompleted{
		RunID:               r.id,
		Title:               r.title,
		Source:              r.source,
		Location:            location,
		WordCount:           r.result.Draft.WordCount,
		WordCountOutOfRange: r.result.Draft.WordCountOutOfRange,
		Turns:               len(r.result.Turns),
		AudioDuration:       r.result.Timeline.TotalDuration.Round(time.Millisecond).String(),
		QAItems:             len(r.result.Study.Items),
		Flashcards:          len(r.result.Study.Flashcards),
		Artifacts:           artifactsOf(objects),
		Elapsed:             r.p.now().Sub(r.start).Round(time.Millisecond).String(),
		Timestamp:           r.p.now().UTC(),
	}
}

func artifactsOf(objects []storage.Object) []protocol.Artifact {
	out := make([]protocol.Artifact, 0, len(objects))
	for _, o := range objects {
		out = append(out, protocol.Artifact{
			Name:      o.Name,
			Bytes:     len(o.Data),
			HumanSize: humanize.Bytes(uint64(len(o.Data))),
		})
	}
	return out
}

func totalBytes(objects []storage.Object) uint64 {
	var n uint64
	for _, o := range objects {
		n += uint64(len(o.Data))
	}
	return n
}
