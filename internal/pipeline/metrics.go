package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/learnpod/pipeline"

type instruments struct {
	tracer        trace.Tracer
	runs          metric.Int64Counter
	stageDuration metric.Float64Histogram
	words         metric.Int64Histogram
	audioSeconds  metric.Float64Counter
}

func newInstruments() (*instruments, error) {
	meter := otel.Meter(instrumentationName)
	in := &instruments{tracer: otel.Tracer(instrumentationName)}
	var err error
	if in.runs, err = meter.Int64Counter("learnpod_runs_total",
		metric.WithDescription("Pipeline runs by final status")); err != nil {
		return in, err
	}
	if in.stageDuration, err = meter.Float64Histogram("learnpod_stage_duration_seconds",
		metric.WithDescription("Time spent reaching each pipeline stage"),
		metric.WithUnit("s")); err != nil {
		return in, err
	}
	if in.words, err = meter.Int64Histogram("learnpod_script_words",
		metric.WithDescription("Word count of final scripts")); err != nil {
		return in, err
	}
	if in.audioSeconds, err = meter.Float64Counter("learnpod_audio_seconds_total",
		metric.WithDescription("Seconds of podcast audio assembled"),
		metric.WithUnit("s")); err != nil {
		return in, err
	}
	return in, nil
}

func (in *instruments) recordStage(ctx context.Context, stage Stage, elapsed time.Duration) {
	if in.stageDuration != nil {
		in.stageDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("stage", stage.String())))
	}
}

func (in *instruments) recordRun(ctx context.Context, status string) {
	if in.runs != nil {
		in.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	}
}

func (in *instruments) recordScript(ctx context.Context, words int, outOfRange bool) {
	if in.words != nil {
		in.words.Record(ctx, int64(words), metric.WithAttributes(attribute.Bool("out_of_range", outOfRange)))
	}
}

func (in *instruments) recordAudio(ctx context.Context, d time.Duration) {
	if in.audioSeconds != nil {
		in.audioSeconds.Add(ctx, d.Seconds())
	}
}
