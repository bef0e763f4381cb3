package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/loqalabs/learnpod/internal/config"
	"github.com/loqalabs/learnpod/internal/eventstore"
	"github.com/loqalabs/learnpod/internal/failure"
	"github.com/loqalabs/learnpod/internal/pipeline"
	"github.com/loqalabs/learnpod/internal/runtime"
)

var version = "0.1.0-dev"

const usage = `usage: learnpod <command> [flags]

commands:
  run      turn one markdown document into a podcast and study set
  serve    watch the inbox and process every new document
  runs     list recorded runs, or the events of one run
  version  print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, os.Args[2:])
	case "serve":
		err = serveCommand(ctx, os.Args[2:])
	case "runs":
		err = runsCommand(ctx, os.Args[2:], os.Stdout)
	case "version", "-version", "--version":
		fmt.Println(version)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "learnpod:", err)
		}
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes bad input and configuration from failures of the
// services a run depends on.
func exitCode(err error) int {
	switch failure.KindOf(err) {
	case failure.KindConfiguration, failure.KindInvalidDocument:
		return 2
	default:
		return 1
	}
}

func loadConfig(path string) (config.Config, error) {
	// Variables already set in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "learnpod: ignoring .env:", err)
	}
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
			path = ""
		}
	}
	return config.Load(path)
}

const defaultConfigPath = "learnpod.yaml"

func runCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var (
		configPath = fs.String("config", defaultConfigPath, "Path to configuration file")
		input      = fs.String("input", "", "Markdown document to process")
		out        = fs.String("out", "", "Output directory (overrides output.directory)")
		speakers   = fs.String("speakers", "", `Speaker names, e.g. "Speaker 1=Sakura,Speaker 2=Taro"`)
		voices     = fs.String("voices", "", `Speaker voices, e.g. "Speaker 1=Zephyr,Speaker 2=Puck"`)
		lang       = fs.String("lang", "", "Script language (overrides pipeline.language)")
		noNotify   = fs.Bool("no-notify", false, "Skip the completion notification")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return failure.Newf(failure.KindConfiguration, "run", "-input is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *out != "" {
		cfg.Output.Directory = *out
	}
	if *lang != "" {
		cfg.Pipeline.Language = *lang
	}
	if *noNotify {
		cfg.Notify.Enabled = false
	}
	// A one-shot run does not need the broker unless something is published or mirrored.
	if !cfg.Notify.Enabled && cfg.Output.ObjectStoreBucket == "" {
		cfg.Bus.Enabled = false
	}
	if err := config.ApplySpeakerOverrides(&cfg, *speakers, *voices); err != nil {
		return err
	}

	raw, err := os.ReadFile(*input)
	if err != nil {
		return failure.New(failure.KindInvalidDocument, "read input", err)
	}

	logger := runtime.NewLogger(cfg.Telemetry.LogLevel)
	shutdownTelemetry, _, err := runtime.SetupTelemetry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	services, err := runtime.OpenServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	res, err := services.Pipeline.Run(ctx, pipeline.Input{Name: filepath.Base(*input), Raw: raw})
	if err != nil {
		return err
	}

	fmt.Printf("run %s complete in %s\n", res.RunID, res.Elapsed.Round(time.Millisecond))
	fmt.Printf("  title:    %s\n", res.Title)
	fmt.Printf("  script:   %d words, %d turns\n", res.Draft.WordCount, len(res.Turns))
	fmt.Printf("  audio:    %s\n", res.Timeline.TotalDuration.Round(time.Millisecond))
	fmt.Printf("  study:    %d questions, %d flashcards\n", len(res.Study.Items), len(res.Study.Flashcards))
	fmt.Printf("  saved to: %s\n", res.Location)
	for _, a := range res.Artifacts {
		fmt.Printf("    %-22s %s\n", a.Name, humanize.Bytes(uint64(a.Bytes)))
	}
	return nil
}

func serveCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := runtime.NewLogger(cfg.Telemetry.LogLevel)

	rt := runtime.New(cfg, logger)
	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func runsCommand(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	var (
		configPath = fs.String("config", defaultConfigPath, "Path to configuration file")
		runID      = fs.String("id", "", "Print the events of this run")
		limit      = fs.Int("limit", 20, "Maximum number of rows")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// Listing must never prune what the operator is trying to inspect.
	cfg.EventStore.RetentionDays = 0
	cfg.EventStore.MaxRuns = 0
	cfg.EventStore.VacuumOnStart = false

	store, err := eventstore.Open(ctx, cfg.EventStore, runtime.NewLogger("error"))
	if err != nil {
		return err
	}
	defer store.Close()

	if *runID != "" {
		return printRun(ctx, store, *runID, *limit, out)
	}
	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tSTAGE\tTITLE\tUPDATED\tLOCATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.Stage, r.Title, humanize.Time(r.UpdatedAt), r.Location)
	}
	return tw.Flush()
}

func printRun(ctx context.Context, store *eventstore.Store, runID string, limit int, out io.Writer) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %s (%s)\n  source:   %s\n  status:   %s at %s\n", run.ID, run.Title, run.Source, run.Status, run.Stage)
	if run.Location != "" {
		fmt.Fprintf(out, "  location: %s\n", run.Location)
	}
	if run.Error != "" {
		fmt.Fprintf(out, "  error:    %s\n", run.Error)
	}

	events, err := store.ListRunEvents(ctx, runID, limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nTIME\tSTAGE\tTYPE\tPAYLOAD")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Stage, e.Type, strings.TrimSpace(string(e.Payload)))
	}
	return tw.Flush()
}
