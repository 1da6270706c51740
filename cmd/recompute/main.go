package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/database"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/similarity"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, verbose, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(stderr).With().Timestamp().Str("tool", "recompute").Logger().Level(level)

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return 1
	}

	var engineOpts []similarity.Option
	if cfg.SimilarityCollapsed {
		engineOpts = append(engineOpts, similarity.WithCollapsedSignals())
	}

	recompute := service.NewRecomputeService(
		repository.NewSubmissionRepository(db),
		repository.NewQuestionRepository(db),
		repository.NewAssessmentRepository(db),
		similarity.NewEngine(logger, engineOpts...),
		cfg.Penalty,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := recompute.Run(ctx, opts)
	writeReport(stdout, report, opts.DryRun)
	if err != nil {
		logger.Error().Err(err).Msg("recompute finished with errors")
		return 1
	}

	return 0
}

func parseFlags(args []string, stderr io.Writer) (service.BatchOptions, bool, error) {
	flags := pflag.NewFlagSet("recompute", pflag.ContinueOnError)
	flags.SetOutput(stderr)

	assessmentID := flags.Uint("assessment", 0, "only recompute rows of this assessment id")
	questionID := flags.Uint("question", 0, "only recompute rows of this question id")
	dryRun := flags.Bool("dry-run", false, "report changes without writing them")
	applyPenalty := flags.Bool("apply-penalty", false, "recompute penalized scores of assessment submissions")
	applySessions := flags.Bool("apply-assessment-penalties", false, "recompute session totals and penalty factors")
	verbose := flags.BoolP("verbose", "v", false, "log every row to stderr, including unchanged and skipped ones")

	if err := flags.Parse(args); err != nil {
		return service.BatchOptions{}, false, err
	}
	if flags.NArg() > 0 {
		return service.BatchOptions{}, false, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}

	opts := service.BatchOptions{
		DryRun:                   *dryRun,
		ApplyPenalty:             *applyPenalty,
		ApplyAssessmentPenalties: *applySessions,
	}
	if flags.Changed("assessment") {
		id := *assessmentID
		opts.AssessmentID = &id
	}
	if flags.Changed("question") {
		id := *questionID
		opts.QuestionID = &id
	}

	return opts, *verbose, nil
}
