// Package grading runs submissions against their test cases and produces verdicts.
package grading

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/pkg/sandbox"
)

// Config tunes the evaluator.
type Config struct {
	// Lenient enables the whitespace-insensitive secondary comparison.
	Lenient bool
}

// EvaluationResult aggregates the verdicts of one submission.
type EvaluationResult struct {
	Verdicts   []models.TestVerdict    `json:"verdicts"`
	Status     models.SubmissionStatus `json:"status"`
	Score      int                     `json:"score"`
	FirstError string                  `json:"first_error,omitempty"`
}

// Evaluator runs test cases sequentially through a sandbox client.
type Evaluator struct {
	sandbox sandbox.Client
	cfg     Config
	logger  zerolog.Logger
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(client sandbox.Client, cfg Config, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		sandbox: client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "evaluator").Logger(),
	}
}

// Evaluate runs every test case in order and stops at the first execution error.
// Output mismatches do not stop the run.
func (e *Evaluator) Evaluate(ctx context.Context, source, language string, cases []models.TestCase) EvaluationResult {
	result := EvaluationResult{Verdicts: make([]models.TestVerdict, 0, len(cases))}

	for index, tc := range cases {
		expected := tc.ExpectedOutput
		if expected == nil {
			expected = []string{}
		}

		run := e.sandbox.Execute(ctx, sandbox.Request{
			Language: language,
			Source:   source,
			Stdin:    tc.Input,
		})

		verdict := models.TestVerdict{
			Input:          tc.Input,
			ExpectedOutput: expected,
			ActualOutput:   NormalizeLines(run.Stdout),
		}

		if run.Failed() {
			verdict.Status = models.SubmissionStatusError
			verdict.ErrorMessage = executionMessage(run)
			result.Verdicts = append(result.Verdicts, verdict)
			result.FirstError = verdict.ErrorMessage
			e.logger.Debug().Int("test_index", index).Bool("timed_out", run.TimedOut).Msg("execution failed, skipping remaining tests")
			break
		}

		verdict.Status, verdict.ErrorMessage = CompareLines(NormalizeExpected(expected), verdict.ActualOutput, e.cfg.Lenient)
		if verdict.Status == models.SubmissionStatusAccepted {
			result.Score++
		}
		result.Verdicts = append(result.Verdicts, verdict)
	}

	switch {
	case result.FirstError != "":
		result.Status = models.SubmissionStatusError
	case models.AllAccepted(result.Verdicts):
		result.Status = models.SubmissionStatusAccepted
	default:
		result.Status = models.SubmissionStatusRejected
	}

	return result
}

func executionMessage(run sandbox.Result) string {
	stderr := strings.TrimSpace(run.Stderr)
	if !run.TimedOut {
		return stderr
	}
	if strings.Contains(stderr, "timed out") {
		return stderr
	}
	if stderr == "" {
		return "execution timed out"
	}
	return "execution timed out\n" + stderr
}
