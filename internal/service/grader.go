package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/penalty"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/similarity"
)

// ErrQuestionNotFound indicates the referenced question does not exist.
var ErrQuestionNotFound = errors.New("question not found")

// ErrAssessmentNotFound indicates the referenced assessment does not exist.
var ErrAssessmentNotFound = errors.New("assessment not found")

// SubmissionEvaluator runs a program against test cases.
type SubmissionEvaluator interface {
	Evaluate(ctx context.Context, source, language string, cases []models.TestCase) grading.EvaluationResult
}

// SimilarityScorer compares a program with its peers.
type SimilarityScorer interface {
	Score(ctx context.Context, candidate string, peers []string) similarity.Signals
}

// Grader evaluates one job end to end and persists the outcome.
type Grader struct {
	questions   repository.QuestionRepository
	assessments repository.AssessmentRepository
	submissions repository.SubmissionRepository
	evaluator   SubmissionEvaluator
	similarity  SimilarityScorer
	decay       penalty.Decay
	logger      zerolog.Logger
	now         func() time.Time
}

// NewGrader constructs a grader.
func NewGrader(
	questions repository.QuestionRepository,
	assessments repository.AssessmentRepository,
	submissions repository.SubmissionRepository,
	evaluator SubmissionEvaluator,
	scorer SimilarityScorer,
	decay penalty.Decay,
	logger zerolog.Logger,
) *Grader {
	return &Grader{
		questions:   questions,
		assessments: assessments,
		submissions: submissions,
		evaluator:   evaluator,
		similarity:  scorer,
		decay:       decay,
		logger:      logger.With().Str("component", "grader").Logger(),
		now:         time.Now,
	}
}

// Grade runs the test cases of the job's question and upserts the submission row.
func (g *Grader) Grade(ctx context.Context, job dto.GradingJob) (dto.GradingResult, error) {
	tracer := otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grader")
	ctx, span := tracer.Start(ctx, "grading.grade")
	span.SetAttributes(
		attribute.String("grading.job_id", job.ID),
		attribute.String("grading.kind", job.Kind()),
		attribute.String("grading.language", job.Language),
	)
	defer span.End()

	question, err := g.questions.GetByID(ctx, job.QuestionID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.GradingResult{}, ErrQuestionNotFound
		}
		span.SetStatus(codes.Error, "question_lookup_failed")
		return dto.GradingResult{}, fmt.Errorf("load question %d: %w", job.QuestionID, err)
	}

	cases, err := question.Cases()
	if err != nil {
		g.logger.Warn().Err(err).Uint("question_id", question.ID).Msg("question test cases are malformed; grading with none")
		cases = nil
	}

	if job.IsAssessment() {
		if _, err := g.assessments.GetByID(ctx, *job.AssessmentID); err != nil {
			span.RecordError(err)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dto.GradingResult{}, ErrAssessmentNotFound
			}
			return dto.GradingResult{}, fmt.Errorf("load assessment %d: %w", *job.AssessmentID, err)
		}
	}

	evaluation := g.evaluator.Evaluate(ctx, job.Source, job.Language, cases)
	span.SetAttributes(
		attribute.String("grading.status", string(evaluation.Status)),
		attribute.Int("grading.passed", evaluation.Score),
	)

	result := dto.GradingResult{
		Status:   evaluation.Status,
		Verdicts: evaluation.Verdicts,
		Passed:   evaluation.Score,
		Total:    len(cases),
		Error:    evaluation.FirstError,
	}
	if result.Verdicts == nil {
		result.Verdicts = []models.TestVerdict{}
	}

	verdicts, err := models.EncodeVerdicts(evaluation.Verdicts)
	if err != nil {
		return dto.GradingResult{}, fmt.Errorf("encode verdicts: %w", err)
	}

	if job.IsAssessment() {
		err = g.persistAssessment(ctx, job, question, verdicts, &result)
	} else {
		err = g.persistPractice(ctx, job, question, verdicts, &result)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist_failed")
		return dto.GradingResult{}, err
	}

	return result, nil
}

func (g *Grader) persistPractice(ctx context.Context, job dto.GradingJob, question models.Question, verdicts datatypes.JSON, result *dto.GradingResult) error {
	result.Score = float64(result.Passed)

	submission := models.Submission{
		UserID:     job.UserID,
		QuestionID: job.QuestionID,
		Language:   job.Language,
		Source:     job.Source,
		Status:     result.Status,
		Verdicts:   verdicts,
		Error:      result.Error,
		Score:      result.Score,
	}
	if err := g.submissions.UpsertPractice(ctx, &submission); err != nil {
		return fmt.Errorf("save submission: %w", err)
	}

	if result.Status != models.SubmissionStatusAccepted || question.ModuleID == nil {
		return nil
	}

	completed, err := g.checkModuleCompletion(ctx, job.UserID, *question.ModuleID)
	if err != nil {
		g.logger.Warn().Err(err).Uint("user_id", job.UserID).Uint("module_id", *question.ModuleID).Msg("module completion check failed")
		return nil
	}
	result.ModuleCompleted = completed
	return nil
}

func (g *Grader) checkModuleCompletion(ctx context.Context, userID, moduleID uint) (bool, error) {
	total, accepted, err := g.questions.ModuleProgress(ctx, userID, moduleID)
	if err != nil {
		return false, err
	}
	if total == 0 || accepted < total {
		return false, nil
	}

	created, err := g.questions.MarkModuleCompleted(ctx, userID, moduleID, g.now().UTC())
	if err != nil {
		return false, err
	}
	if created {
		g.logger.Info().Uint("user_id", userID).Uint("module_id", moduleID).Msg("module completed")
	}
	return true, nil
}

func (g *Grader) persistAssessment(ctx context.Context, job dto.GradingJob, question models.Question, verdicts datatypes.JSON, result *dto.GradingResult) error {
	assessmentID := *job.AssessmentID

	peers, err := g.submissions.ListPeerSources(ctx, assessmentID, job.QuestionID, job.UserID)
	if err != nil {
		return fmt.Errorf("load peer submissions: %w", err)
	}
	signals := g.similarity.Score(ctx, job.Source, peers)

	raw := rawScore(question.MarksOrDefault(), result.Passed, result.Total)
	result.RawScore = &raw
	result.Score = g.decay.Apply(raw, signals.PlagPercent)
	result.Similarity = &signals

	submission := models.AssessmentSubmission{
		UserID:       job.UserID,
		AssessmentID: assessmentID,
		QuestionID:   job.QuestionID,
		Language:     job.Language,
		Source:       job.Source,
		Status:       result.Status,
		Verdicts:     verdicts,
		Error:        result.Error,
		RawScore:     &raw,
		Score:        result.Score,
		SimilarityFields: models.SimilarityFields{
			PlagiarismPercent:    signals.PlagPercent,
			TokenSimilarity:      signals.TokenSimilarity,
			StructuralSimilarity: signals.StructuralSimilarity,
			AIGeneratedProb:      signals.AIGeneratedProb,
		},
	}
	if err := g.submissions.UpsertAssessment(ctx, &submission); err != nil {
		return fmt.Errorf("save assessment submission: %w", err)
	}
	return nil
}

// rawScore prorates the question marks by the share of accepted test cases.
func rawScore(marks float64, passed, total int) float64 {
	if total <= 0 || passed <= 0 {
		return 0
	}
	return penalty.Round(marks*float64(passed)/float64(total), 2)
}
