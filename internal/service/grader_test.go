package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/penalty"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/similarity"
)

type graderFixture struct {
	db          *gorm.DB
	grader      *Grader
	evaluator   *stubEvaluator
	scorer      *stubScorer
	submissions repository.SubmissionRepository
}

func newGraderFixture(t *testing.T) graderFixture {
	t.Helper()
	db := setupGradingDB(t)
	evaluator := &stubEvaluator{}
	scorer := &stubScorer{}
	submissions := repository.NewSubmissionRepository(db)
	grader := NewGrader(
		repository.NewQuestionRepository(db),
		repository.NewAssessmentRepository(db),
		submissions,
		evaluator,
		scorer,
		penalty.Default(),
		zerolog.Nop(),
	)
	require.NoError(t, db.Create(&models.Assessment{ID: 11, Title: "Final"}).Error)

	return graderFixture{db: db, grader: grader, evaluator: evaluator, scorer: scorer, submissions: submissions}
}

func (fx graderFixture) createQuestion(t *testing.T, question models.Question) models.Question {
	t.Helper()
	require.NoError(t, fx.db.Create(&question).Error)
	return question
}

func TestGraderPracticeAcceptedCompletesModule(t *testing.T) {
	fx := newGraderFixture(t)
	ctx := context.Background()

	moduleID := uint(4)
	cases := testCasesJSON(t, models.TestCase{Input: "1\n2", ExpectedOutput: []string{"3"}})
	first := fx.createQuestion(t, models.Question{ModuleID: &moduleID, Title: "Add", TestCases: cases})
	second := fx.createQuestion(t, models.Question{ModuleID: &moduleID, Title: "Sub", TestCases: cases})

	fx.evaluator.result = grading.EvaluationResult{Verdicts: acceptedVerdicts(1), Status: models.SubmissionStatusAccepted, Score: 1}

	result, err := fx.grader.Grade(ctx, dto.GradingJob{ID: "a", UserID: 9, QuestionID: first.ID, Language: "python", Source: "print(3)"})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusAccepted, result.Status)
	require.Equal(t, 1, result.Passed)
	require.Equal(t, 1, result.Total)
	require.Equal(t, 1.0, result.Score)
	require.False(t, result.ModuleCompleted, "one of two module questions is still unsolved")
	require.Len(t, fx.evaluator.cases, 1)
	require.Equal(t, []string{"3"}, fx.evaluator.cases[0].ExpectedOutput)

	result, err = fx.grader.Grade(ctx, dto.GradingJob{ID: "b", UserID: 9, QuestionID: second.ID, Language: "python", Source: "print(3)"})
	require.NoError(t, err)
	require.True(t, result.ModuleCompleted)

	// a repeated accepted submission leaves exactly one completion marker
	_, err = fx.grader.Grade(ctx, dto.GradingJob{ID: "c", UserID: 9, QuestionID: second.ID, Language: "python", Source: "print(3)"})
	require.NoError(t, err)

	var completions int64
	require.NoError(t, fx.db.Model(&models.ModuleCompletion{}).Where("user_id = ? AND module_id = ?", 9, moduleID).Count(&completions).Error)
	require.Equal(t, int64(1), completions)

	stored, err := fx.submissions.GetPractice(ctx, 9, first.ID, "python")
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusAccepted, stored.Status)
	verdicts, err := stored.DecodedVerdicts()
	require.NoError(t, err)
	require.Len(t, verdicts, 1)
}

func TestGraderPracticeRejectedPersistsWithoutCompletion(t *testing.T) {
	fx := newGraderFixture(t)
	ctx := context.Background()

	moduleID := uint(5)
	question := fx.createQuestion(t, models.Question{
		ModuleID:  &moduleID,
		Title:     "Echo",
		TestCases: testCasesJSON(t, models.TestCase{Input: "1\n2", ExpectedOutput: []string{"3"}}),
	})

	fx.evaluator.result = grading.EvaluationResult{
		Verdicts: []models.TestVerdict{{
			Input:          "1\n2",
			ExpectedOutput: []string{"3"},
			ActualOutput:   []string{"4"},
			Status:         models.SubmissionStatusRejected,
			ErrorMessage:   `line 1: expected "3", got "4"`,
		}},
		Status: models.SubmissionStatusRejected,
	}

	result, err := fx.grader.Grade(ctx, dto.GradingJob{UserID: 2, QuestionID: question.ID, Language: "python", Source: "print(4)"})
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusRejected, result.Status)
	require.Zero(t, result.Score)
	require.False(t, result.ModuleCompleted)

	var completions int64
	require.NoError(t, fx.db.Model(&models.ModuleCompletion{}).Count(&completions).Error)
	require.Zero(t, completions)

	stored, err := fx.submissions.GetPractice(ctx, 2, question.ID, "python")
	require.NoError(t, err)
	require.Equal(t, models.SubmissionStatusRejected, stored.Status)
}

func TestGraderAssessmentAppliesPenalty(t *testing.T) {
	fx := newGraderFixture(t)
	ctx := context.Background()

	question := fx.createQuestion(t, models.Question{
		Title: "Loop",
		TestCases: testCasesJSON(t,
			models.TestCase{Input: "1", ExpectedOutput: []string{"1"}},
			models.TestCase{Input: "2", ExpectedOutput: []string{"2"}},
		),
	})

	assessmentID := uint(11)
	peer := models.AssessmentSubmission{UserID: 3, AssessmentID: assessmentID, QuestionID: question.ID, Language: "python", Source: "peer()", Status: models.SubmissionStatusAccepted}
	own := models.AssessmentSubmission{UserID: 1, AssessmentID: assessmentID, QuestionID: question.ID, Language: "javascript", Source: "own()", Status: models.SubmissionStatusRejected}
	require.NoError(t, fx.submissions.UpsertAssessment(ctx, &peer))
	require.NoError(t, fx.submissions.UpsertAssessment(ctx, &own))

	fx.evaluator.result = grading.EvaluationResult{Verdicts: acceptedVerdicts(2), Status: models.SubmissionStatusAccepted, Score: 2}
	fx.scorer.signals = similarity.Signals{PlagPercent: 60, TokenSimilarity: 0.6, StructuralSimilarity: 0.7}

	result, err := fx.grader.Grade(ctx, dto.GradingJob{UserID: 1, QuestionID: question.ID, AssessmentID: &assessmentID, Language: "python", Source: "mine()"})
	require.NoError(t, err)
	require.Equal(t, []string{"peer()"}, fx.scorer.peers, "peers exclude the submitting user's own rows")
	require.NotNil(t, result.RawScore)
	require.Equal(t, 5.0, *result.RawScore)
	require.Equal(t, 2.5, result.Score)
	require.NotNil(t, result.Similarity)
	require.Equal(t, 60.0, result.Similarity.PlagPercent)

	rows, err := fx.submissions.ListAssessment(ctx, repository.AssessmentSubmissionFilter{UserID: ptrUint(1)})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var python models.AssessmentSubmission
	for _, row := range rows {
		if row.Language == "python" {
			python = row
		}
	}
	require.Equal(t, 60.0, python.PlagiarismPercent)
	require.Equal(t, 0.7, python.StructuralSimilarity)
	require.Equal(t, 2.5, python.Score)
}

func TestGraderAssessmentPartialCreditUsesQuestionMarks(t *testing.T) {
	fx := newGraderFixture(t)

	question := fx.createQuestion(t, models.Question{
		Title: "Marks",
		Marks: 10,
		TestCases: testCasesJSON(t,
			models.TestCase{Input: "1", ExpectedOutput: []string{"1"}},
			models.TestCase{Input: "2", ExpectedOutput: []string{"2"}},
			models.TestCase{Input: "3", ExpectedOutput: []string{"3"}},
			models.TestCase{Input: "4", ExpectedOutput: []string{"4"}},
		),
	})

	verdicts := acceptedVerdicts(3)
	verdicts = append(verdicts, models.TestVerdict{Input: "4", Status: models.SubmissionStatusRejected})
	fx.evaluator.result = grading.EvaluationResult{Verdicts: verdicts, Status: models.SubmissionStatusRejected, Score: 3}

	assessmentID := uint(11)
	result, err := fx.grader.Grade(context.Background(), dto.GradingJob{UserID: 1, QuestionID: question.ID, AssessmentID: &assessmentID, Language: "python", Source: "x"})
	require.NoError(t, err)
	require.Equal(t, 7.5, *result.RawScore)
	require.Equal(t, 7.5, result.Score, "no peers means no penalty")
}

func TestGraderLookupFailures(t *testing.T) {
	fx := newGraderFixture(t)
	ctx := context.Background()

	_, err := fx.grader.Grade(ctx, dto.GradingJob{UserID: 1, QuestionID: 404, Language: "python", Source: "x"})
	require.ErrorIs(t, err, ErrQuestionNotFound)

	question := fx.createQuestion(t, models.Question{Title: "Q"})
	missing := uint(999)
	_, err = fx.grader.Grade(ctx, dto.GradingJob{UserID: 1, QuestionID: question.ID, AssessmentID: &missing, Language: "python", Source: "x"})
	require.ErrorIs(t, err, ErrAssessmentNotFound)
	require.Zero(t, fx.evaluator.calls, "lookups fail before any code runs")
}

func TestGraderMalformedCasesGradeAsEmpty(t *testing.T) {
	fx := newGraderFixture(t)

	question := fx.createQuestion(t, models.Question{Title: "Broken", TestCases: []byte(`{"not":"a list"}`)})
	fx.evaluator.result = grading.EvaluationResult{Status: models.SubmissionStatusRejected}

	result, err := fx.grader.Grade(context.Background(), dto.GradingJob{UserID: 1, QuestionID: question.ID, Language: "python", Source: "x"})
	require.NoError(t, err)
	require.Empty(t, fx.evaluator.cases)
	require.Equal(t, 0, result.Total)
	require.NotNil(t, result.Verdicts)
}

func ptrUint(v uint) *uint {
	return &v
}
