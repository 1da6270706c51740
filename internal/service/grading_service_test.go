package service

import (
	"context"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

type stubQueue struct {
	submitted []dto.GradingJob
	statuses  map[string]dto.JobStatus
	err       error
}

func (s *stubQueue) Submit(_ context.Context, job dto.GradingJob) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.submitted = append(s.submitted, job)
	return "job-1", nil
}

func (s *stubQueue) Poll(_ context.Context, jobID string) (dto.JobStatus, error) {
	status, ok := s.statuses[jobID]
	if !ok {
		return dto.JobStatus{}, ErrJobNotFound
	}
	return status, nil
}

func newGradingServiceFixture(t *testing.T, cfg GradingServiceConfig) (GradingService, *stubQueue, models.Question) {
	t.Helper()
	db := setupGradingDB(t)
	question := models.Question{Title: "Sum"}
	require.NoError(t, db.Create(&question).Error)
	require.NoError(t, db.Create(&models.Assessment{ID: 2, Title: "Quiz"}).Error)

	queue := &stubQueue{statuses: map[string]dto.JobStatus{}}
	svc := NewGradingService(queue, repository.NewQuestionRepository(db), repository.NewAssessmentRepository(db), validator.New(), zerolog.Nop(), cfg)
	return svc, queue, question
}

func TestGradingServiceSubmitQueuesNormalisedJob(t *testing.T) {
	svc, queue, question := newGradingServiceFixture(t, GradingServiceConfig{})

	assessmentID := uint(2)
	resp, err := svc.Submit(context.Background(), 5, dto.GradingRequest{
		QuestionID:   question.ID,
		AssessmentID: &assessmentID,
		Language:     "  Python ",
		Source:       "print(1)",
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", resp.JobID)
	require.Equal(t, dto.JobStateQueued, resp.Status)

	require.Len(t, queue.submitted, 1)
	job := queue.submitted[0]
	require.Equal(t, uint(5), job.UserID)
	require.Equal(t, "python", job.Language)
	require.True(t, job.IsAssessment())
}

func TestGradingServiceSubmitValidation(t *testing.T) {
	svc, queue, question := newGradingServiceFixture(t, GradingServiceConfig{Languages: []string{"python"}})
	ctx := context.Background()

	_, err := svc.Submit(ctx, 1, dto.GradingRequest{Language: "python", Source: "x"})
	require.True(t, isValidationFailure(err), "missing question id must fail validation")

	_, err = svc.Submit(ctx, 1, dto.GradingRequest{QuestionID: question.ID, Language: "python", Source: strings.Repeat("a", dto.MaxSourceBytes+1)})
	require.True(t, isValidationFailure(err), "oversized source must fail validation")

	multibyte := strings.Repeat("é", dto.MaxSourceBytes/2+1)
	_, err = svc.Submit(ctx, 1, dto.GradingRequest{QuestionID: question.ID, Language: "python", Source: multibyte})
	require.ErrorIs(t, err, ErrSourceTooLarge, "the limit counts bytes, not characters")

	_, err = svc.Submit(ctx, 1, dto.GradingRequest{QuestionID: question.ID, Language: "python", Source: "   \n"})
	require.ErrorIs(t, err, ErrEmptySource)

	_, err = svc.Submit(ctx, 1, dto.GradingRequest{QuestionID: question.ID, Language: "javascript", Source: "x"})
	require.ErrorIs(t, err, ErrUnsupportedLanguage, "languages outside the configured list are rejected")

	_, err = svc.Submit(ctx, 1, dto.GradingRequest{QuestionID: 999, Language: "python", Source: "x"})
	require.ErrorIs(t, err, ErrQuestionNotFound)

	missing := uint(77)
	_, err = svc.Submit(ctx, 1, dto.GradingRequest{QuestionID: question.ID, AssessmentID: &missing, Language: "python", Source: "x"})
	require.ErrorIs(t, err, ErrAssessmentNotFound)

	require.Empty(t, queue.submitted)
	require.Equal(t, []string{"python"}, svc.Languages())
}

func TestGradingServiceSubmitPropagatesQueueErrors(t *testing.T) {
	svc, queue, question := newGradingServiceFixture(t, GradingServiceConfig{})
	queue.err = ErrQueueFull

	_, err := svc.Submit(context.Background(), 1, dto.GradingRequest{QuestionID: question.ID, Language: "python", Source: "x"})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestGradingServiceStatusHidesOtherUsersJobs(t *testing.T) {
	svc, queue, _ := newGradingServiceFixture(t, GradingServiceConfig{})
	queue.statuses["job-1"] = dto.JobStatus{JobID: "job-1", UserID: 5, State: dto.JobStateRunning}

	status, err := svc.Status(context.Background(), 5, "job-1")
	require.NoError(t, err)
	require.Equal(t, dto.JobStateRunning, status.State)

	_, err = svc.Status(context.Background(), 6, "job-1")
	require.ErrorIs(t, err, ErrJobNotFound)

	_, err = svc.Status(context.Background(), 5, " ")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func isValidationFailure(err error) bool {
	_, ok := err.(validator.ValidationErrors)
	return ok
}
