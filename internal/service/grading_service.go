package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/pkg/sandbox"
)

// ErrUnsupportedLanguage indicates the requested language is not allowed.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ErrEmptySource indicates the submitted program is blank.
var ErrEmptySource = errors.New("source is empty")

// ErrSourceTooLarge indicates the submitted program exceeds dto.MaxSourceBytes once encoded.
var ErrSourceTooLarge = errors.New("source exceeds size limit")

// JobQueue accepts grading jobs and reports their status.
type JobQueue interface {
	Submit(ctx context.Context, job dto.GradingJob) (string, error)
	Poll(ctx context.Context, jobID string) (dto.JobStatus, error)
}

// GradingService exposes the submit and poll operations of the grading API.
type GradingService interface {
	Submit(ctx context.Context, userID uint, payload dto.GradingRequest) (dto.JobAcceptedResponse, error)
	Status(ctx context.Context, userID uint, jobID string) (dto.JobStatus, error)
	Languages() []string
}

// GradingServiceConfig restricts the accepted languages. Empty means every sandbox language.
type GradingServiceConfig struct {
	Languages []string
}

type gradingService struct {
	queue       JobQueue
	questions   repository.QuestionRepository
	assessments repository.AssessmentRepository
	validator   *validator.Validate
	logger      zerolog.Logger
	languages   map[string]struct{}
}

// NewGradingService constructs the grading service.
func NewGradingService(queue JobQueue, questions repository.QuestionRepository, assessments repository.AssessmentRepository, validate *validator.Validate, logger zerolog.Logger, cfg GradingServiceConfig) GradingService {
	languages := make(map[string]struct{})
	for _, language := range cfg.Languages {
		key := sandbox.NormalizeLanguage(language)
		if _, ok := sandbox.LookupLanguage(key); ok {
			languages[key] = struct{}{}
		}
	}
	if len(languages) == 0 {
		for key := range sandbox.Languages {
			languages[key] = struct{}{}
		}
	}

	return &gradingService{
		queue:       queue,
		questions:   questions,
		assessments: assessments,
		validator:   validate,
		logger:      logger.With().Str("component", "grading_service").Logger(),
		languages:   languages,
	}
}

func (s *gradingService) Submit(ctx context.Context, userID uint, payload dto.GradingRequest) (dto.JobAcceptedResponse, error) {
	if err := s.validator.Struct(payload); err != nil {
		return dto.JobAcceptedResponse{}, err
	}
	if strings.TrimSpace(payload.Source) == "" {
		return dto.JobAcceptedResponse{}, ErrEmptySource
	}
	if len(payload.Source) > dto.MaxSourceBytes {
		return dto.JobAcceptedResponse{}, ErrSourceTooLarge
	}

	language := sandbox.NormalizeLanguage(payload.Language)
	if _, ok := s.languages[language]; !ok {
		return dto.JobAcceptedResponse{}, ErrUnsupportedLanguage
	}

	if _, err := s.questions.GetByID(ctx, payload.QuestionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.JobAcceptedResponse{}, ErrQuestionNotFound
		}
		return dto.JobAcceptedResponse{}, err
	}

	if payload.AssessmentID != nil {
		if _, err := s.assessments.GetByID(ctx, *payload.AssessmentID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return dto.JobAcceptedResponse{}, ErrAssessmentNotFound
			}
			return dto.JobAcceptedResponse{}, err
		}
	}

	job := dto.GradingJob{
		UserID:       userID,
		QuestionID:   payload.QuestionID,
		AssessmentID: payload.AssessmentID,
		Language:     language,
		Source:       payload.Source,
	}

	jobID, err := s.queue.Submit(ctx, job)
	if err != nil {
		return dto.JobAcceptedResponse{}, err
	}

	s.logger.Info().
		Str("job_id", jobID).
		Uint("user_id", userID).
		Uint("question_id", payload.QuestionID).
		Str("language", language).
		Str("kind", job.Kind()).
		Msg("grading job queued")

	return dto.JobAcceptedResponse{JobID: jobID, Status: dto.JobStateQueued}, nil
}

// Status returns the job's state. Jobs owned by another user are reported as missing.
func (s *gradingService) Status(ctx context.Context, userID uint, jobID string) (dto.JobStatus, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return dto.JobStatus{}, ErrJobNotFound
	}

	status, err := s.queue.Poll(ctx, jobID)
	if err != nil {
		return dto.JobStatus{}, err
	}
	if userID != 0 && status.UserID != userID {
		return dto.JobStatus{}, ErrJobNotFound
	}
	return status, nil
}

func (s *gradingService) Languages() []string {
	languages := make([]string, 0, len(s.languages))
	for key := range s.languages {
		languages = append(languages, key)
	}
	sort.Strings(languages)
	return languages
}
