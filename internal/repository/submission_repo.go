package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// AssessmentSubmissionFilter narrows assessment submission queries.
type AssessmentSubmissionFilter struct {
	AssessmentID *uint
	QuestionID   *uint
	UserID       *uint
}

// SubmissionRepository persists practice and assessment submissions.
type SubmissionRepository interface {
	UpsertPractice(ctx context.Context, submission *models.Submission) error
	UpsertAssessment(ctx context.Context, submission *models.AssessmentSubmission) error
	GetPractice(ctx context.Context, userID, questionID uint, language string) (models.Submission, error)
	ListAssessment(ctx context.Context, filter AssessmentSubmissionFilter) ([]models.AssessmentSubmission, error)
	ListPeerSources(ctx context.Context, assessmentID, questionID, excludeUserID uint) ([]string, error)
	UpdateAssessmentFields(ctx context.Context, id uint, fields map[string]interface{}) error
}

var gradedColumns = []string{
	"source",
	"status",
	"verdicts",
	"error",
	"score",
	"plagiarism_percent",
	"token_similarity",
	"structural_similarity",
	"ai_generated_prob",
	"updated_at",
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) UpsertPractice(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "question_id"}, {Name: "language"}},
		DoUpdates: clause.AssignmentColumns(gradedColumns),
	}).Create(submission).Error
}

func (r *submissionRepository) UpsertAssessment(ctx context.Context, submission *models.AssessmentSubmission) error {
	columns := append([]string{"raw_score"}, gradedColumns...)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "assessment_id"}, {Name: "question_id"}, {Name: "language"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(submission).Error
}

func (r *submissionRepository) GetPractice(ctx context.Context, userID, questionID uint, language string) (models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND question_id = ? AND language = ?", userID, questionID, language).
		First(&submission).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *submissionRepository) ListAssessment(ctx context.Context, filter AssessmentSubmissionFilter) ([]models.AssessmentSubmission, error) {
	query := r.db.WithContext(ctx).Model(&models.AssessmentSubmission{})

	if filter.AssessmentID != nil {
		query = query.Where("assessment_id = ?", *filter.AssessmentID)
	}
	if filter.QuestionID != nil {
		query = query.Where("question_id = ?", *filter.QuestionID)
	}
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}

	var submissions []models.AssessmentSubmission
	if err := query.Order("assessment_id, question_id, id").Find(&submissions).Error; err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *submissionRepository) ListPeerSources(ctx context.Context, assessmentID, questionID, excludeUserID uint) ([]string, error) {
	var sources []string
	err := r.db.WithContext(ctx).Model(&models.AssessmentSubmission{}).
		Where("assessment_id = ? AND question_id = ? AND user_id <> ?", assessmentID, questionID, excludeUserID).
		Order("id").
		Pluck("source", &sources).Error
	if err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *submissionRepository) UpdateAssessmentFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.AssessmentSubmission{}).Where("id = ?", id).Updates(fields).Error
}
