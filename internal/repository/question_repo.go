package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-grader/internal/models"
)

// QuestionRepository reads questions and tracks module progress.
type QuestionRepository interface {
	GetByID(ctx context.Context, id uint) (models.Question, error)
	ModuleProgress(ctx context.Context, userID, moduleID uint) (total int64, accepted int64, err error)
	MarkModuleCompleted(ctx context.Context, userID, moduleID uint, at time.Time) (bool, error)
}

type questionRepository struct {
	db *gorm.DB
}

// NewQuestionRepository constructs a question repository.
func NewQuestionRepository(db *gorm.DB) QuestionRepository {
	return &questionRepository{db: db}
}

func (r *questionRepository) GetByID(ctx context.Context, id uint) (models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).First(&question, id).Error; err != nil {
		return models.Question{}, err
	}
	return question, nil
}

func (r *questionRepository) ModuleProgress(ctx context.Context, userID, moduleID uint) (int64, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Question{}).
		Where("module_id = ?", moduleID).
		Count(&total).Error; err != nil {
		return 0, 0, err
	}

	var accepted int64
	if err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Joins("JOIN questions ON questions.id = submissions.question_id").
		Where("submissions.user_id = ? AND submissions.status = ? AND questions.module_id = ?", userID, models.SubmissionStatusAccepted, moduleID).
		Distinct("submissions.question_id").
		Count(&accepted).Error; err != nil {
		return 0, 0, err
	}

	return total, accepted, nil
}

// MarkModuleCompleted records the completion marker; it reports false when the marker already existed.
func (r *questionRepository) MarkModuleCompleted(ctx context.Context, userID, moduleID uint, at time.Time) (bool, error) {
	completion := models.ModuleCompletion{UserID: userID, ModuleID: moduleID, CompletedAt: at}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&completion)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
