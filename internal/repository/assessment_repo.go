package repository

import (
	"context"
	"database/sql"
	"slices"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

// AssessmentRepository reads assessments, sessions and quiz attempts.
type AssessmentRepository interface {
	GetByID(ctx context.Context, id uint) (models.Assessment, error)
	ListIDs(ctx context.Context) ([]uint, error)
	ListSessions(ctx context.Context, assessmentID uint) ([]models.AssessmentSession, error)
	BestQuizScore(ctx context.Context, userID, assessmentID uint) (float64, error)
	UpdateSessionFields(ctx context.Context, id uint, fields map[string]interface{}) error
}

type assessmentRepository struct {
	db *gorm.DB
}

// NewAssessmentRepository constructs an assessment repository.
func NewAssessmentRepository(db *gorm.DB) AssessmentRepository {
	return &assessmentRepository{db: db}
}

func (r *assessmentRepository) GetByID(ctx context.Context, id uint) (models.Assessment, error) {
	var assessment models.Assessment
	if err := r.db.WithContext(ctx).First(&assessment, id).Error; err != nil {
		return models.Assessment{}, err
	}
	return assessment, nil
}

// ListIDs returns every assessment id referenced by a submission or a session.
func (r *assessmentRepository) ListIDs(ctx context.Context) ([]uint, error) {
	var fromSubmissions []uint
	if err := r.db.WithContext(ctx).Model(&models.AssessmentSubmission{}).
		Distinct().Pluck("assessment_id", &fromSubmissions).Error; err != nil {
		return nil, err
	}

	var fromSessions []uint
	if err := r.db.WithContext(ctx).Model(&models.AssessmentSession{}).
		Distinct().Pluck("assessment_id", &fromSessions).Error; err != nil {
		return nil, err
	}

	return mergeIDs(fromSubmissions, fromSessions), nil
}

func (r *assessmentRepository) ListSessions(ctx context.Context, assessmentID uint) ([]models.AssessmentSession, error) {
	var sessions []models.AssessmentSession
	if err := r.db.WithContext(ctx).
		Where("assessment_id = ?", assessmentID).
		Order("user_id").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *assessmentRepository) BestQuizScore(ctx context.Context, userID, assessmentID uint) (float64, error) {
	var best sql.NullFloat64
	row := r.db.WithContext(ctx).Model(&models.QuizAttempt{}).
		Select("MAX(score)").
		Where("user_id = ? AND assessment_id = ?", userID, assessmentID).
		Row()
	if err := row.Scan(&best); err != nil {
		return 0, err
	}
	if !best.Valid {
		return 0, nil
	}
	return best.Float64, nil
}

func (r *assessmentRepository) UpdateSessionFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.AssessmentSession{}).Where("id = ?", id).Updates(fields).Error
}

func mergeIDs(groups ...[]uint) []uint {
	seen := make(map[uint]struct{})
	merged := make([]uint, 0)
	for _, group := range groups {
		for _, id := range group {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	slices.Sort(merged)
	return merged
}
