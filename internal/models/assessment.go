package models

import "time"

// Assessment is a timed evaluation containing coding questions and a quiz.
type Assessment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AssessmentSession tracks a user's attempt at an assessment and its plagiarism penalty.
type AssessmentSession struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;uniqueIndex:idx_assessment_session" json:"user_id"`
	AssessmentID   uint       `gorm:"not null;uniqueIndex:idx_assessment_session" json:"assessment_id"`
	StartTime      time.Time  `gorm:"not null" json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	PenaltyPercent float64    `gorm:"default:0" json:"penalty_percent"`
	PenaltyFactor  float64    `gorm:"default:1" json:"penalty_factor"`
	RawTotal       float64    `gorm:"default:0" json:"raw_total"`
	PenalizedTotal float64    `gorm:"default:0" json:"penalized_total"`
	PenaltyApplied bool       `gorm:"default:false" json:"penalty_applied"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsFinished reports whether the session has been completed.
func (s AssessmentSession) IsFinished() bool {
	return s.EndTime != nil
}

// QuizAttempt stores one scored quiz attempt of a user inside an assessment.
type QuizAttempt struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;index:idx_quiz_attempt_user_assessment" json:"user_id"`
	AssessmentID uint      `gorm:"not null;index:idx_quiz_attempt_user_assessment" json:"assessment_id"`
	Score        float64   `gorm:"default:0" json:"score"`
	CreatedAt    time.Time `json:"created_at"`
}
