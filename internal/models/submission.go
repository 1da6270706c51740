package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SubmissionStatus describes the grading outcome of a submission or a single test.
type SubmissionStatus string

const (
	SubmissionStatusPending  SubmissionStatus = "Pending"
	SubmissionStatusAccepted SubmissionStatus = "Accepted"
	SubmissionStatusRejected SubmissionStatus = "Rejected"
	SubmissionStatusError    SubmissionStatus = "Error"
)

// SimilarityFields holds the plagiarism signals folded into a submission row.
type SimilarityFields struct {
	PlagiarismPercent    float64 `gorm:"default:0" json:"plagiarism_percent"`
	TokenSimilarity      float64 `gorm:"default:0" json:"token_similarity"`
	StructuralSimilarity float64 `gorm:"default:0" json:"structural_similarity"`
	AIGeneratedProb      float64 `gorm:"column:ai_generated_prob;default:0" json:"ai_generated_prob"`
}

// Submission is the current practice attempt of a user for a question in one language.
// Exactly one row exists per (user, question, language).
type Submission struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	UserID           uint             `gorm:"not null;uniqueIndex:idx_submission_key" json:"user_id"`
	QuestionID       uint             `gorm:"not null;uniqueIndex:idx_submission_key" json:"question_id"`
	Language         string           `gorm:"size:32;not null;uniqueIndex:idx_submission_key" json:"language"`
	Source           string           `gorm:"type:text" json:"source"`
	Status           SubmissionStatus `gorm:"size:16;not null" json:"status"`
	Verdicts         datatypes.JSON   `json:"verdicts"`
	Error            string           `gorm:"type:text" json:"error"`
	Score            float64          `gorm:"default:0" json:"score"`
	SimilarityFields `gorm:"embedded"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DecodedVerdicts returns the stored per-test verdicts.
func (s Submission) DecodedVerdicts() ([]TestVerdict, error) {
	return DecodeVerdicts(s.Verdicts)
}

// AssessmentSubmission is the current attempt of a user for a question inside an assessment.
// Exactly one row exists per (user, assessment, question, language).
type AssessmentSubmission struct {
	ID               uint             `gorm:"primaryKey" json:"id"`
	UserID           uint             `gorm:"not null;uniqueIndex:idx_assessment_submission_key" json:"user_id"`
	AssessmentID     uint             `gorm:"not null;uniqueIndex:idx_assessment_submission_key;index" json:"assessment_id"`
	QuestionID       uint             `gorm:"not null;uniqueIndex:idx_assessment_submission_key" json:"question_id"`
	Language         string           `gorm:"size:32;not null;uniqueIndex:idx_assessment_submission_key" json:"language"`
	Source           string           `gorm:"type:text" json:"source"`
	Status           SubmissionStatus `gorm:"size:16;not null" json:"status"`
	Verdicts         datatypes.JSON   `json:"verdicts"`
	Error            string           `gorm:"type:text" json:"error"`
	RawScore         *float64         `json:"raw_score"`
	Score            float64          `gorm:"default:0" json:"score"`
	SimilarityFields `gorm:"embedded"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DecodedVerdicts returns the stored per-test verdicts.
func (s AssessmentSubmission) DecodedVerdicts() ([]TestVerdict, error) {
	return DecodeVerdicts(s.Verdicts)
}

// EncodeVerdicts serialises verdicts into the persisted JSON column.
func EncodeVerdicts(verdicts []TestVerdict) (datatypes.JSON, error) {
	if verdicts == nil {
		verdicts = []TestVerdict{}
	}
	payload, err := json.Marshal(verdicts)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(payload), nil
}

// DecodeVerdicts parses a persisted verdict column. Empty columns decode to no verdicts.
func DecodeVerdicts(raw datatypes.JSON) ([]TestVerdict, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var verdicts []TestVerdict
	if err := json.Unmarshal(raw, &verdicts); err != nil {
		return nil, err
	}
	return verdicts, nil
}
