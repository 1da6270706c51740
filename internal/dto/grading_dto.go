package dto

import (
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/similarity"
)

// MaxSourceBytes bounds the encoded size of a submitted program. The validate tag on Source
// counts runes, so the byte limit is enforced by the grading service.
const MaxSourceBytes = 64 * 1024

// GradingRequest is the payload for submitting code for grading.
type GradingRequest struct {
	QuestionID   uint   `json:"question_id" validate:"required,gt=0"`
	AssessmentID *uint  `json:"assessment_id,omitempty" validate:"omitempty,gt=0"`
	Language     string `json:"language" validate:"required,max=32"`
	Source       string `json:"source" validate:"required,max=65536"`
}

// GradingJob is one unit of grading work handed to the worker pool.
type GradingJob struct {
	ID            string    `json:"id"`
	UserID        uint      `json:"user_id"`
	QuestionID    uint      `json:"question_id"`
	AssessmentID  *uint     `json:"assessment_id,omitempty"`
	Language      string    `json:"language"`
	Source        string    `json:"source"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// IsAssessment reports whether the job grades an assessment answer.
func (j GradingJob) IsAssessment() bool {
	return j.AssessmentID != nil
}

// Kind labels the job for metrics and logs.
func (j GradingJob) Kind() string {
	if j.IsAssessment() {
		return "assessment"
	}
	return "practice"
}

// GradingResult is the final verdict returned to the polling client.
type GradingResult struct {
	Status          models.SubmissionStatus `json:"status"`
	Verdicts        []models.TestVerdict    `json:"verdicts"`
	Passed          int                     `json:"passed"`
	Total           int                     `json:"total"`
	Error           string                  `json:"error,omitempty"`
	Score           float64                 `json:"score"`
	RawScore        *float64                `json:"raw_score,omitempty"`
	Similarity      *similarity.Signals     `json:"similarity,omitempty"`
	ModuleCompleted bool                    `json:"module_completed,omitempty"`
}

// JobState is the lifecycle state of a grading job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Finished reports whether the state is terminal.
func (s JobState) Finished() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// JobStatus is the polled view of a grading job.
type JobStatus struct {
	JobID       string         `json:"job_id"`
	UserID      uint           `json:"user_id"`
	State       JobState       `json:"status"`
	Ready       bool           `json:"ready"`
	Result      *GradingResult `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// JobAcceptedResponse acknowledges a queued grading job.
type JobAcceptedResponse struct {
	JobID  string   `json:"job_id"`
	Status JobState `json:"status"`
}
