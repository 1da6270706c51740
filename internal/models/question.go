package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// DefaultQuestionMarks is the mark value of a coding question when none is configured.
const DefaultQuestionMarks = 5.0

// Module groups practice questions; solving all of them completes the module.
type Module struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Title     string     `gorm:"size:255;not null" json:"title"`
	Questions []Question `json:"questions,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Question is a coding exercise with its published test cases.
type Question struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	ModuleID  *uint          `gorm:"index" json:"module_id"`
	Title     string         `gorm:"size:255;not null" json:"title"`
	Marks     float64        `gorm:"default:5" json:"marks"`
	TestCases datatypes.JSON `json:"test_cases"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Cases decodes the question's test cases.
func (q Question) Cases() ([]TestCase, error) {
	if len(q.TestCases) == 0 {
		return nil, nil
	}
	var cases []TestCase
	if err := json.Unmarshal(q.TestCases, &cases); err != nil {
		return nil, err
	}
	return cases, nil
}

// MarksOrDefault returns the configured marks, falling back to DefaultQuestionMarks.
func (q Question) MarksOrDefault() float64 {
	if q.Marks <= 0 {
		return DefaultQuestionMarks
	}
	return q.Marks
}

// ModuleCompletion marks that a user solved every question in a module.
type ModuleCompletion struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;uniqueIndex:idx_module_completion" json:"user_id"`
	ModuleID    uint      `gorm:"not null;uniqueIndex:idx_module_completion" json:"module_id"`
	CompletedAt time.Time `json:"completed_at"`
}
