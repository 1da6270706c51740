package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/similarity"
)

func setupGradingDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Module{},
		&models.Question{},
		&models.ModuleCompletion{},
		&models.Submission{},
		&models.Assessment{},
		&models.AssessmentSession{},
		&models.AssessmentSubmission{},
		&models.QuizAttempt{},
	))
	return db
}

func testCasesJSON(t *testing.T, cases ...models.TestCase) datatypes.JSON {
	t.Helper()
	payload, err := json.Marshal(cases)
	require.NoError(t, err)
	return datatypes.JSON(payload)
}

// stubEvaluator returns a canned result and records what it was asked to run.
type stubEvaluator struct {
	mu     sync.Mutex
	result grading.EvaluationResult
	cases  []models.TestCase
	calls  int
}

func (s *stubEvaluator) Evaluate(_ context.Context, _ string, _ string, cases []models.TestCase) grading.EvaluationResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.cases = cases
	return s.result
}

type stubScorer struct {
	signals similarity.Signals
	peers   []string
}

func (s *stubScorer) Score(_ context.Context, _ string, peers []string) similarity.Signals {
	s.peers = peers
	return s.signals
}

func acceptedVerdicts(n int) []models.TestVerdict {
	verdicts := make([]models.TestVerdict, 0, n)
	for i := 0; i < n; i++ {
		verdicts = append(verdicts, models.TestVerdict{
			Input:          fmt.Sprintf("%d", i),
			ExpectedOutput: []string{"ok"},
			ActualOutput:   []string{"ok"},
			Status:         models.SubmissionStatusAccepted,
		})
	}
	return verdicts
}
